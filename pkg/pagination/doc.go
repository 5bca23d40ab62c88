// Package pagination walks paginated JSON APIs.
//
// Cursor chains page requests through the request manager: each page is a
// vrequest.Request whose Loader is the cursor, so the next page is
// dispatched as soon as the previous one is delivered.
//
//	cursor := pagination.NewCursor[[]Item]("https://api.example.com/items")
//	cursor.OnPage = func(page int, items *[]Item) { ... }
//	cursor.HasMore = func(page int, items *[]Item) bool { return items != nil && len(*items) > 0 }
//	cursor.Done = func(err error) { ... }
//	cursor.Start(app)
//
// BatchFetcher fetches every page of an endpoint that announces its page
// count in the X-Pages header, in parallel on a bounded worker pool:
//
//	fetcher := pagination.NewBatchFetcher(pagination.NewClientPageFetcher(c), pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, "https://api.example.com/orders")
package pagination
