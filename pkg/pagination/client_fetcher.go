package pagination

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/andyfriends/vrequest/pkg/client"
)

// PagesHeader announces the total page count of an endpoint.
const PagesHeader = "X-Pages"

// ClientPageFetcher implements PageFetcher on the network client.
type ClientPageFetcher struct {
	client *client.Client

	// PageParam is the page query parameter, DefaultPageParam when empty.
	PageParam string

	// NewPolicy returns the retry policy of each page request. Nil uses
	// client.NewDefaultRetryPolicy.
	NewPolicy func() client.RetryPolicy
}

// NewClientPageFetcher creates a page fetcher on c.
func NewClientPageFetcher(c *client.Client) *ClientPageFetcher {
	return &ClientPageFetcher{client: c}
}

// FetchPage implements PageFetcher. A missing X-Pages header means one page.
func (f *ClientPageFetcher) FetchPage(ctx context.Context, endpoint string, pageNum int) ([]byte, int, error) {
	pageURL, err := PageURL(endpoint, f.PageParam, pageNum)
	if err != nil {
		return nil, 0, err
	}

	var policy client.RetryPolicy
	if f.NewPolicy != nil {
		policy = f.NewPolicy()
	}

	resp, err := f.client.Perform(ctx, &client.Request{
		Method: http.MethodGet,
		URL:    pageURL,
		Cache:  true,
	}, policy)
	if err != nil {
		return nil, 0, err
	}

	totalPages := 1
	if v := resp.Header.Get(PagesHeader); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, fmt.Errorf("parse %s header: %w", PagesHeader, err)
		}
		totalPages = n
	}

	return resp.Body, totalPages, nil
}
