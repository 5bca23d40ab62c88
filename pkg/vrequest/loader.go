package vrequest

// Loader supplies the URL of a request and receives its decoded result.
// It is used to chain dependent requests such as the pages of an API.
type Loader[T any] interface {
	// URL is called once when the request is dispatched.
	URL() string

	// OnSuccess receives the decoded result before the success listener.
	OnSuccess(result *T)
}
