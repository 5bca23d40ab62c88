package pagination

import (
	"errors"
	"sync"

	"github.com/andyfriends/vrequest/pkg/vrequest"
	"github.com/rs/zerolog/log"
)

// ErrUndecodablePage is passed to Done when a page could not be decoded.
var ErrUndecodablePage = errors.New("page could not be decoded")

// Cursor walks the pages of an endpoint one request at a time. It is the
// Loader of every page request it dispatches.
type Cursor[T any] struct {
	// BaseURL is the endpoint without the page parameter.
	BaseURL string

	// PageParam is the page query parameter, DefaultPageParam when empty.
	PageParam string

	// FirstPage is the number of the first page, 1 when zero.
	FirstPage int

	// Tag groups the page requests for cancellation. Defaults to BaseURL.
	Tag string

	// OnPage receives every decoded page. result is nil for an empty body.
	OnPage func(page int, result *T)

	// HasMore decides whether to fetch the page after page. Nil stops after
	// the first page.
	HasMore func(page int, result *T) bool

	// Done is called once, with nil after the last page or with the first error.
	Done func(err error)

	// Configure customizes each page request before dispatch, e.g. headers.
	// It must not replace the listeners.
	Configure func(req *vrequest.Request[T])

	mu       sync.Mutex
	app      *vrequest.App
	page     int
	current  *pageState
	finished bool
}

// pageState tracks whether the in-flight page reached OnSuccess.
type pageState struct {
	delivered bool
}

var _ vrequest.Loader[struct{}] = (*Cursor[struct{}])(nil)

// NewCursor creates a cursor over baseURL.
func NewCursor[T any](baseURL string) *Cursor[T] {
	return &Cursor[T]{BaseURL: baseURL}
}

// Start dispatches the first page through the request manager of app.
func (c *Cursor[T]) Start(app *vrequest.App) {
	c.mu.Lock()
	c.app = app
	c.page = c.FirstPage
	if c.page == 0 {
		c.page = 1
	}
	c.finished = false
	c.mu.Unlock()

	c.fetch()
}

// Page returns the number of the page being fetched.
func (c *Cursor[T]) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// URL implements vrequest.Loader.
func (c *Cursor[T]) URL() string {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()

	u, err := PageURL(c.BaseURL, c.PageParam, page)
	if err != nil {
		log.Warn().Err(err).Str("url", c.BaseURL).Msg("Invalid cursor base url")
		return c.BaseURL
	}
	return u
}

// OnSuccess implements vrequest.Loader. It hands the page to OnPage and
// dispatches the next page while HasMore reports more.
func (c *Cursor[T]) OnSuccess(result *T) {
	c.mu.Lock()
	page := c.page
	if c.current != nil {
		c.current.delivered = true
	}
	c.mu.Unlock()

	if c.OnPage != nil {
		c.OnPage(page, result)
	}

	if c.HasMore == nil || !c.HasMore(page, result) {
		c.finish(nil)
		return
	}

	c.mu.Lock()
	c.page++
	c.mu.Unlock()
	c.fetch()
}

func (c *Cursor[T]) fetch() {
	state := &pageState{}

	c.mu.Lock()
	c.current = state
	app := c.app
	c.mu.Unlock()

	tag := c.Tag
	if tag == "" {
		tag = c.BaseURL
	}

	req := vrequest.New[T]().
		With(app).
		LoadFrom(c).
		OnSuccess(func(*T) {
			// The loader runs first; reaching here without it means the
			// page did not decode.
			c.mu.Lock()
			delivered := state.delivered
			c.mu.Unlock()
			if !delivered {
				c.finish(ErrUndecodablePage)
			}
		}).
		OnError(c.finish)

	if c.Configure != nil {
		c.Configure(req)
	}
	req.FetchTag(tag)
}

func (c *Cursor[T]) finish(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()

	if c.Done != nil {
		c.Done(err)
	}
}
