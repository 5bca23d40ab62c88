package pagination

import (
	"fmt"
	"net/url"
	"strconv"
)

// DefaultPageParam is the query parameter carrying the page number.
const DefaultPageParam = "page"

// PageURL returns rawURL with its page parameter set to page.
func PageURL(rawURL, param string, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if param == "" {
		param = DefaultPageParam
	}

	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
