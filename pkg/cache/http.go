package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the freshness lifetime of responses without cache headers.
const DefaultTTL = 5 * time.Minute

// NewEntry builds an Entry from a response. ok is false when the response
// must not be stored (non-200 status or no-store/no-cache).
func NewEntry(statusCode int, header http.Header, body []byte) (*Entry, bool) {
	if statusCode != http.StatusOK {
		return nil, false
	}

	now := time.Now()
	expires, cacheable := Expiry(header, now)
	if !cacheable {
		return nil, false
	}

	entry := &Entry{
		Data:       append([]byte(nil), body...),
		ETag:       header.Get("ETag"),
		Expires:    expires,
		StatusCode: statusCode,
		Headers:    header.Clone(),
		CachedAt:   now,
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, true
}

// Expiry derives the expiry of a response from Cache-Control and Expires.
// The boolean is false when the response forbids storing.
func Expiry(headers http.Header, now time.Time) (time.Time, bool) {
	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-store", directive == "no-cache":
				return time.Time{}, false
			case strings.HasPrefix(directive, "max-age="):
				secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
				if err == nil && secs >= 0 {
					return now.Add(time.Duration(secs) * time.Second), true
				}
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL), true
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL), true
	}
	if expires.Before(now) {
		return now, true
	}
	return expires, true
}

// AddConditionalHeaders adds If-None-Match or If-Modified-Since to header
// when the entry carries a validator. ETag is preferred.
func AddConditionalHeaders(header http.Header, entry *Entry) {
	if header == nil || entry == nil {
		return
	}

	if entry.ETag != "" {
		header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
