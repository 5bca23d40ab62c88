// Package codec encodes request bodies and decodes response payloads.
//
// JSON handling is backed by github.com/goccy/go-json. Date fields use the
// fixed layout DateLayout through the Time type.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/net/html/charset"
)

const (
	// Charset is the charset of every encoded request body.
	Charset = "utf-8"

	// ContentType is the content type of every encoded request body.
	ContentType = "application/json; charset=" + Charset
)

// RawMessage is an undecoded JSON value.
type RawMessage = json.RawMessage

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return json.Valid(data)
}

// DecodeCharset converts body to UTF-8 according to the charset parameter of
// contentType. A missing or empty charset means UTF-8.
func DecodeCharset(contentType string, body []byte) ([]byte, error) {
	label := charsetLabel(contentType)
	if label == "" || strings.EqualFold(label, Charset) || strings.EqualFold(label, "utf8") {
		return body, nil
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", label, err)
	}
	return decoded, nil
}

func charsetLabel(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}
