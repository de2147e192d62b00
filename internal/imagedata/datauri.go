// Package imagedata implements the textual transport form of images used on the
// try-on wire: a data URI carrying an image MIME type and a base64 payload.
package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	// ErrMalformed reports a value that is not an image data URI.
	ErrMalformed = errors.New("imagedata: malformed image data uri")
	// ErrEmpty reports an empty value or an empty payload.
	ErrEmpty = errors.New("imagedata: empty image data")
)

// pattern is the single accepted shape: data:image/<subtype>;base64,<std base64>.
var pattern = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/]+={0,2})$`)

// Encode returns the data URI form of raw image bytes. The MIME type is sniffed
// from the content; unknown content is labelled application/octet-stream and
// will not pass Decode.
func Encode(data []byte) string {
	return EncodeAs(DetectMIME(data), data)
}

// EncodeAs returns the data URI form of data labelled with mime.
func EncodeAs(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DetectMIME sniffs the image MIME type of data.
func DetectMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// Valid reports whether s is a syntactically valid image data URI. It does not
// decode the payload.
func Valid(s string) bool {
	m := pattern.FindStringSubmatch(s)
	return m != nil && len(m[2])%4 == 0
}

// Decode splits an image data URI into its MIME type and decoded bytes.
func Decode(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, ErrEmpty
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return "", nil, ErrMalformed
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) == 0 {
		return "", nil, ErrEmpty
	}
	return strings.ToLower(m[1]), data, nil
}

// DecodeLoose accepts either a data URI or a bare standard base64 payload, the
// two shapes clients send to the resize endpoint.
func DecodeLoose(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(s, "data:") {
		_, data, err := Decode(s)
		return data, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}
