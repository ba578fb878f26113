package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

const defaultMimeType = "image/png"

var (
	ErrEmpty   = errors.New("image payload is empty")
	ErrInvalid = errors.New("image payload is invalid")
	ErrTooBig  = errors.New("image is too large")
)

// Payload is base64 image data tagged with its MIME type. Its embedded form is a
// data URL.
type Payload struct {
	MimeType string
	Data     string
}

// Media type parameters such as ";name=x.jpg" may precede ";base64,".
var dataURLRegex = regexp.MustCompile(`^data:([^;,]+)(?:;[^;,]*)*;base64,`)

func FromBytes(data []byte, mimeType string) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, ErrEmpty
	}
	return Payload{
		MimeType: normalizeMimeType(mimeType, data),
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// FromReader reads r to EOF. A limit <= 0 disables the size check.
func FromReader(r io.Reader, mimeType string, limit int64) (Payload, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, fmt.Errorf("read image: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return Payload{}, fmt.Errorf("%w: exceeds %d bytes", ErrTooBig, limit)
	}
	return FromBytes(data, mimeType)
}

// Parse accepts either a data URL or bare base64. Bare input gets its MIME type
// sniffed from the decoded bytes.
func Parse(value string) (Payload, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Payload{}, ErrEmpty
	}

	mimeType := ""
	if m := dataURLRegex.FindStringSubmatch(value); len(m) == 2 {
		mimeType = strings.TrimSpace(m[1])
		value = value[len(m[0]):]
	} else if strings.HasPrefix(value, "data:") {
		return Payload{}, fmt.Errorf("%w: unsupported data url", ErrInvalid)
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(raw) == 0 {
		return Payload{}, ErrEmpty
	}

	return Payload{
		MimeType: normalizeMimeType(mimeType, raw),
		Data:     value,
	}, nil
}

// StripPrefix drops a leading "data:...;base64," if present.
func StripPrefix(value string) string {
	if m := dataURLRegex.FindString(value); m != "" {
		return value[len(m):]
	}
	return value
}

func (p Payload) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MimeType, p.Data)
}

func (p Payload) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return raw, nil
}

func (p Payload) IsZero() bool {
	return p.Data == ""
}

// IsImageType reports whether a Content-Type header value names an image.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(baseMimeType(contentType), "image/")
}

func normalizeMimeType(mimeType string, data []byte) string {
	mimeType = baseMimeType(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = baseMimeType(http.DetectContentType(data))
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = defaultMimeType
	}
	return mimeType
}

func baseMimeType(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, ";") {
		value = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
	}
	return strings.ToLower(value)
}
