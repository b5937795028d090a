package attach

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrMalformedDataURI = errors.New("malformed data uri")

// DataURI encodes data as `data:<mime>;base64,<payload>`.
func DataURI(mime string, data []byte) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data uri produced by DataURI. Media type
// parameters other than base64 (e.g. `codecs=opus`) are dropped.
func ParseDataURI(s string) (mime string, data []byte, err error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, ErrMalformedDataURI
	}
	i := strings.IndexByte(s, ',')
	if i < 0 {
		return "", nil, ErrMalformedDataURI
	}
	params := strings.Split(s[len("data:"):i], ";")
	if len(params) < 2 || params[len(params)-1] != "base64" {
		return "", nil, ErrMalformedDataURI
	}
	data, err = base64.StdEncoding.DecodeString(s[i+1:])
	if err != nil {
		return "", nil, ErrMalformedDataURI
	}
	return strings.ToLower(strings.TrimSpace(params[0])), data, nil
}
