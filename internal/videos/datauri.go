package videos

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
)

const dataURIPrefix = "data:"

// DataURI is a decoded data URI.
type DataURI struct {
	MediaType string
	Data      []byte
}

// EncodeDataURI renders data as "data:<mediaType>;base64,<payload>".
func EncodeDataURI(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	var b strings.Builder
	b.Grow(len(dataURIPrefix) + len(mediaType) + len(";base64,") + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(dataURIPrefix)
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// ParseDataURIHeader splits a data URI into its media type and base64 payload
// without decoding. Parameters such as codecs are dropped from the media type.
func ParseDataURIHeader(uri string) (mediaType, payload string, err error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return "", "", ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(uri[len(dataURIPrefix):], ",")
	if !ok {
		return "", "", ErrInvalidDataURI
	}

	params := strings.Split(header, ";")
	if len(params) < 2 || !strings.EqualFold(strings.TrimSpace(params[len(params)-1]), "base64") {
		return "", "", ErrInvalidDataURI
	}

	mediaType = "text/plain"
	if raw := strings.TrimSpace(strings.Join(params[:len(params)-1], ";")); raw != "" {
		mt, _, perr := mime.ParseMediaType(raw)
		if perr != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidDataURI, perr)
		}
		mediaType = mt
	}
	return mediaType, payload, nil
}

// ParseDataURI decodes a base64 data URI.
func ParseDataURI(uri string) (DataURI, error) {
	mediaType, payload, err := ParseDataURIHeader(uri)
	if err != nil {
		return DataURI{}, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return DataURI{MediaType: mediaType, Data: data}, nil
}
