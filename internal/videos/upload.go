package videos

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultAllowedMediaTypes are the clip formats phones and browsers record.
var DefaultAllowedMediaTypes = []string{"video/mp4", "video/quicktime", "video/webm", "video/3gpp"}

// DefaultMaxBytes bounds a decoded clip.
const DefaultMaxBytes int64 = 50 << 20

// Policy constrains what an upload may contain.
type Policy struct {
	MaxBytes          int64
	AllowedMediaTypes []string
}

// NewPolicy fills unset fields with defaults.
func NewPolicy(maxBytes int64, allowed []string) Policy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedMediaTypes
	}
	normalised := make([]string, 0, len(allowed))
	for _, mt := range allowed {
		if mt = strings.ToLower(strings.TrimSpace(mt)); mt != "" {
			normalised = append(normalised, mt)
		}
	}
	return Policy{MaxBytes: maxBytes, AllowedMediaTypes: normalised}
}

// Allows reports whether mediaType is accepted.
func (p Policy) Allows(mediaType string) bool {
	mediaType = strings.ToLower(mediaType)
	for _, allowed := range p.AllowedMediaTypes {
		if allowed == mediaType {
			return true
		}
	}
	return false
}

// Decode validates and decodes an uploaded data URI. The size limit is checked
// against the encoded length before any decoding happens.
func (p Policy) Decode(videoData string) (DataURI, error) {
	mediaType, payload, err := ParseDataURIHeader(videoData)
	if err != nil {
		return DataURI{}, err
	}
	if !p.Allows(mediaType) {
		return DataURI{}, fmt.Errorf("%w: %s", ErrMediaTypeNotAllowed, mediaType)
	}
	if p.MaxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > p.MaxBytes+2 {
		return DataURI{}, ErrMediaTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return DataURI{}, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	if p.MaxBytes > 0 && int64(len(data)) > p.MaxBytes {
		return DataURI{}, ErrMediaTooLarge
	}
	return DataURI{MediaType: mediaType, Data: data}, nil
}
