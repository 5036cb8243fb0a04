package videos

import "errors"

var (
	// ErrInvalidDataURI indicates video_data is not a base64 data URI.
	ErrInvalidDataURI = errors.New("video_data must be a base64 data URI")
	// ErrMediaTooLarge indicates the decoded clip exceeds the upload limit.
	ErrMediaTooLarge = errors.New("video exceeds the maximum upload size")
	// ErrMediaTypeNotAllowed indicates the clip's media type is not accepted.
	ErrMediaTypeNotAllowed = errors.New("video media type not allowed")
)
