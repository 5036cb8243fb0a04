package capture

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/geoclip/geoclip/internal/videos"
)

var extensionMediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".3gp":  "video/3gpp",
}

// EncodeFile reads the clip at path and returns it as a base64 data URI.
func EncodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &EncodingError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return "", &EncodingError{Path: path, Err: errors.New("clip is empty")}
	}
	return videos.EncodeDataURI(MediaType(path, data), data), nil
}

// MediaType picks the clip's type from its extension, then from its content.
func MediaType(path string, data []byte) string {
	if mediaType, ok := extensionMediaTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mediaType
	}
	mediaType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mediaType
}
