package ingest

import (
	"mime"
	"path/filepath"
	"strings"
)

const genericContentType = "application/octet-stream"

// videoTypes covers containers the system mime table often lacks.
var videoTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".3gp":  "video/3gpp",
}

// InferContentType keeps a specific declared type and otherwise derives one
// from the file extension.
func InferContentType(declared, name string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err == nil && mediaType != genericContentType {
			return declared
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return genericContentType
	}
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return genericContentType
}
