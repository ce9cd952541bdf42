// Package images materializes pasted image payloads as temp files the
// agent CLI can read through @-path references in the prompt.
package images

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Attachment is one pasted image: base64 data plus its media type.
type Attachment struct {
	Data      string `json:"data"`
	MediaType string `json:"mediaType"`
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// WriteAll decodes attachments into dir and returns their paths, in
// order. Data URL prefixes ("data:image/png;base64,") are tolerated.
func WriteAll(dir string, attachments []Attachment) ([]string, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	paths := make([]string, 0, len(attachments))
	for _, a := range attachments {
		data := a.Data
		if i := strings.Index(data, ","); i >= 0 && strings.HasPrefix(data, "data:") {
			data = data[i+1:]
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		path := filepath.Join(dir, uuid.New().String()+extensionFor(a.MediaType))
		if err := os.WriteFile(path, decoded, 0o644); err != nil {
			return nil, fmt.Errorf("write image: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
