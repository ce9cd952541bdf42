package images

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngByte = []byte{0x89, 0x50, 0x4e, 0x47}

func TestWriteAllDecodesToFiles(t *testing.T) {
	dir := t.TempDir()
	encoded := base64.StdEncoding.EncodeToString(pngByte)

	paths, err := WriteAll(dir, []Attachment{
		{Data: encoded, MediaType: "image/png"},
		{Data: "data:image/jpeg;base64," + encoded, MediaType: "image/jpeg"},
	})
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths", len(paths))
	}
	if !strings.HasSuffix(paths[0], ".png") || !strings.HasSuffix(paths[1], ".jpg") {
		t.Fatalf("extensions: %v", paths)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != string(pngByte) {
			t.Fatalf("content mismatch in %s", p)
		}
		if filepath.Dir(p) != dir {
			t.Fatalf("wrote outside dir: %s", p)
		}
	}
}

func TestWriteAllEmpty(t *testing.T) {
	paths, err := WriteAll(t.TempDir(), nil)
	if err != nil || paths != nil {
		t.Fatalf("got %v, %v", paths, err)
	}
}

func TestWriteAllBadBase64(t *testing.T) {
	if _, err := WriteAll(t.TempDir(), []Attachment{{Data: "!!not base64!!", MediaType: "image/png"}}); err == nil {
		t.Fatal("expected error")
	}
}
