package automation

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
)

// File is an upload payload.
type File struct {
	Name string
	MIME string
	Data []byte
}

var dataURLRe = regexp.MustCompile(`^data:([^;]+);base64,(.*)$`)

// DecodeDataURL parses a base64 data URL into a File named name.
func DecodeDataURL(dataURL, name string) (File, error) {
	m := dataURLRe.FindStringSubmatch(strings.TrimSpace(dataURL))
	if m == nil {
		return File{}, ErrInvalidImage
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if name == "" {
		name = "upload"
	}
	return File{Name: name, MIME: m[1], Data: data}, nil
}

// EncodeDataURL builds a data URL for data, taking the MIME type from the
// content and falling back to the file name's extension.
func EncodeDataURL(name string, data []byte) string {
	mt := sniffMIME(data)
	if mt == "" {
		mt = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	if mt == "" {
		mt = "application/octet-stream"
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func sniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return ""
}
