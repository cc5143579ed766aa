package session

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is an image attached to an outgoing message, sent inline as a
// data URL.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// AttachmentFromFile loads an image file into an attachment, inferring the
// MIME type from the extension.
func AttachmentFromFile(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return Attachment{
		Name: filepath.Base(path),
		MIME: mimeType,
		Data: data,
	}, nil
}

// DataURL encodes the attachment as a base64 data URL.
func (a Attachment) DataURL() string {
	return "data:" + a.MIME + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIME, "image/")
}
