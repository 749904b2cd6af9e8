package channel

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"hookchat/internal/conversation"
)

// parseForm parses multipart bodies with maxMemory, everything else as a
// urlencoded form.
func parseForm(r *http.Request, maxMemory int64) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return r.ParseMultipartForm(maxMemory)
	}
	return r.ParseForm()
}

// readAttachment returns the uploaded file in field, or nil when none was
// sent. The size check happens in conversation.EncodeAttachment.
func readAttachment(r *http.Request, field string) (*conversation.Attachment, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &conversation.Attachment{
		Name:     hdr.Filename,
		MimeType: hdr.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}
