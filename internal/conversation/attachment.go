package conversation

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"hookchat/internal/domain"
)

// DefaultMaxAttachmentBytes bounds the decoded size of an attachment.
const DefaultMaxAttachmentBytes = 5 << 20 // 5MB

// Attachment is a file picked by the user before submitting.
type Attachment struct {
	Name     string
	MimeType string // as declared by the client, may be empty
	Data     []byte
}

// AttachmentError reports why an attachment could not be encoded. The
// conversation records it as a system entry and skips the webhook call.
type AttachmentError struct {
	Name   string
	Reason string
	Err    error
}

func (e *AttachmentError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("attachment %q: %s", e.Name, e.Reason)
	}
	return "attachment: " + e.Reason
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// Encoded is an attachment ready to go into FormData.
type Encoded struct {
	DataURI  string
	Name     string
	MimeType string
}

// ApplyTo sets the file fields of f.
func (e Encoded) ApplyTo(f *domain.FormData) {
	f.FileDataURI = e.DataURI
	f.FileName = e.Name
	f.FileMimeType = e.MimeType
}

// EncodeAttachment checks that a is an image within maxBytes and returns
// it as a base64 data URI. The sniffed type wins; the declared type is
// used only when sniffing does not recognize an image (SVG, for one).
func EncodeAttachment(a *Attachment, maxBytes int64) (Encoded, error) {
	if len(a.Data) == 0 {
		return Encoded{}, &AttachmentError{Name: a.Name, Reason: "file is empty"}
	}
	if int64(len(a.Data)) > maxBytes {
		return Encoded{}, &AttachmentError{
			Name:   a.Name,
			Reason: fmt.Sprintf("file is larger than %d bytes", maxBytes),
		}
	}

	mime := http.DetectContentType(a.Data)
	if !strings.HasPrefix(mime, "image/") {
		declared, _, _ := strings.Cut(strings.TrimSpace(a.MimeType), ";")
		if !strings.HasPrefix(declared, "image/") {
			return Encoded{}, &AttachmentError{
				Name:   a.Name,
				Reason: fmt.Sprintf("only images can be attached (got %s)", mime),
			}
		}
		mime = declared
	}

	return Encoded{
		DataURI:  "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(a.Data),
		Name:     a.Name,
		MimeType: mime,
	}, nil
}

// DecodeDataURI turns a base64 data URI received from a client back into
// an Attachment so it can be checked like an uploaded file.
func DecodeDataURI(name, uri string, maxBytes int64) (*Attachment, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, &AttachmentError{Name: name, Reason: "not a data URI"}
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, &AttachmentError{Name: name, Reason: "data URI has no payload"}
	}
	declared, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, &AttachmentError{Name: name, Reason: "data URI must be base64 encoded"}
	}
	if !strings.HasPrefix(declared, "image/") {
		return nil, &AttachmentError{Name: name, Reason: fmt.Sprintf("only images can be attached (got %s)", declared)}
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, &AttachmentError{Name: name, Reason: fmt.Sprintf("file is larger than %d bytes", maxBytes)}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &AttachmentError{Name: name, Reason: "invalid base64 payload", Err: err}
	}
	return &Attachment{Name: name, MimeType: declared, Data: data}, nil
}
