package webhook

import (
	"encoding/json"
	"strings"
)

// Placeholder is shown when the webhook reply has nothing displayable.
const Placeholder = "The webhook returned an empty or unformatted message."

// Kind is the recognized shape of a webhook reply body.
type Kind int

const (
	KindEmpty         Kind = iota // empty body or empty JSON structure
	KindMessageObject             // {"message": "<non-empty>", ...}
	KindBareString                // "<non-empty>"
	KindObject                    // any other non-empty JSON object
	KindArray                     // non-empty JSON array
	KindText                      // not JSON at all
	KindUnrecognized              // JSON scalar: null, number, bool, ""
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindMessageObject:
		return "message-object"
	case KindBareString:
		return "bare-string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindText:
		return "text"
	default:
		return "unrecognized"
	}
}

// Metadata holds the optional fields a reply object may carry.
type Metadata struct {
	ID          string
	Status      string
	ProcessedAt string
}

// Body is a classified reply. Message is set for KindMessageObject and
// KindBareString; Raw always holds the original text.
type Body struct {
	Kind    Kind
	Raw     string
	Message string
	Meta    Metadata
}

// Parse classifies a raw reply body. It never fails: anything that does not
// decode as JSON is treated as plain text.
func Parse(raw []byte) Body {
	b := Body{Raw: string(raw)}
	trimmed := strings.TrimSpace(b.Raw)
	if trimmed == "" {
		b.Kind = KindEmpty
		return b
	}

	if !json.Valid([]byte(trimmed)) {
		b.Kind = KindText
		return b
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		b.Kind = KindText
		return b
	}

	switch t := v.(type) {
	case map[string]any:
		b.Meta = metadataOf(t)
		if msg, ok := t["message"].(string); ok && msg != "" {
			b.Kind = KindMessageObject
			b.Message = msg
			return b
		}
		if len(t) == 0 {
			b.Kind = KindEmpty
			return b
		}
		b.Kind = KindObject
	case []any:
		if len(t) == 0 {
			b.Kind = KindEmpty
			return b
		}
		b.Kind = KindArray
	case string:
		if t == "" {
			b.Kind = KindUnrecognized
			return b
		}
		b.Kind = KindBareString
		b.Message = t
	default:
		b.Kind = KindUnrecognized
	}
	return b
}

// Display returns the string to show for this body.
func (b Body) Display() string {
	switch b.Kind {
	case KindMessageObject, KindBareString:
		return b.Message
	case KindObject, KindArray, KindText:
		return b.Raw
	default:
		return Placeholder
	}
}

// Normalize maps any raw reply body onto a display string.
func Normalize(raw string) string {
	return Parse([]byte(raw)).Display()
}

func metadataOf(m map[string]any) Metadata {
	var md Metadata
	md.ID, _ = m["id"].(string)
	md.Status, _ = m["status"].(string)
	md.ProcessedAt, _ = m["processedAt"].(string)
	return md
}

// errorMessage pulls a "message" or "error" string out of an error reply.
func errorMessage(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if msg, ok := obj["message"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := obj["error"].(string); ok && msg != "" {
		return msg
	}
	return ""
}
