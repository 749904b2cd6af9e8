package domain

import "strings"

// EntryType identifies who produced a conversation entry.
type EntryType string

const (
	EntryUser   EntryType = "user"
	EntryBot    EntryType = "bot"
	EntrySystem EntryType = "system"
)

// Entry is one unit of conversation history.
type Entry struct {
	Type    EntryType `json:"type"`
	Content string    `json:"content"`
	Image   string    `json:"image,omitempty"` // data URI
}

var legacyPrefixes = []struct {
	prefix string
	typ    EntryType
}{
	{"User:", EntryUser},
	{"Bot:", EntryBot},
	{"System:", EntrySystem},
}

// Speaker returns the stored type, or infers it from a "User:"/"Bot:" prefix
// for entries recorded without one.
func (e Entry) Speaker() EntryType {
	if e.Type != "" {
		return e.Type
	}
	for _, p := range legacyPrefixes {
		if strings.HasPrefix(e.Content, p.prefix) {
			return p.typ
		}
	}
	return EntryBot
}

// Text returns the content with any legacy speaker prefix removed.
func (e Entry) Text() string {
	if e.Type != "" {
		return e.Content
	}
	for _, p := range legacyPrefixes {
		if strings.HasPrefix(e.Content, p.prefix) {
			return strings.TrimSpace(strings.TrimPrefix(e.Content, p.prefix))
		}
	}
	return e.Content
}
