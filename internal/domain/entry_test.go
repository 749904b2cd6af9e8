package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntry_SpeakerFromType(t *testing.T) {
	e := Entry{Type: EntryUser, Content: "Bot: looks like a bot"}
	assert.Equal(t, EntryUser, e.Speaker())
	assert.Equal(t, "Bot: looks like a bot", e.Text())
}

func TestEntry_SpeakerFromLegacyPrefix(t *testing.T) {
	cases := []struct {
		content string
		speaker EntryType
		text    string
	}{
		{"User: hello", EntryUser, "hello"},
		{"Bot: hi there", EntryBot, "hi there"},
		{"System: file too large", EntrySystem, "file too large"},
		{"no prefix", EntryBot, "no prefix"},
	}
	for _, tc := range cases {
		e := Entry{Content: tc.content}
		assert.Equal(t, tc.speaker, e.Speaker(), tc.content)
		assert.Equal(t, tc.text, e.Text(), tc.content)
	}
}
