package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTML_Markdown(t *testing.T) {
	r := New()
	out := string(r.HTML("**bold** and `code`"))
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<code>code</code>")
}

func TestHTML_StripsScripts(t *testing.T) {
	r := New()
	out := string(r.HTML("hi <script>alert(1)</script><img src=x onerror=alert(1)>"))
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "onerror")
}

func TestHTML_LinksAreNoFollow(t *testing.T) {
	out := string(New().HTML("[site](https://example.com)"))
	assert.Contains(t, out, `rel="nofollow`)
	assert.Contains(t, out, `href="https://example.com"`)
}

func TestHTML_RawJSONStaysReadable(t *testing.T) {
	out := string(New().HTML(`{"reply":"ok"}`))
	assert.True(t, strings.Contains(out, "reply") && strings.Contains(out, "ok"), out)
}

func TestPlain(t *testing.T) {
	assert.Equal(t, "hello world", New().Plain("<b>hello</b> world"))
}
