package derivative

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNl2br(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"one line":   "one line",
		"a\nb":       "a<br />\nb",
		"a\r\nb":     "a<br />\r\nb",
		"a\n\rb":     "a<br />\n\rb",
		"a\n\nb":     "a<br />\n<br />\nb",
		"trailing\n": "trailing<br />\n",
		"mac\rline":  "mac<br />\rline",
	}
	for in, want := range tests {
		assert.Equal(t, want, nl2br(in), "%q", in)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("image/png; q=1", "a.bin"))
	assert.Equal(t, "image/png", contentType("", "a/b.png"))
	assert.Equal(t, "application/octet-stream", contentType("", "a/b.unknownext"))
}

func TestDirnameBasename(t *testing.T) {
	assert.Equal(t, "2024-03", dirname("2024-03/a.bin"))
	assert.Equal(t, "", dirname("a.bin"))
	assert.Equal(t, "a.bin", basename("2024-03/a.bin"))
	assert.Equal(t, "a.bin", basename("a.bin"))
}
