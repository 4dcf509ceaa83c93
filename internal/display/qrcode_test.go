package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShow(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Show("http://192.168.1.5:3000/download/abcd1234", "Sharing: notes.txt")

	out := buf.String()
	assert.Contains(t, out, "Sharing: notes.txt\n")
	assert.True(t, strings.HasSuffix(out, "URL: http://192.168.1.5:3000/download/abcd1234\n"))
	assert.True(t, strings.ContainsAny(out, blackWhite+whiteBlack+whiteWhite), "expected QR glyphs")
}
