package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestFieldsSkipsBadKeys(t *testing.T) {
	f := fields([]any{"owner", "u1", 42, "ignored", "count", 3, "dangling"})
	assert.Equal(t, "u1", f["owner"])
	assert.Equal(t, 3, f["count"])
	assert.Len(t, f, 2)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	SetLevel(LevelError)
	Info("hidden", "k", "v")
	assert.Empty(t, buf.String())

	Error("visible", errors.New("boom"), "owner", "u1")
	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "owner=u1")
}
