package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogger_SingleServiceTag(t *testing.T) {
	var buf bytes.Buffer

	l := GetLogger("alpha").Output(&buf)
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"service":"alpha"`)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"service"`)))

	// A later logger carries its own name, not the first caller's, and
	// still only one service key.
	buf.Reset()
	l2 := GetLogger("beta").Output(&buf)
	l2.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"service":"beta"`)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"service"`)))
}
