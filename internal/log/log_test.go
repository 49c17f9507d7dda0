package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Pattern: "[%level] %field | %msg", Time: DefaultTime}, &buf)

	l.WithFields(map[string]interface{}{"session": "abc", "frames": 3}).Debug("capture stopped")

	assert.Equal(t, "[DEBUG] frames=3,session=abc | capture stopped\n", buf.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Pattern: "%level %msg"}, &buf)

	l.Info("dropped")
	l.Warn("kept")

	assert.Equal(t, "WARNING kept\n", buf.String())
	assert.False(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "loud"}, &buf)

	assert.True(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Pattern: "%field %msg"}, &buf)

	l.WithError(errors.New("boom")).Error("save failed")

	assert.Equal(t, "error=boom save failed\n", buf.String())
}

func TestCallerVerbs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Pattern: "%caller %func %msg"}, &buf)

	l.Info("here")

	out := buf.String()
	assert.Contains(t, out, "log/log_test.go:")
	assert.Contains(t, out, " TestCallerVerbs here")
}

func TestTraceGatedByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Pattern: "%level %caller %msg"}, &buf)

	assert.False(t, l.IsTraceEnabled())
	l.Trace("hidden")
	assert.Empty(t, buf.String())

	l = New(Config{Level: "trace", Pattern: "%level %caller %msg"}, &buf)
	require.True(t, l.IsTraceEnabled())
	l.WithField("frame", 1).Trace("dropped")
	assert.Contains(t, buf.String(), "TRACE ")
	assert.Contains(t, buf.String(), "log/log_test.go:")
	assert.True(t, strings.HasSuffix(buf.String(), " dropped\n"))
}

func TestGetLoggerDefault(t *testing.T) {
	require.NotNil(t, GetLogger())

	var buf bytes.Buffer
	prev := GetLogger()
	SetLogger(New(Config{Pattern: "%msg"}, &buf))
	defer SetLogger(prev)

	GetLogger().Info("swapped")
	assert.Equal(t, "swapped\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)

	n, err := w.Write([]byte("line\n"))
	assert.Equal(t, 5, n)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, "line\n", a.String())
	assert.Equal(t, "line\n", b.String())
	assert.Equal(t, 3, w.Len())
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sniff.log")
	w, err := NewMultiWriter().AddFileAppender(FileConfig{Enabled: true, Filename: path, MaxSize: 1})
	require.NoError(t, err)

	l := New(Config{Pattern: "%msg"}, w)
	l.Info("to file")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "to file\n"))
}

func TestFileAppenderNeedsFilename(t *testing.T) {
	_, err := NewMultiWriter().AddFileAppender(FileConfig{Enabled: true})
	assert.Error(t, err)
}
