package council

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkCapsLines(t *testing.T) {
	sink, err := newSink(filepath.Join(t.TempDir(), "member.log"), 3, 0)
	require.NoError(t, err)
	defer sink.Close()

	for i := 1; i <= 5; i++ {
		n, err := fmt.Fprintf(sink, "line %d\n", i)
		require.NoError(t, err)
		require.Equal(t, len(fmt.Sprintf("line %d\n", i)), n)
	}
	_, _ = sink.Write([]byte("tail without newline"))

	assert.Equal(t, 3, sink.Dropped())
	text, err := sink.Content()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "line 1\nline 2\nline 3\n"), text)
	assert.NotContains(t, text, "line 4")
	assert.Contains(t, text, "[output truncated: 3 more lines dropped after 3]")
}

func TestSinkSplitWritesCountOneLine(t *testing.T) {
	sink, err := newSink(filepath.Join(t.TempDir(), "member.log"), 1, 0)
	require.NoError(t, err)
	defer sink.Close()

	_, _ = sink.Write([]byte("hel"))
	_, _ = sink.Write([]byte("lo\nwor"))
	_, _ = sink.Write([]byte("ld\n"))

	text, err := sink.Content()
	require.NoError(t, err)
	assert.Equal(t, 1, sink.Dropped())
	assert.True(t, strings.HasPrefix(text, "hello\n"), text)
}

func TestSinkCloseIsIdempotentAndDropsLateWrites(t *testing.T) {
	sink, err := newSink(filepath.Join(t.TempDir(), "member.log"), 10, 0)
	require.NoError(t, err)
	_, _ = sink.Write([]byte("kept\n"))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	n, err := sink.Write([]byte("late\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	text, err := sink.Content()
	require.NoError(t, err)
	assert.Equal(t, "kept\n", text)
}

func TestSinkCapsBytesWithoutNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "member.log")
	sink, err := newSink(path, 10, 1024)
	require.NoError(t, err)
	defer sink.Close()

	chunk := []byte(strings.Repeat("x", 64<<10))
	for i := 0; i < 64; i++ {
		n, err := sink.Write(chunk)
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}
	require.NoError(t, sink.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, info.Size())
	assert.Equal(t, 64*len(chunk)-1024, sink.DroppedBytes())

	text, err := sink.Content()
	require.NoError(t, err)
	assert.Less(t, len(text), 2048)
	assert.Contains(t, text, fmt.Sprintf("[output truncated: %d more bytes dropped after 1024 bytes]", 64*len(chunk)-1024))
}

func TestSinkByteCapCutsInsideALine(t *testing.T) {
	sink, err := newSink(filepath.Join(t.TempDir(), "member.log"), 100, 8)
	require.NoError(t, err)
	defer sink.Close()

	_, _ = sink.Write([]byte("abc\ndefghij\nklm\n"))

	text, err := sink.Content()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "abc\ndefg\n"), text)
	assert.Contains(t, text, "[output truncated: 8 more bytes dropped after 8 bytes]")
}
