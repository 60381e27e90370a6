package secure

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestToken(t *testing.T) {
	t.Run("default source yields 64 hex chars", func(t *testing.T) {
		token, err := Token(nil)
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("deterministic source yields deterministic token", func(t *testing.T) {
		src := bytes.NewReader(bytes.Repeat([]byte{0xab}, TokenBytes))
		token, err := Token(src)
		require.NoError(t, err)
		assert.Equal(t, "abababababababababababababababababababababababababababababababab", token)
	})

	t.Run("short source fails", func(t *testing.T) {
		_, err := Token(bytes.NewReader([]byte{1, 2, 3}))
		assert.Error(t, err)
	})

	t.Run("reader error propagates", func(t *testing.T) {
		_, err := Token(failingReader{})
		assert.ErrorContains(t, err, "entropy exhausted")
	})
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc123", "abc123"))
	assert.False(t, Equal("abc123", "abc124"))
	assert.False(t, Equal("abc123", "abc1234"))
	assert.False(t, Equal("", ""))
	assert.False(t, Equal("abc123", ""))
}
