package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetTokenizer() {
	codecMu.Lock()
	defaultCodec = nil
	initialized = false
	codecMu.Unlock()
}

func TestInitTokenizer(t *testing.T) {
	resetTokenizer()

	err := InitTokenizer("cl100k_base")
	require.NoError(t, err)
	assert.True(t, IsInitialized())
}

func TestInitTokenizer_DefaultEncoding(t *testing.T) {
	resetTokenizer()

	err := InitTokenizer("")
	require.NoError(t, err)
	assert.True(t, IsInitialized())
}

func TestCountTokens_Initialized(t *testing.T) {
	resetTokenizer()
	require.NoError(t, InitTokenizer("cl100k_base"))

	count := CountTokens("Hello, world!")
	assert.Positive(t, count)
	assert.LessOrEqual(t, count, 10)
}

func TestCountTokens_Uninitialized(t *testing.T) {
	resetTokenizer()

	text := "Hello, world! This is a test."
	assert.Equal(t, len(text)/4, CountTokens(text))
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"test", 1},
		{"hello world", 2},
		{"1234567890123456", 4},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, estimateTokens(tt.text))
		})
	}
}

func TestBoundTokens(t *testing.T) {
	resetTokenizer()
	require.NoError(t, InitTokenizer("cl100k_base"))

	short := "Biaya kuliah S1 Rp 5.000.000"
	assert.Equal(t, short, BoundTokens(short, 100))
	assert.Equal(t, short, BoundTokens(short, 0), "zero disables the bound")

	long := strings.Repeat("Uang kuliah tunggal program sarjana dibayar per semester.\n\n", 200)
	bounded := BoundTokens(long, 50)
	assert.NotEmpty(t, bounded)
	assert.LessOrEqual(t, CountTokens(bounded), 50)
}

func TestBoundTokens_Uninitialized(t *testing.T) {
	resetTokenizer()

	long := strings.Repeat("a", 1000)
	bounded := BoundTokens(long, 10)
	assert.Len(t, bounded, 40)
}

func TestSplitTokens(t *testing.T) {
	resetTokenizer()
	require.NoError(t, InitTokenizer("cl100k_base"))

	md := "# Biaya\n\n" + strings.Repeat("Rincian biaya kuliah per program studi.\n\n", 40) +
		"# Jadwal\n\n" + strings.Repeat("Pembayaran dibuka pada bulan Agustus.\n\n", 40)
	chunks, err := SplitTokens(md, 80)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	empty, err := SplitTokens("   ", 80)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
