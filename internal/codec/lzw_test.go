package codec

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/aime/internal/model"
)

func allBytes() string {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return string(b)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"single byte", "a"},
		{"repeated pair", "abababababababab"},
		{"tobeornot", "TOBEORNOTTOBEORTOBEORNOT"},
		{"all bytes", allBytes()},
		{"all bytes twice", allBytes() + allBytes()},
		{"unicode", "déjà vu — 日本語のテキスト 🚀🚀🚀"},
		{"json", `{"role":"user","content":"hello \"world\"","timestamp":1700000000000}`},
		{"long repetitive", strings.Repeat("the quick brown fox jumps over the lazy dog. ", 500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := Compress(tt.in)
			got, err := Decompress(tokens)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestCompress_EmptyIsEmptyStream(t *testing.T) {
	tokens := Compress("")
	assert.NotNil(t, tokens)
	assert.Empty(t, tokens)
}

func TestCompress_ShrinksRepetitiveText(t *testing.T) {
	in := strings.Repeat("abc", 1000)
	tokens := Compress(in)
	assert.Less(t, len(tokens), len(in)/4)
}

func TestRoundTrip_DictionaryFull(t *testing.T) {
	// Random bytes force one new entry per emitted code, overflowing 64K entries.
	r := rand.New(rand.NewSource(42))
	buf := make([]byte, 400_000)
	for i := range buf {
		buf[i] = byte(r.Intn(256))
	}
	in := string(buf)

	tokens := Compress(in)
	require.Greater(t, len(tokens), MaxDictSize)
	for _, tok := range tokens {
		require.Less(t, tok, MaxDictSize)
	}

	got, err := Decompress(tokens)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestDecompress_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		tokens []int
	}{
		{"first code not literal", []int{300}},
		{"negative code", []int{97, -1}},
		{"code beyond next id", []int{97, 98, 400}},
		{"out of code space", []int{97, MaxDictSize + 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(tt.tokens)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrCorruptData))
			assert.Empty(t, got)
		})
	}
}

func TestTokenTransport_RoundTrip(t *testing.T) {
	tokens := Compress(allBytes() + "hello hello hello")
	encoded := EncodeTokens(tokens)

	decoded, err := DecodeTokens(encoded)
	require.NoError(t, err)
	assert.Equal(t, tokens, decoded)
}

func TestDecodeTokens_Corrupt(t *testing.T) {
	_, err := DecodeTokens("!!!not base64")
	assert.ErrorIs(t, err, model.ErrCorruptData)

	// Three bytes cannot hold whole 2-byte code words.
	_, err = DecodeTokens("AAAA")
	assert.ErrorIs(t, err, model.ErrCorruptData)
}

func TestPackUnpack(t *testing.T) {
	in := strings.Repeat(`{"role":"assistant","content":"use Go"}`, 20)
	p := Pack(in)
	assert.Equal(t, len(in), p.OriginalSize)
	assert.Less(t, p.CompressedSize, p.OriginalSize)

	out, err := Unpack(p)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnpack_SizeMismatch(t *testing.T) {
	p := Pack("some text to compress")
	p.OriginalSize++

	_, err := Unpack(p)
	assert.ErrorIs(t, err, model.ErrCorruptData)
}
