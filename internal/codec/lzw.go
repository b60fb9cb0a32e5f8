// Package codec implements the dictionary (LZW) compressor used for session
// payloads and export archives.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/rcliao/aime/internal/model"
)

const (
	// MaxDictSize is the 16-bit code space.
	MaxDictSize = 1 << 16
	firstCode   = 256
)

// Compress encodes text as a stream of dictionary codes. The dictionary is
// seeded with all single bytes and grows until MaxDictSize entries exist;
// after that matching continues against the frozen dictionary.
func Compress(text string) []int {
	if text == "" {
		return []int{}
	}

	dict := make(map[string]int, firstCode)
	for i := 0; i < firstCode; i++ {
		dict[string([]byte{byte(i)})] = i
	}
	next := firstCode

	tokens := make([]int, 0, len(text)/2+1)
	w := text[:1]
	for i := 1; i < len(text); i++ {
		wc := text[i-len(w) : i+1]
		if _, ok := dict[wc]; ok {
			w = wc
			continue
		}
		tokens = append(tokens, dict[w])
		if next < MaxDictSize {
			dict[wc] = next
			next++
		}
		w = text[i : i+1]
	}
	tokens = append(tokens, dict[w])
	return tokens
}

// Decompress rebuilds the text from a code stream produced by Compress.
// Malformed streams yield a *model.CorruptDataError and no text.
func Decompress(tokens []int) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}

	dict := make([][]byte, firstCode, MaxDictSize)
	for i := 0; i < firstCode; i++ {
		dict[i] = []byte{byte(i)}
	}

	first := tokens[0]
	if first < 0 || first >= firstCode {
		return "", &model.CorruptDataError{Source: "lzw", Offset: 0, Reason: fmt.Sprintf("first code %d is not a byte literal", first)}
	}

	out := make([]byte, 0, len(tokens)*2)
	prev := dict[first]
	out = append(out, prev...)

	for i := 1; i < len(tokens); i++ {
		code := tokens[i]
		var entry []byte
		switch {
		case code >= 0 && code < len(dict):
			entry = dict[code]
		case code == len(dict) && len(dict) < MaxDictSize:
			// The encoder emitted the entry it was about to define.
			entry = make([]byte, 0, len(prev)+1)
			entry = append(entry, prev...)
			entry = append(entry, prev[0])
		default:
			return "", &model.CorruptDataError{Source: "lzw", Offset: i, Reason: fmt.Sprintf("code %d outside dictionary of %d entries", code, len(dict))}
		}
		out = append(out, entry...)

		if len(dict) < MaxDictSize {
			added := make([]byte, 0, len(prev)+1)
			added = append(added, prev...)
			added = append(added, entry[0])
			dict = append(dict, added)
		}
		prev = entry
	}
	return string(out), nil
}

// EncodeTokens serializes codes as big-endian 2-byte words in base64.
func EncodeTokens(tokens []int) string {
	buf := make([]byte, 2*len(tokens))
	for i, t := range tokens {
		binary.BigEndian.PutUint16(buf[2*i:], uint16(t))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeTokens reverses EncodeTokens.
func DecodeTokens(s string) ([]int, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &model.CorruptDataError{Source: "base64", Offset: -1, Err: err}
	}
	if len(buf)%2 != 0 {
		return nil, &model.CorruptDataError{Source: "base64", Offset: len(buf), Reason: "truncated code word"}
	}
	tokens := make([]int, len(buf)/2)
	for i := range tokens {
		tokens[i] = int(binary.BigEndian.Uint16(buf[2*i:]))
	}
	return tokens, nil
}

// Pack compresses text into its portable payload form.
func Pack(text string) model.CompressedPayload {
	tokens := Compress(text)
	return model.CompressedPayload{
		Data:           EncodeTokens(tokens),
		OriginalSize:   len(text),
		CompressedSize: 2 * len(tokens),
	}
}

// Unpack restores the text of a payload and checks its recorded size.
func Unpack(p model.CompressedPayload) (string, error) {
	tokens, err := DecodeTokens(p.Data)
	if err != nil {
		return "", err
	}
	if p.CompressedSize != 0 && p.CompressedSize != 2*len(tokens) {
		return "", &model.CorruptDataError{Source: "lzw", Offset: -1, Reason: fmt.Sprintf("compressed size %d does not match %d bytes of codes", p.CompressedSize, 2*len(tokens))}
	}
	text, err := Decompress(tokens)
	if err != nil {
		return "", err
	}
	if len(text) != p.OriginalSize {
		return "", &model.CorruptDataError{Source: "lzw", Offset: -1, Reason: fmt.Sprintf("decoded %d bytes, expected %d", len(text), p.OriginalSize)}
	}
	return text, nil
}
