// Package cipher decodes the substitution-cipher payloads carried by dark
// signals.
//
// A payload is base64-encoded JSON {"alg", "kid", "cipher"}. The key named by
// kid is a cipher alphabet: the letter at position i of the key stands for
// the i-th letter of the plain alphabet a..z.
package cipher

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// Algorithm is the only supported payload algorithm.
	Algorithm = "substitution-cipher"

	// Alphabet is the canonical plain alphabet.
	Alphabet = "abcdefghijklmnopqrstuvwxyz"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrKeyNotFound          = errors.New("key not found")
	ErrMalformedPayload     = errors.New("malformed payload")
)

// Payload is the decoded cipher envelope of a dark signal.
type Payload struct {
	Alg    string `json:"alg"`
	Kid    string `json:"kid"`
	Cipher string `json:"cipher"`
}

// KeySet maps key ids to cipher alphabets.
type KeySet map[string]string

// Lookup returns the alphabet for kid. Empty alphabets count as absent.
func (k KeySet) Lookup(kid string) (string, bool) {
	alphabet, ok := k[kid]
	return alphabet, ok && alphabet != ""
}

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// ParsePayload decodes the base64 JSON payload of a dark signal.
func ParsePayload(data string) (Payload, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return Payload{}, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}

	var raw []byte
	var err error
	for _, enc := range encodings {
		if raw, err = enc.DecodeString(data); err == nil {
			break
		}
	}
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p, nil
}

// EncodePayload renders p in the wire format ParsePayload reads.
func EncodePayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decipher checks the algorithm and key of p before producing any output.
func Decipher(p Payload, keys KeySet) (string, error) {
	if p.Alg != Algorithm {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, p.Alg)
	}
	alphabet, ok := keys.Lookup(p.Kid)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrKeyNotFound, p.Kid)
	}
	return Decode(p.Cipher, alphabet), nil
}

// Decode maps every character of text through the cipher alphabet. Spaces
// are kept; characters absent from the alphabet pass through unchanged.
// Letters found in the alphabet always come out lowercase.
func Decode(text, alphabet string) string {
	key := []rune(alphabet)
	plain := []rune(Alphabet)

	var b strings.Builder
	b.Grow(len(text))
	for _, c := range text {
		if c == ' ' {
			b.WriteRune(' ')
			continue
		}
		i := indexRune(key, unicode.ToLower(c))
		if i < 0 || i >= len(plain) {
			b.WriteRune(c)
			continue
		}
		b.WriteRune(plain[i])
	}
	return b.String()
}

// Encode is the inverse of Decode for lowercase plain text.
func Encode(text, alphabet string) string {
	key := []rune(alphabet)
	plain := []rune(Alphabet)

	var b strings.Builder
	b.Grow(len(text))
	for _, c := range text {
		if c == ' ' {
			b.WriteRune(' ')
			continue
		}
		i := indexRune(plain, unicode.ToLower(c))
		if i < 0 || i >= len(key) {
			b.WriteRune(c)
			continue
		}
		b.WriteRune(key[i])
	}
	return b.String()
}

func indexRune(rs []rune, r rune) int {
	for i, c := range rs {
		if c == r {
			return i
		}
	}
	return -1
}
