// Package token converts student identifiers to and from the opaque
// string carried in sign-in QR codes.
package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalid is returned for tokens that do not decode to a usable identifier.
var ErrInvalid = errors.New("invalid sign-in token")

// Encode returns the unpadded standard base64 form of id.
func Encode(id string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(id))
}

// Decode reverses Encode. Padding is optional, the URL-safe alphabet is
// accepted, and a '+' that query decoding turned into a space is restored.
func Decode(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	tok = strings.TrimRight(tok, "=")
	tok = strings.NewReplacer(" ", "+", "-", "+", "_", "/").Replace(tok)
	if tok == "" {
		return "", ErrInvalid
	}

	raw, err := base64.RawStdEncoding.DecodeString(tok)
	if err != nil {
		return "", ErrInvalid
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalid
	}

	id := strings.TrimSpace(string(raw))
	if id == "" || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return "", ErrInvalid
	}
	return id, nil
}
