// Package magnet extracts BitTorrent info-hashes from magnet URIs.
// The extracted hash is the canonical identifier for a torrent everywhere
// in this codebase: it is computed before a torrent is submitted and used
// as the tracked-set key afterwards, so both paths agree bit-for-bit.
package magnet

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	scheme     = "magnet:"
	btihPrefix = "urn:btih:"

	// Info-hash encodings accepted in the xt parameter.
	hexHashLen    = 40
	base32HashLen = 32
)

// Sentinel errors for malformed input. All are format errors the caller
// must not retry. Use errors.Is to check.
var (
	ErrScheme     = errors.New("magnet: not a magnet URI")
	ErrNoInfoHash = errors.New("magnet: missing urn:btih parameter")
	ErrHashFormat = errors.New("magnet: malformed info-hash")
)

// InfoHash returns the lower-case 40-character hexadecimal info-hash for a
// magnet URI. A 40-character xt token is treated as hex and lower-cased; a
// 32-character token is treated as base-32 and converted to hex. Any other
// length, or an invalid symbol, is an error.
func InfoHash(uri string) (string, error) {
	if !strings.HasPrefix(uri, scheme) {
		return "", ErrScheme
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScheme, err)
	}

	var token string

	for _, xt := range parsed.Query()["xt"] {
		if strings.HasPrefix(xt, btihPrefix) {
			token = strings.TrimPrefix(xt, btihPrefix)
			break
		}
	}

	if token == "" {
		return "", ErrNoInfoHash
	}

	switch len(token) {
	case hexHashLen:
		if !isHex(token) {
			return "", fmt.Errorf("%w: invalid hex digit in %q", ErrHashFormat, token)
		}

		return strings.ToLower(token), nil
	case base32HashLen:
		return base32ToHex(token)
	default:
		return "", fmt.Errorf("%w: unexpected length %d", ErrHashFormat, len(token))
	}
}

// isHex reports whether s consists only of hexadecimal digits.
func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}

	return true
}

// base32ToHex converts a base-32 token (RFC 4648 alphabet, case-insensitive)
// to lower-case hex. Each symbol contributes 5 bits; hex nibbles are emitted
// as soon as 4 bits accumulate, and a trailing incomplete nibble is dropped.
// A 32-symbol input yields exactly 160 bits, i.e. 40 nibbles.
func base32ToHex(token string) (string, error) {
	const hexDigits = "0123456789abcdef"

	var out strings.Builder

	out.Grow(hexHashLen)

	var acc, bits uint

	for _, r := range token {
		var v uint

		switch {
		case r >= 'A' && r <= 'Z':
			v = uint(r - 'A')
		case r >= 'a' && r <= 'z':
			v = uint(r - 'a')
		case r >= '2' && r <= '7':
			v = uint(r-'2') + 26
		default:
			return "", fmt.Errorf("%w: invalid base32 symbol %q", ErrHashFormat, r)
		}

		acc = acc<<5 | v
		bits += 5

		for bits >= 4 {
			bits -= 4
			out.WriteByte(hexDigits[(acc>>bits)&0xf])
		}
	}

	return out.String(), nil
}
