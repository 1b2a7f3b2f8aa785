package magnet

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestInfoHash_HexToken(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		expect string
	}{
		{
			name:   "upper-case hex is lower-cased",
			uri:    "magnet:?xt=urn:btih:AABBCCDDEE11223344556677889900AABBCCDDEE",
			expect: "aabbccddee11223344556677889900aabbccddee",
		},
		{
			name:   "lower-case hex passes through",
			uri:    "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567",
			expect: "0123456789abcdef0123456789abcdef01234567",
		},
		{
			name:   "extra parameters are ignored",
			uri:    "magnet:?dn=Some.Show.S01E01&xt=urn:btih:AABBCCDDEE11223344556677889900AABBCCDDEE&tr=udp%3A%2F%2Ftracker.example%3A6969",
			expect: "aabbccddee11223344556677889900aabbccddee",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := InfoHash(tc.uri)
			if err != nil {
				t.Fatalf("InfoHash(%q) returned error: %v", tc.uri, err)
			}

			if got != tc.expect {
				t.Fatalf("InfoHash(%q) = %q, want %q", tc.uri, got, tc.expect)
			}
		})
	}
}

// TestInfoHash_Base32Token verifies base-32 decoding against the standard
// library: 20 raw bytes encode to exactly 32 base-32 symbols with no padding,
// and the conversion must equal the plain hex encoding of the same bytes.
func TestInfoHash_Base32Token(t *testing.T) {
	inputs := [][]byte{
		make([]byte, 20), // all zero bits
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		sha1Sum("ubuntu-24.04-desktop-amd64.iso"),
		sha1Sum("another torrent payload"),
	}

	for _, raw := range inputs {
		b32 := base32.StdEncoding.EncodeToString(raw)
		if len(b32) != base32HashLen {
			t.Fatalf("test setup: base32 of 20 bytes should be 32 symbols, got %d", len(b32))
		}

		want := hex.EncodeToString(raw)

		got, err := InfoHash("magnet:?xt=urn:btih:" + b32)
		if err != nil {
			t.Fatalf("InfoHash base32 %q: %v", b32, err)
		}

		if got != want {
			t.Errorf("InfoHash base32 %q = %q, want %q", b32, got, want)
		}

		// Case-insensitive alphabet: lower-case input decodes identically.
		got, err = InfoHash("magnet:?xt=urn:btih:" + strings.ToLower(b32))
		if err != nil {
			t.Fatalf("InfoHash lower base32 %q: %v", b32, err)
		}

		if got != want {
			t.Errorf("InfoHash lower base32 %q = %q, want %q", b32, got, want)
		}
	}
}

func TestInfoHash_Deterministic(t *testing.T) {
	uri := "magnet:?xt=urn:btih:AABBCCDDEE11223344556677889900AABBCCDDEE"

	first, err := InfoHash(uri)
	if err != nil {
		t.Fatal(err)
	}

	for range 5 {
		again, err := InfoHash(uri)
		if err != nil {
			t.Fatal(err)
		}

		if again != first {
			t.Fatalf("InfoHash not deterministic: %q vs %q", again, first)
		}
	}
}

func TestInfoHash_Errors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want error
	}{
		{"http URI", "http://example.com/file.torrent", ErrScheme},
		{"empty string", "", ErrScheme},
		{"no xt parameter", "magnet:?dn=name-only", ErrNoInfoHash},
		{"xt without btih", "magnet:?xt=urn:sha1:AABBCCDDEE11223344556677889900AABBCCDDEE", ErrNoInfoHash},
		{"wrong length", "magnet:?xt=urn:btih:abcdef", ErrHashFormat},
		{"invalid base32 symbol", "magnet:?xt=urn:btih:0123456789ABCDEFGHIJKLMNOPQRSTUV", ErrHashFormat},
		{"invalid hex digit", "magnet:?xt=urn:btih:zzbbccddee11223344556677889900aabbccddzz", ErrHashFormat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := InfoHash(tc.uri)
			if !errors.Is(err, tc.want) {
				t.Fatalf("InfoHash(%q) error = %v, want %v", tc.uri, err, tc.want)
			}
		})
	}
}

func sha1Sum(s string) []byte {
	sum := sha1.Sum([]byte(s))
	return sum[:]
}
