package blocks

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Decode converts raw export bytes into text. An empty name or "utf-8"
// validates the bytes as UTF-8; any other name is resolved through the
// WHATWG encoding index ("latin1", "windows-1252", "shift_jis", ...).
// A leading UTF-8 byte order mark is dropped.
func Decode(data []byte, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		if !utf8.Valid(data) {
			return "", &DecodeError{Encoding: "utf-8", Err: errors.New("invalid utf-8 sequence")}
		}
		return strings.TrimPrefix(string(data), "\ufeff"), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", &DecodeError{Encoding: name, Err: err}
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", &DecodeError{Encoding: name, Err: err}
	}
	if strings.ContainsRune(string(decoded), utf8.RuneError) && !containsReplacement(data, enc) {
		return "", &DecodeError{Encoding: name, Err: errors.New("input contains bytes outside the encoding")}
	}
	return strings.TrimPrefix(string(decoded), "\ufeff"), nil
}

// containsReplacement reports whether the source bytes already carried U+FFFD
// in the target encoding, in which case a replacement rune in the output is
// legitimate rather than a decoding failure.
func containsReplacement(data []byte, enc encoding.Encoding) bool {
	replacement, err := enc.NewEncoder().String(string(utf8.RuneError))
	if err != nil || replacement == "" {
		return false
	}
	return strings.Contains(string(data), replacement)
}
