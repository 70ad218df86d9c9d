// Package byteview provides views over byte ranges the caller does not own,
// such as keys and values that alias a memory-mapped data file.
//
// A View is only valid while the memory it aliases is valid. Anything that
// must outlive a transaction or survive a remap has to be copied out with
// Owned first.
package byteview

import (
	"bytes"
	"errors"
	"strconv"
)

// View is a borrowed, read-only byte range.
type View []byte

// ErrOddLength is returned by DecodeHex for inputs with an odd digit count.
var ErrOddLength = errors.New("byteview: odd length hex string")

// InvalidByteError values describe a non-hex byte passed to DecodeHex.
type InvalidByteError byte

func (e InvalidByteError) Error() string {
	return "byteview: invalid hex byte " + strconv.QuoteRune(rune(e))
}

const hexDigits = "0123456789ABCDEF"

// Len returns the length of the view.
func (v View) Len() int { return len(v) }

// Empty reports whether the view has no bytes.
func (v View) Empty() bool { return len(v) == 0 }

// Owned returns a heap copy of the view. A nil view stays nil.
func (v View) Owned() []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, len(v))
	copy(b, v)
	return b
}

// Compare returns -1, 0 or +1 ordering v and o lexicographically.
func (v View) Compare(o View) int {
	return bytes.Compare(v, o)
}

// HasPrefix reports whether v begins with prefix.
func (v View) HasPrefix(prefix View) bool {
	return bytes.HasPrefix(v, prefix)
}

// HasSuffix reports whether v ends with suffix.
func (v View) HasSuffix(suffix View) bool {
	return bytes.HasSuffix(v, suffix)
}

// Hex returns the upper-case hex encoding of the view.
func (v View) Hex() string {
	buf := make([]byte, len(v)*2)
	for i, c := range v {
		buf[i*2] = hexDigits[c>>4]
		buf[i*2+1] = hexDigits[c&0x0F]
	}
	return string(buf)
}

// String implements fmt.Stringer with the hex encoding, so views can be
// logged without copying the raw bytes into the log line.
func (v View) String() string { return v.Hex() }

// DecodeHex decodes a hex string produced by Hex. Lower-case digits and an
// optional 0x prefix are accepted.
func DecodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		return nil, ErrOddLength
	}
	result := make([]byte, len(s)/2)
	for i := range result {
		hi, ok := fromHexChar(s[i*2])
		if !ok {
			return nil, InvalidByteError(s[i*2])
		}
		lo, ok := fromHexChar(s[i*2+1])
		if !ok {
			return nil, InvalidByteError(s[i*2+1])
		}
		result[i] = hi<<4 | lo
	}
	return result, nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
