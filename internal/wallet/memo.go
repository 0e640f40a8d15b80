package wallet

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// MemoSize is the fixed size of a note memo field.
const MemoSize = 512

// MemoKind classifies a decoded memo.
type MemoKind uint8

const (
	MemoEmpty MemoKind = iota
	MemoText
	MemoOpaque
)

// String returns the memo kind name.
func (k MemoKind) String() string {
	switch k {
	case MemoText:
		return "text"
	case MemoOpaque:
		return "opaque"
	}
	return "empty"
}

// MarshalText implements encoding.TextMarshaler.
func (k MemoKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MemoKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "empty":
		*k = MemoEmpty
	case "text":
		*k = MemoText
	case "opaque":
		*k = MemoOpaque
	default:
		return fmt.Errorf("unknown memo kind %q", text)
	}
	return nil
}

// DecodeMemo interprets a raw memo field.
//
//   - first byte <= 0xF4: UTF-8 text, trailing zero padding stripped
//   - 0xF6 followed by zeros: no memo
//   - anything else, or text that is not valid UTF-8: opaque bytes
//
// For opaque memos the returned string is the hex of the raw bytes.
func DecodeMemo(raw []byte) (string, MemoKind) {
	if len(raw) == 0 {
		return "", MemoEmpty
	}
	switch {
	case raw[0] <= 0xF4:
		end := len(raw)
		for end > 0 && raw[end-1] == 0 {
			end--
		}
		if end == 0 {
			return "", MemoEmpty
		}
		if !utf8.Valid(raw[:end]) {
			return hex.EncodeToString(raw), MemoOpaque
		}
		return string(raw[:end]), MemoText
	case raw[0] == 0xF6 && allZero(raw[1:]):
		return "", MemoEmpty
	}
	return hex.EncodeToString(raw), MemoOpaque
}

// EncodeTextMemo builds a memo field holding s.
func EncodeTextMemo(s string) ([MemoSize]byte, error) {
	var m [MemoSize]byte
	if len(s) > MemoSize {
		return m, fmt.Errorf("memo is %d bytes, max %d", len(s), MemoSize)
	}
	if !utf8.ValidString(s) {
		return m, fmt.Errorf("memo is not valid UTF-8")
	}
	if s == "" {
		return EmptyMemo(), nil
	}
	copy(m[:], s)
	return m, nil
}

// EmptyMemo returns the canonical "no memo" field.
func EmptyMemo() [MemoSize]byte {
	var m [MemoSize]byte
	m[0] = 0xF6
	return m
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
