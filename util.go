package bucket

import (
	"encoding/hex"
	"log/slog"
)

func nonNil[T any](v *T) *T {
	if v == nil {
		panic("nil")
	}
	return v
}

// inc increments data in place as a big-endian counter, returning false on overflow.
// Used to derive an exclusive range end from an account/pool key prefix.
func inc(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0xFF {
			for j := i; j < n; j++ {
				data[j]++
			}
			return true
		}
	}
	return false
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}
