package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// GenerateKey derives a key from action and parts. The action stays
// readable as a prefix so keys can be told apart in Redis; the parts are
// length-prefixed before hashing so ("ab", "c") and ("a", "bc") differ.
func GenerateKey(action string, parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		s := toString(part)
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	return action + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
