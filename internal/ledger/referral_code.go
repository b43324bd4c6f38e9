package ledger

import (
	"strings"

	"github.com/google/uuid"
)

const (
	referralAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// ShortCodeLength is the length of freshly issued referral codes.
	ShortCodeLength = 8
	// LongCodeLength is used once short codes keep colliding.
	LongCodeLength = 12

	attemptsPerLength = 5
	// largest multiple of the alphabet size below 256, for unbiased sampling
	sampleLimit = 252
)

// CodeGenerator returns a random referral code of the given length.
type CodeGenerator func(length int) (string, error)

// NewReferralCode draws a code from [A-Z0-9] using the random bytes of
// version 4 UUIDs.
func NewReferralCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	for b.Len() < length {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}

		for i, octet := range id {
			// bytes 6 and 8 carry the version and variant bits
			if i == 6 || i == 8 || octet >= sampleLimit {
				continue
			}
			b.WriteByte(referralAlphabet[int(octet)%len(referralAlphabet)])
			if b.Len() == length {
				break
			}
		}
	}

	return b.String(), nil
}

// NormalizeReferralCode trims and upper-cases code and reports whether the
// result is a well-formed referral code.
func NormalizeReferralCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != ShortCodeLength && len(code) != LongCodeLength {
		return code, false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(referralAlphabet, code[i]) < 0 {
			return code, false
		}
	}
	return code, true
}

// codeLength returns the code length to use for a zero-based attempt, or 0
// once every attempt is spent.
func codeLength(attempt int) int {
	switch {
	case attempt < attemptsPerLength:
		return ShortCodeLength
	case attempt < 2*attemptsPerLength:
		return LongCodeLength
	default:
		return 0
	}
}
