package room

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	"github.com/jason-s-yu/draftsync/internal/apperr"
)

// CodeAlphabet leaves out 0, O, 1, I and L so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code.
const CodeLength = 6

var codePattern = regexp.MustCompile(`^[` + CodeAlphabet + `]{6}$`)

// NewCode returns a random room code.
func NewCode() (string, error) {
	code := make([]byte, CodeLength)
	size := big.NewInt(int64(len(CodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// Normalize trims and uppercases user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode normalizes code and checks it against the code pattern.
func ValidateCode(code string) (string, error) {
	code = Normalize(code)
	if !codePattern.MatchString(code) {
		return "", apperr.Newf(apperr.CodeInvalidRoomCode, "invalid room code %q", code)
	}
	return code, nil
}
