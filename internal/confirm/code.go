package confirm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// The 26-word phonetic alphabet codes are built from. Two words plus a
// four-digit number give roughly 6.1M combinations.
var phoneticAlphabet = []string{
	"ALPHA", "BRAVO", "CHARLIE", "DELTA", "ECHO", "FOXTROT", "GOLF", "HOTEL",
	"INDIA", "JULIET", "KILO", "LIMA", "MIKE", "NOVEMBER", "OSCAR", "PAPA",
	"QUEBEC", "ROMEO", "SIERRA", "TANGO", "UNIFORM", "VICTOR", "WHISKEY",
	"XRAY", "YANKEE", "ZULU",
}

// GenerateCode returns a code of the form WORD-NNNN-WORD with the number in
// [1000,9999]. Collisions between concurrently confirmed tokens are possible
// and tolerated; verification disambiguates by token identifier.
func GenerateCode() (string, error) {
	first, err := randomWord()
	if err != nil {
		return "", err
	}
	second, err := randomWord()
	if err != nil {
		return "", err
	}

	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generate code number: %w", err)
	}

	return fmt.Sprintf("%s-%d-%s", first, 1000+n.Int64(), second), nil
}

// NormalizeCode maps user-relayed input onto the generated form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomWord() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(phoneticAlphabet))))
	if err != nil {
		return "", fmt.Errorf("generate code word: %w", err)
	}
	return phoneticAlphabet[n.Int64()], nil
}
