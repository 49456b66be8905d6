package confirm

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codeFormat = regexp.MustCompile(`^([A-Z]+)-(\d{4})-([A-Z]+)$`)

func TestGenerateCodeFormat(t *testing.T) {
	words := make(map[string]bool, len(phoneticAlphabet))
	for _, w := range phoneticAlphabet {
		words[w] = true
	}

	for i := 0; i < 500; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)

		parts := codeFormat.FindStringSubmatch(code)
		require.NotNil(t, parts, "unexpected code format: %s", code)

		assert.True(t, words[parts[1]], "unknown word %s", parts[1])
		assert.True(t, words[parts[3]], "unknown word %s", parts[3])

		n, err := strconv.Atoi(parts[2])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1000)
		assert.LessOrEqual(t, n, 9999)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ALPHA-4821-ROMEO", NormalizeCode("  alpha-4821-romeo \n"))
	assert.Equal(t, "ALPHA-4821-ROMEO", NormalizeCode("ALPHA-4821-ROMEO"))
}

func TestPhoneticAlphabetSize(t *testing.T) {
	require.Len(t, phoneticAlphabet, 26)
	for _, w := range phoneticAlphabet {
		assert.Equal(t, strings.ToUpper(w), w)
	}
}
