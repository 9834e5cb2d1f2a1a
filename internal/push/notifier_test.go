package push

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateShortStringUntouched(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 120))
}

func TestTruncateCutsAtLimit(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := truncate(long, 120)
	assert.Len(t, got, 120)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// Every rune here is 3 bytes; 120 is not a multiple of 3, so a byte slice
	// would split one.
	long := strings.Repeat("日", 50)
	got := truncate(long, 120)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 120)
	assert.Equal(t, strings.Repeat("日", 40), got)
}
