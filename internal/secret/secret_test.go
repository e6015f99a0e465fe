package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactHeaderMasksKnownSensitiveHeaders(t *testing.T) {
	assert.Equal(t, "Bearer <redacted>", RedactHeader("Authorization", "Bearer abc123"))
	assert.Equal(t, "<redacted>", RedactHeader("Cookie", "session=abc"))
}

func TestRedactHeaderLeavesOtherHeadersUnchanged(t *testing.T) {
	assert.Equal(t, "text/plain", RedactHeader("Content-Type", "text/plain"))
}

func TestRedactLineMasksBearerTokens(t *testing.T) {
	out := RedactLine("calling api with Bearer sk_live_abcdef0123456789")
	assert.Contains(t, out, "<redacted>")
	assert.NotContains(t, out, "sk_live_abcdef0123456789")
}

func TestRedactLineLeavesPlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "build succeeded", RedactLine("build succeeded"))
}
