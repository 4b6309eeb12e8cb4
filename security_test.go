package audit

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCheckHistoryAccess(t *testing.T) {
	assert.NoError(t, CheckHistoryAccess(adminCtx()))
	assert.ErrorIs(t, CheckHistoryAccess(context.Background()), ErrAccessDenied)
	assert.ErrorIs(t, CheckHistoryAccess(WithRole(context.Background(), "user")), ErrAccessDenied)
}

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"user@example.com":   "u****@example.com",
		"j@example.com":      "j****@example.com",
		"not-an-email":       "not-an-email",
		"@example.com":       "@example.com",
		"a@b@example.com":    "a@b@example.com",
		"":                   "",
		"jo.bloggs@corp.net": "j****@corp.net",
		"Émilie@example.com": "É****@example.com",
		"ōta@example.jp":     "ō****@example.jp",
	}
	for in, want := range tests {
		got := RedactEmail(in)
		assert.Equal(t, want, got, "RedactEmail(%q)", in)
		assert.True(t, utf8.ValidString(got), "RedactEmail(%q) = %q", in, got)
	}
}
