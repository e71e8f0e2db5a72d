package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "workly/internal/domain/chat"
	"workly/internal/infra/security"
)

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret")
	t.Setenv("JWT_ISSUER", "workly")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "u1", "--companies", "acme,globex"})
	require.NoError(t, root.Execute())

	claims, err := security.Tokens{Secret: []byte("dev-secret"), Issuer: "workly"}.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.True(t, claims.CanActAs(domainchat.CompanyParticipant("globex")))
}

func TestCommandsRequireToken(t *testing.T) {
	t.Setenv("CHAT_TOKEN", "")
	t.Setenv("CHAT_DATA_DIR", t.TempDir())
	root := newRootCmd()
	root.SetArgs([]string{"conversations"})
	err := root.Execute()
	assert.ErrorContains(t, err, "no token")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "приве…", truncate("привет мир", 6))
}
