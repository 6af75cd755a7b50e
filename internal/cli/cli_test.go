package cli

import (
	"testing"

	"agendahub/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKinds(t *testing.T) {
	all, err := parseKinds("")
	require.NoError(t, err)
	assert.Equal(t, store.Kinds, all)

	kinds, err := parseKinds("agenda, Event")
	require.NoError(t, err)
	assert.Equal(t, []store.Kind{store.KindAgenda, store.KindEvent}, kinds)

	_, err = parseKinds("agenda,widgets")
	assert.ErrorIs(t, err, store.ErrUnknownKind)
}

func TestActorFromToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "u1",
		"role":         "authenticated",
		"app_metadata": map[string]interface{}{"role": "admin"},
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	a, err := actorFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", a.ID)
	assert.Equal(t, "admin", a.Role)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "staff"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = actorFromToken(noSub)
	assert.Error(t, err)

	_, err = actorFromToken("not-a-token")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["watch"])

	sub := map[string]bool{}
	for _, c := range migrateCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.Equal(t, map[string]bool{"up": true, "down": true, "status": true}, sub)
}
