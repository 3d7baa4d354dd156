package command

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelf(t *testing.T) {
	p, err := Parse(nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindSelf, p.Kind)
}

func TestParseWorldAlias(t *testing.T) {
	aliases := WorldAliases{"nether": "world_nether"}
	p, err := Parse([]string{"nether"}, nil, aliases, false)
	require.NoError(t, err)
	assert.Equal(t, KindSelf, p.Kind)
	assert.Equal(t, "world_nether", p.World)
}

func TestParseCrossServer(t *testing.T) {
	servers := map[string]bool{"smp": true}
	p, err := Parse([]string{"smp"}, servers, nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindCrossServer, p.Kind)
	assert.Equal(t, "smp", p.Server)
}

func TestParseUnknownTokenNonAdminFails(t *testing.T) {
	_, err := Parse([]string{"bogus"}, nil, nil, false)
	assert.Error(t, err)
}

func TestParseAdminTargetsPlayer(t *testing.T) {
	player := uuid.New()
	p, err := Parse([]string{player.String(), "smp"}, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, p.Kind)
	assert.Equal(t, player, p.Target)
	assert.Equal(t, "smp", p.Server)
}

func TestParseReloadRequiresAdmin(t *testing.T) {
	_, err := Parse([]string{"reload"}, nil, nil, false)
	assert.Error(t, err)

	p, err := Parse([]string{"reload"}, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, KindReload, p.Kind)
}
