package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/config"
)

func testTeamConfig() *config.TeamConfig {
	return &config.TeamConfig{
		GroupToTeam: map[string]string{
			"mobile-developers":  "mobile-team",
			"backend-developers": "backend-team",
		},
		Teams: map[string]config.TeamEntry{
			"mobile-team":  {JWTRole: "mobile-team", TokenRole: "mobile-team-token", TTLDefaultSecs: 60, TTLMaxSecs: 120, Uses: 1},
			"backend-team": {JWTRole: "backend-team", TokenRole: "backend-team-token", TTLDefaultSecs: 60, TTLMaxSecs: 120, Uses: 1},
		},
	}
}

func TestResolve_SingleTeam(t *testing.T) {
	t.Parallel()
	candidates, err := Resolve(testTeamConfig(), []string{"mobile-developers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mobile-team"}, candidates)
}

func TestResolve_MultiTeamOrderedByFirstAppearance(t *testing.T) {
	t.Parallel()
	candidates, err := Resolve(testTeamConfig(), []string{"backend-developers", "mobile-developers", "backend-developers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"backend-team", "mobile-team"}, candidates)
}

func TestResolve_EmptyGroups(t *testing.T) {
	t.Parallel()
	_, err := Resolve(testTeamConfig(), []string{})
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrNoTeamAssignment))
}

func TestResolve_OnlyUnmappedGroups(t *testing.T) {
	t.Parallel()
	_, err := Resolve(testTeamConfig(), []string{"finance-team", "legal-team"})
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrNoTeamAssignment))
}
