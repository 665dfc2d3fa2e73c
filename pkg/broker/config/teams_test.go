package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTeamConfig_Default(t *testing.T) {
	t.Parallel()

	tc, err := LoadTeamConfig("")
	require.NoError(t, err)
	assert.Contains(t, tc.Teams, "mobile-team")
	assert.Equal(t, "mobile-team", tc.GroupToTeam["mobile-developers"])
}

func TestLoadTeamConfig_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "teams.yaml")
	content := []byte(`
group_to_team:
  mobile-developers: mobile-team
  backend-developers: backend-team
teams:
  mobile-team:
    jwt_role: mobile-team
    token_role: mobile-team-token
    ttl_default_secs: 7200
    ttl_max_secs: 28800
    uses: 10
  backend-team:
    jwt_role: backend-team
    token_role: backend-team-token
    ttl_default_secs: 3600
    ttl_max_secs: 14400
    uses: 5
devops_team: backend-team
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	tc, err := LoadTeamConfig(path)
	require.NoError(t, err)
	assert.Len(t, tc.Teams, 2)
	assert.Equal(t, "backend-team", tc.DevopsTeam)
}

func TestTeamConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tc      TeamConfig
		wantErr string
	}{
		{
			name:    "no teams",
			tc:      TeamConfig{},
			wantErr: "at least one team is required",
		},
		{
			name: "group maps to undefined team",
			tc: TeamConfig{
				GroupToTeam: map[string]string{"g": "missing-team"},
				Teams: map[string]TeamEntry{
					"mobile-team": {JWTRole: "mobile-team", TokenRole: "mobile-team-token", TTLDefaultSecs: 60, TTLMaxSecs: 120, Uses: 1},
				},
			},
			wantErr: `undefined team "missing-team"`,
		},
		{
			name: "ttl default exceeds max",
			tc: TeamConfig{
				Teams: map[string]TeamEntry{
					"mobile-team": {JWTRole: "mobile-team", TokenRole: "mobile-team-token", TTLDefaultSecs: 200, TTLMaxSecs: 100, Uses: 1},
				},
			},
			wantErr: "exceeds ttl_max_secs",
		},
		{
			name: "devops team undefined",
			tc: TeamConfig{
				Teams: map[string]TeamEntry{
					"mobile-team": {JWTRole: "mobile-team", TokenRole: "mobile-team-token", TTLDefaultSecs: 60, TTLMaxSecs: 120, Uses: 1},
				},
				DevopsTeam: "ghost-team",
			},
			wantErr: `not a defined team`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.tc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
