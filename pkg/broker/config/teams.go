package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

// TeamEntry holds one team's Vault binding and child-token bounds.
type TeamEntry struct {
	// JWTRole names the team's Vault JWT auth role. The broker's JWT login
	// always uses the team name itself as the role name; this field is
	// checked to be non-empty by Validate and is not otherwise read.
	JWTRole string `yaml:"jwt_role"`

	// TokenRole is the Vault token auth role name used to mint child tokens.
	TokenRole string `yaml:"token_role"`

	// TTLDefault and TTLMax bound a child token's lifetime; Uses bounds its
	// use count.
	TTLDefaultSecs int `yaml:"ttl_default_secs"`
	TTLMaxSecs     int `yaml:"ttl_max_secs"`
	Uses           int `yaml:"uses"`
}

// TeamConfig is the static mapping from IdP groups to teams, and from
// teams to their Vault bindings. It is loaded once at startup and never
// mutated afterward.
type TeamConfig struct {
	// GroupToTeam maps an IdP group name to a team name.
	GroupToTeam map[string]string `yaml:"group_to_team"`

	// Teams maps a team name to its TeamEntry.
	Teams map[string]TeamEntry `yaml:"teams"`

	// DevopsTeam names the team whose token role may mint tokens for any
	// other team's token role sub-path.
	DevopsTeam string `yaml:"devops_team"`
}

// defaultTeamConfig is used when BrokerConfig.TeamsFile is empty, giving a
// single-team zero-config demo experience.
func defaultTeamConfig() *TeamConfig {
	return &TeamConfig{
		GroupToTeam: map[string]string{
			"mobile-developers": "mobile-team",
		},
		Teams: map[string]TeamEntry{
			"mobile-team": {
				JWTRole:        "mobile-team",
				TokenRole:      "mobile-team-token",
				TTLDefaultSecs: 7200,
				TTLMaxSecs:     28800,
				Uses:           10,
			},
		},
	}
}

// LoadTeamConfig reads a TeamConfig from path, or returns the built-in
// default when path is empty.
func LoadTeamConfig(path string) (*TeamConfig, error) {
	if path == "" {
		logger.Debug("no BROKER_TEAMS_FILE set, using built-in single-team default")
		tc := defaultTeamConfig()
		return tc, tc.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading team config %s: %w", path, err)
	}

	var tc TeamConfig
	if err := yaml.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("parsing team config %s: %w", path, err)
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("team config %s: %w", path, err)
	}
	return &tc, nil
}

// Validate checks that TeamConfig is internally consistent: every group
// maps to a team with a registered TeamEntry, and token-role bounds are
// sane.
func (tc *TeamConfig) Validate() error {
	logger.Debugw("validating team config", "teamCount", len(tc.Teams), "groupCount", len(tc.GroupToTeam))

	if len(tc.Teams) == 0 {
		return fmt.Errorf("at least one team is required")
	}

	for group, team := range tc.GroupToTeam {
		entry, ok := tc.Teams[team]
		if !ok {
			return fmt.Errorf("group %q maps to undefined team %q", group, team)
		}
		if entry.JWTRole == "" {
			return fmt.Errorf("team %q: jwt_role is required", team)
		}
		if entry.TokenRole == "" {
			return fmt.Errorf("team %q: token_role is required", team)
		}
		if entry.TTLDefaultSecs <= 0 || entry.TTLMaxSecs <= 0 {
			return fmt.Errorf("team %q: ttl_default_secs and ttl_max_secs must be positive", team)
		}
		if entry.TTLDefaultSecs > entry.TTLMaxSecs {
			return fmt.Errorf("team %q: ttl_default_secs exceeds ttl_max_secs", team)
		}
		if entry.Uses <= 0 {
			return fmt.Errorf("team %q: uses must be positive", team)
		}
	}

	for group, team := range tc.GroupToTeam {
		if _, ok := tc.Teams[team]; !ok {
			return fmt.Errorf("group %q maps to undefined team %q", group, team)
		}
	}

	if tc.DevopsTeam != "" {
		if _, ok := tc.Teams[tc.DevopsTeam]; !ok {
			return fmt.Errorf("devops_team %q is not a defined team", tc.DevopsTeam)
		}
	}

	logger.Debugw("team config validation passed", "teamCount", len(tc.Teams))
	return nil
}
