// Package team maps IdP group claims onto the ordered set of teams a user
// may act as.
package team

import (
	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/config"
)

// Resolve produces the ordered, deduplicated list of candidate teams for
// groups, keeping only teams whose token role exists in tc. Order is the
// order teams first appear scanning groups left-to-right. Returns
// NO_TEAM_ASSIGNMENT if the result is empty.
func Resolve(tc *config.TeamConfig, groups []string) ([]string, error) {
	seen := make(map[string]bool, len(groups))
	var candidates []string

	for _, group := range groups {
		teamName, ok := tc.GroupToTeam[group]
		if !ok {
			continue
		}
		if _, ok := tc.Teams[teamName]; !ok {
			continue
		}
		if seen[teamName] {
			continue
		}
		seen[teamName] = true
		candidates = append(candidates, teamName)
	}

	if len(candidates) == 0 {
		return nil, brokererrors.NewNoTeamAssignmentError("user's groups did not resolve to any recognized team", nil)
	}
	return candidates, nil
}
