package visibility

import (
	"errors"
	"fmt"
)

// PolicyLevel is the deployment-wide visibility policy.
type PolicyLevel string

const (
	PolicyEveryone  PolicyLevel = "everyone"
	PolicyHousehold PolicyLevel = "household"
	PolicyOwner     PolicyLevel = "owner"
)

// ErrUnknownPolicy indicates a string that names no policy level.
var ErrUnknownPolicy = errors.New("visibility: unknown policy level")

// ParsePolicy validates a policy string from config or an admin call.
func ParsePolicy(s string) (PolicyLevel, error) {
	switch PolicyLevel(s) {
	case PolicyEveryone, PolicyHousehold, PolicyOwner:
		return PolicyLevel(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Context identifies the actor a routing decision is made for.
type Context struct {
	UserID       string
	HouseholdKey string
}
