package ccm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
	"github.com/dd0wney/cluso-ccm/pkg/validation"
)

// SupportedProtoVersion is the highest protocol version this build speaks.
const SupportedProtoVersion = 1

// RosterEntry names one configured cluster node. A zero UUID is derived
// from the name.
type RosterEntry struct {
	Name string
	UUID uuid.UUID
}

// Config defines the behaviour of one membership engine
type Config struct {
	NodeName string        // Must match the bus local node
	Roster   []RosterEntry // Every node that may ever join, including this one

	Keepalive  time.Duration // Timer base; zero uses the bus keepalive
	RetryCount int           // Extra attempts per send
	RetryDelay time.Duration // Pause between send attempts

	ProtoVersion uint32 // Protocol version advertised in PROTOVERSION

	QuorumOverride   *bool // Forces the reported quorum flag when set
	StateInfoBeacons bool  // Periodic STATE_INFO while joined
}

// DefaultConfig returns a configuration with protocol defaults filled in.
func DefaultConfig() Config {
	return Config{
		RetryCount:       2,
		RetryDelay:       50 * time.Millisecond,
		ProtoVersion:     SupportedProtoVersion,
		StateInfoBeacons: true,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return ErrNoNodeName
	}
	if len(c.Roster) == 0 {
		return ErrEmptyRoster
	}
	if len(c.Roster) > bitmap.MaxNodes {
		return fmt.Errorf("%w: %d > %d", ErrRosterTooLarge, len(c.Roster), bitmap.MaxNodes)
	}

	names := make([]string, 0, len(c.Roster))
	found := false
	for _, r := range c.Roster {
		names = append(names, r.Name)
		if r.Name == c.NodeName {
			found = true
		}
	}
	if err := validation.ValidateUniqueNames(names); err != nil {
		return fmt.Errorf("%w: %v", ErrDuplicateNode, err)
	}
	if !found {
		return ErrNotInRoster
	}

	return validation.NewConfigValidator("ccm.Config").
		Custom("NodeName", func() error { return validation.ValidateNodeName(c.NodeName) }).
		RangeInt("RetryCount", c.RetryCount, 0, 10).
		MaxDuration("RetryDelay", c.RetryDelay, 5*time.Second).
		When(c.Keepalive != 0, func(cv *validation.ConfigValidator) {
			cv.MinDuration("Keepalive", c.Keepalive, time.Millisecond)
		}).
		Custom("ProtoVersion", func() error {
			if c.ProtoVersion == 0 || c.ProtoVersion > SupportedProtoVersion {
				return fmt.Errorf("version %d outside [1, %d]", c.ProtoVersion, SupportedProtoVersion)
			}
			return nil
		}).
		Validate()
}

// RosterFromNames builds roster entries with derived UUIDs.
func RosterFromNames(names ...string) []RosterEntry {
	out := make([]RosterEntry, 0, len(names))
	for _, n := range names {
		out = append(out, RosterEntry{Name: n})
	}
	return out
}
