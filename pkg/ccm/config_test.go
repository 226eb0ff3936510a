package ccm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.NodeName = "node-a"
	cfg.Roster = RosterFromNames("node-a", "node-b", "node-c")
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		wantMsg string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no name", mutate: func(c *Config) { c.NodeName = "" }, wantErr: ErrNoNodeName},
		{name: "empty roster", mutate: func(c *Config) { c.Roster = nil }, wantErr: ErrEmptyRoster},
		{name: "not in roster", mutate: func(c *Config) { c.NodeName = "node-z" }, wantErr: ErrNotInRoster},
		{
			name:    "duplicate",
			mutate:  func(c *Config) { c.Roster = RosterFromNames("node-a", "node-a") },
			wantErr: ErrDuplicateNode,
		},
		{
			name: "roster too large",
			mutate: func(c *Config) {
				c.Roster = make([]RosterEntry, 300)
			},
			wantErr: ErrRosterTooLarge,
		},
		{
			name: "bad node name",
			mutate: func(c *Config) {
				c.NodeName = "-bad"
				c.Roster = RosterFromNames("-bad")
			},
			wantMsg: "NodeName",
		},
		{name: "retry count", mutate: func(c *Config) { c.RetryCount = 11 }, wantMsg: "RetryCount"},
		{name: "retry delay", mutate: func(c *Config) { c.RetryDelay = time.Minute }, wantMsg: "RetryDelay"},
		{name: "keepalive", mutate: func(c *Config) { c.Keepalive = time.Microsecond }, wantMsg: "Keepalive"},
		{name: "proto zero", mutate: func(c *Config) { c.ProtoVersion = 0 }, wantMsg: "ProtoVersion"},
		{name: "proto future", mutate: func(c *Config) { c.ProtoVersion = 2 }, wantMsg: "ProtoVersion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantMsg != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tt.wantMsg)
				}
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.RetryCount)
	assert.Equal(t, uint32(SupportedProtoVersion), cfg.ProtoVersion)
	assert.True(t, cfg.StateInfoBeacons)
	assert.Nil(t, cfg.QuorumOverride)
}
