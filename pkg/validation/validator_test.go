package validation

import (
	"strings"
	"testing"
)

type testNode struct {
	Name    string `validate:"required,nodename"`
	Address string `validate:"required,busaddr"`
	UUID    string `validate:"omitempty,uuid"`
}

type testCluster struct {
	Name      string     `validate:"required"`
	Transport string     `validate:"omitempty,oneof=mangos zmq"`
	Nodes     []testNode `validate:"required,min=1,max=256,dive"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		value   *testCluster
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid cluster",
			value: &testCluster{
				Name:      "prod",
				Transport: "mangos",
				Nodes: []testNode{
					{Name: "node-a", Address: "tcp://10.0.0.1:7400"},
					{Name: "node-b", Address: "tcp://:7400", UUID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
				},
			},
		},
		{
			name:    "missing name",
			value:   &testCluster{Nodes: []testNode{{Name: "a", Address: "tcp://h:1"}}},
			wantErr: true,
			errMsg:  "Name",
		},
		{
			name:    "no nodes",
			value:   &testCluster{Name: "prod", Nodes: []testNode{}},
			wantErr: true,
			errMsg:  "Nodes",
		},
		{
			name:    "bad transport",
			value:   &testCluster{Name: "prod", Transport: "udp", Nodes: []testNode{{Name: "a", Address: "tcp://h:1"}}},
			wantErr: true,
			errMsg:  "one of",
		},
		{
			name:    "bad node name",
			value:   &testCluster{Name: "prod", Nodes: []testNode{{Name: "-a", Address: "tcp://h:1"}}},
			wantErr: true,
			errMsg:  "invalid node name",
		},
		{
			name:    "bad address",
			value:   &testCluster{Name: "prod", Nodes: []testNode{{Name: "a", Address: "h:1"}}},
			wantErr: true,
			errMsg:  "invalid bus address",
		},
		{
			name:    "bad uuid",
			value:   &testCluster{Name: "prod", Nodes: []testNode{{Name: "a", Address: "tcp://h:1", UUID: "nope"}}},
			wantErr: true,
			errMsg:  "invalid UUID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q should mention %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateStruct_Nil(t *testing.T) {
	if err := ValidateStruct(nil); err == nil {
		t.Error("expected error for nil value")
	}
}

func TestValidateNodeName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"simple", "node1", false},
		{"dotted", "db.east-1_a", false},
		{"empty", "", true},
		{"leading dash", "-node", true},
		{"space", "node 1", true},
		{"too long", strings.Repeat("n", MaxNodeNameLength+1), true},
		{"max length", strings.Repeat("n", MaxNodeNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNodeName(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNodeName(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBusAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"tcp://127.0.0.1:7400", false},
		{"tcp://node-a:7400", false},
		{"tcp://:7400", false},
		{"tcp://[::1]:7400", false},
		{"udp://127.0.0.1:7400", true},
		{"127.0.0.1:7400", true},
		{"tcp://127.0.0.1", true},
		{"tcp://host:", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateBusAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBusAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestValidateUniqueNames(t *testing.T) {
	if err := ValidateUniqueNames([]string{"a", "b", "c"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateUniqueNames([]string{"a", "b", "a"})
	if err == nil || !strings.Contains(err.Error(), "'a'") {
		t.Errorf("expected duplicate error naming 'a', got %v", err)
	}
}
