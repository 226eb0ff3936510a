// Package clusterfile loads the YAML cluster description shared by ccmd,
// ccmctl and ccm-sim.
package clusterfile

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-ccm/pkg/ccm"
	tlspkg "github.com/dd0wney/cluso-ccm/pkg/tls"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
	"github.com/dd0wney/cluso-ccm/pkg/validation"
)

// Defaults applied to fields left empty.
const (
	DefaultKeepalive = time.Second
	DefaultTransport = "mangos"
	DefaultLogLevel  = "info"
)

var ErrUnknownNode = errors.New("node not in cluster file")

// File is a parsed cluster file.
type File struct {
	Cluster    Cluster       `yaml:"cluster"`
	Nodes      []Node        `yaml:"nodes" validate:"required,min=1,max=256,dive"`
	Keepalive  time.Duration `yaml:"keepalive"`
	Deadtime   time.Duration `yaml:"deadtime"`
	RetryCount *int          `yaml:"retry_count" validate:"omitempty,gte=0,lte=10"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Admin      Admin         `yaml:"admin"`
	Transport  string        `yaml:"transport" validate:"omitempty,oneof=mangos zmq"`
	LogLevel   string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// StateInfoBeacons defaults to on.
	StateInfoBeacons *bool `yaml:"state_info_beacons"`
	// Quorum forces the reported quorum flag when set.
	Quorum *bool `yaml:"quorum"`
}

// Cluster names the cluster. The name is the admin token issuer.
type Cluster struct {
	Name string `yaml:"name" validate:"required"`
}

// Node is one roster entry.
type Node struct {
	Name    string `yaml:"name" validate:"required,nodename"`
	UUID    string `yaml:"uuid" validate:"omitempty,uuid"`
	Address string `yaml:"address" validate:"required,busaddr"`
	Admin   string `yaml:"admin" validate:"omitempty,hostname_port"`
}

// Admin configures the admin HTTP surface. Setting tls_cert and tls_key
// switches every node's admin endpoint to HTTPS.
type Admin struct {
	Addr      string `yaml:"addr" validate:"omitempty,hostname_port"`
	JWTSecret string `yaml:"jwt_secret"`

	TLSCert           string `yaml:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey            string `yaml:"tls_key" validate:"required_with=TLSCert"`
	TLSClientCA       string `yaml:"tls_client_ca" validate:"excluded_without=TLSCert"`
	RequireClientCert bool   `yaml:"require_client_cert" validate:"excluded_without=TLSClientCA"`

	// TLSCA verifies admin certificates on the client side. It defaults to
	// tls_cert, which suits a shared self-signed certificate.
	TLSCA string `yaml:"tls_ca"`
}

// TLS returns the server side TLS settings.
func (a Admin) TLS() tlspkg.Config {
	return tlspkg.Config{
		CertFile:          a.TLSCert,
		KeyFile:           a.TLSKey,
		CAFile:            a.TLSClientCA,
		RequireClientCert: a.RequireClientCert,
	}
}

// Scheme is the URL scheme of the admin endpoints.
func (a Admin) Scheme() string {
	if a.TLS().Enabled() {
		return "https"
	}
	return "http"
}

// ClientTLS returns the settings a client uses to reach admin endpoints,
// or nil when they speak plain HTTP.
func (a Admin) ClientTLS() (*tls.Config, error) {
	if !a.TLS().Enabled() {
		return nil, nil
	}
	return tlspkg.ClientConfig(validation.DefaultOr(a.TLSCA, a.TLSCert), false)
}

// Load reads and validates the cluster file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes, defaults and validates a cluster file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cluster file: %w", err)
	}
	f.applyDefaults()
	if err := validation.ValidateConfig(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	f.Keepalive = validation.DefaultOr(f.Keepalive, DefaultKeepalive)
	f.Deadtime = validation.DefaultOr(f.Deadtime, 4*f.Keepalive)
	f.Transport = validation.DefaultOr(f.Transport, DefaultTransport)
	f.LogLevel = validation.DefaultOr(f.LogLevel, DefaultLogLevel)
}

// Validate checks struct tags, then the rules that span fields.
func (f *File) Validate() error {
	if err := validation.ValidateStruct(f); err != nil {
		return err
	}

	names := make([]string, len(f.Nodes))
	for i, n := range f.Nodes {
		names[i] = n.Name
	}

	return validation.NewConfigValidator("cluster").
		Custom("nodes", func() error { return validation.ValidateUniqueNames(names) }).
		MinDuration("keepalive", f.Keepalive, 10*time.Millisecond).
		RangeDuration("deadtime", f.Deadtime, 2*f.Keepalive, 100*f.Keepalive).
		MaxDuration("retry_delay", f.RetryDelay, f.Keepalive).
		When(f.Admin.JWTSecret != "", func(cv *validation.ConfigValidator) {
			cv.Custom("admin.jwt_secret", func() error {
				if len(f.Admin.JWTSecret) < 32 {
					return errors.New("must be at least 32 characters")
				}
				return nil
			})
		}).
		Validate()
}

// Node returns the entry for name.
func (f *File) Node(name string) (Node, error) {
	for _, n := range f.Nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("%w: %q", ErrUnknownNode, name)
}

// Names lists node names in file order.
func (f *File) Names() []string {
	out := make([]string, len(f.Nodes))
	for i, n := range f.Nodes {
		out[i] = n.Name
	}
	return out
}

// Roster converts the node list for the engine. Missing UUIDs are derived
// from the name.
func (f *File) Roster() []ccm.RosterEntry {
	out := make([]ccm.RosterEntry, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		e := ccm.RosterEntry{Name: n.Name}
		if n.UUID != "" {
			e.UUID = uuid.MustParse(n.UUID)
		}
		out = append(out, e)
	}
	return out
}

// Peers converts the node list for a socket bus.
func (f *File) Peers() []transport.Peer {
	out := make([]transport.Peer, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		out = append(out, transport.Peer{Name: n.Name, Addr: n.Address})
	}
	return out
}

// EngineConfig builds the engine configuration for node.
func (f *File) EngineConfig(node string) (ccm.Config, error) {
	if _, err := f.Node(node); err != nil {
		return ccm.Config{}, err
	}
	cfg := ccm.DefaultConfig()
	cfg.NodeName = node
	cfg.Roster = f.Roster()
	cfg.Keepalive = f.Keepalive
	if f.RetryCount != nil {
		cfg.RetryCount = *f.RetryCount
	}
	if f.RetryDelay > 0 {
		cfg.RetryDelay = f.RetryDelay
	}
	if f.StateInfoBeacons != nil {
		cfg.StateInfoBeacons = *f.StateInfoBeacons
	}
	cfg.QuorumOverride = f.Quorum
	return cfg, nil
}

// BusConfig builds the socket bus configuration for node. Logger, metrics
// and the socket factory are left to the caller.
func (f *File) BusConfig(node string) (transport.SocketBusConfig, error) {
	n, err := f.Node(node)
	if err != nil {
		return transport.SocketBusConfig{}, err
	}
	return transport.SocketBusConfig{
		Local:      n.Name,
		ListenAddr: n.Address,
		Peers:      f.Peers(),
		Keepalive:  f.Keepalive,
		Deadtime:   f.Deadtime,
	}, nil
}
