// Package topology loads and validates the declarative fabric description
// that a verification run is evaluated against.
package topology

import (
	"fmt"
	"time"
)

// Node roles in a Clos fabric.
const (
	RoleLeaf  = "leaf"
	RoleSpine = "spine"
)

// Transport mechanisms for reaching a node's management endpoint.
const (
	TransportDocker = "docker"
	TransportSSH    = "ssh"
	TransportLocal  = "local"
)

// Endpoint describes how the command executor reaches a node.
type Endpoint struct {
	Transport string `yaml:"transport"`           // docker, ssh, or local
	Container string `yaml:"container,omitempty"` // docker: container name
	Host      string `yaml:"host,omitempty"`      // ssh: address
	Port      int    `yaml:"port,omitempty"`      // ssh: port (default 22)
	User      string `yaml:"user,omitempty"`      // ssh: user
	Password  string `yaml:"password,omitempty"`  // ssh: password auth
	Netns     string `yaml:"netns,omitempty"`     // local: network namespace

	// StateDBAddr is the Redis STATE_DB address for SONiC-style nodes.
	// When set, peering checks read BGP neighbor state from STATE_DB
	// first and fall back to the management CLI.
	StateDBAddr string `yaml:"statedb_addr,omitempty"`
}

// Node is one fabric device. Immutable once loaded.
type Node struct {
	Name     string   `yaml:"name"`
	Role     string   `yaml:"role"`
	Address  string   `yaml:"address,omitempty"` // fabric address peers see this node as
	Endpoint Endpoint `yaml:"endpoint"`
}

// Peering declares an expected established BGP session between two nodes.
// The session is verified from the local node's peer table; the neighbor
// address defaults to the remote node's fabric address.
type Peering struct {
	Local         string `yaml:"local"`
	Remote        string `yaml:"remote"`
	RemoteAddress string `yaml:"remote_address,omitempty"`
}

// RouteExpectation declares the exact ECMP fan-out a node must hold for
// a prefix. The comparison is exact equality, not at-least.
type RouteExpectation struct {
	Node     string `yaml:"node"`
	Prefix   string `yaml:"prefix"`
	NextHops int    `yaml:"next_hops"`
}

// ReachabilityExpectation declares a probe source, target address, and
// the maximum acceptable loss percentage.
type ReachabilityExpectation struct {
	Source         string  `yaml:"source"`
	Target         string  `yaml:"target"`
	MaxLossPercent float64 `yaml:"max_loss_percent"`
}

// Duration wraps time.Duration so YAML values like "5s" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults holds run-wide tunables applied when the file omits them.
type Defaults struct {
	CommandTimeout Duration `yaml:"command_timeout,omitempty"` // per executor call (default 5s)
	ProbeCount     int      `yaml:"probe_count,omitempty"`     // pings per reachability check (default 3)
	ProbeTimeout   Duration `yaml:"probe_timeout,omitempty"`   // per-probe timeout (default 1s)
}

// Topology is the full declarative model for one verification run.
// Loaded once, validated eagerly, never mutated afterwards.
type Topology struct {
	Defaults     Defaults                  `yaml:"defaults,omitempty"`
	Nodes        []*Node                   `yaml:"nodes"`
	Peerings     []Peering                 `yaml:"peerings,omitempty"`
	Routes       []RouteExpectation        `yaml:"routes,omitempty"`
	Reachability []ReachabilityExpectation `yaml:"reachability,omitempty"`

	byName map[string]*Node
}

// Node returns the named node, or nil if not declared.
func (t *Topology) Node(name string) *Node {
	return t.byName[name]
}

// NeighborAddress resolves the address under which a peering's remote
// node appears in the local node's peer table.
func (t *Topology) NeighborAddress(p Peering) string {
	if p.RemoteAddress != "" {
		return p.RemoteAddress
	}
	if n := t.Node(p.Remote); n != nil {
		return n.Address
	}
	return ""
}
