package topology

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clos-tools/fabcheck/pkg/util"
)

// Built-in defaults applied when the topology file omits them.
const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultProbeCount     = 3
	DefaultProbeTimeout   = 1 * time.Second
)

// Load reads a topology YAML file, applies defaults, and validates it.
// Validation happens eagerly, before any network activity, so a bad
// reference is reported immediately instead of surfacing later as a
// confusing per-node transport failure.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates topology YAML.
func Parse(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing topology: %w", err)
	}

	applyDefaults(&t)

	t.byName = make(map[string]*Node, len(t.Nodes))
	for _, n := range t.Nodes {
		if _, dup := t.byName[n.Name]; !dup {
			t.byName[n.Name] = n
		}
	}

	if err := validate(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func applyDefaults(t *Topology) {
	if t.Defaults.CommandTimeout == 0 {
		t.Defaults.CommandTimeout = Duration(DefaultCommandTimeout)
	}
	if t.Defaults.ProbeCount == 0 {
		t.Defaults.ProbeCount = DefaultProbeCount
	}
	if t.Defaults.ProbeTimeout == 0 {
		t.Defaults.ProbeTimeout = Duration(DefaultProbeTimeout)
	}
	for _, n := range t.Nodes {
		if n.Endpoint.Transport == TransportSSH && n.Endpoint.Port == 0 {
			n.Endpoint.Port = 22
		}
	}
}

// validate collects every problem in one pass so the operator sees the
// full list, not just the first.
func validate(t *Topology) error {
	var b util.ValidationBuilder

	b.Add(len(t.Nodes) > 0, "at least one node is required")

	seen := make(map[string]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Name == "" {
			b.AddError("node with empty name")
			continue
		}
		if seen[n.Name] {
			b.AddErrorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = true

		if n.Address != "" {
			if _, err := netip.ParseAddr(n.Address); err != nil {
				b.AddErrorf("node %q: invalid address %q", n.Name, n.Address)
			}
		}

		switch n.Role {
		case RoleLeaf, RoleSpine:
		default:
			b.AddErrorf("node %q: unknown role %q (want %s or %s)", n.Name, n.Role, RoleLeaf, RoleSpine)
		}

		switch n.Endpoint.Transport {
		case TransportDocker:
			b.Add(n.Endpoint.Container != "", fmt.Sprintf("node %q: docker endpoint requires container", n.Name))
		case TransportSSH:
			b.Add(n.Endpoint.Host != "", fmt.Sprintf("node %q: ssh endpoint requires host", n.Name))
			b.Add(n.Endpoint.User != "", fmt.Sprintf("node %q: ssh endpoint requires user", n.Name))
		case TransportLocal:
		default:
			b.AddErrorf("node %q: unknown transport %q", n.Name, n.Endpoint.Transport)
		}
	}

	for i, p := range t.Peerings {
		if t.Node(p.Local) == nil {
			b.AddErrorf("peering[%d]: local node %q not declared", i, p.Local)
		}
		if t.Node(p.Remote) == nil {
			b.AddErrorf("peering[%d]: remote node %q not declared", i, p.Remote)
		} else if t.NeighborAddress(p) == "" {
			b.AddErrorf("peering[%d]: node %q has no address and no remote_address override", i, p.Remote)
		}
	}

	for i, r := range t.Routes {
		if t.Node(r.Node) == nil {
			b.AddErrorf("route[%d]: node %q not declared", i, r.Node)
		}
		if _, err := netip.ParsePrefix(r.Prefix); err != nil {
			b.AddErrorf("route[%d]: invalid prefix %q", i, r.Prefix)
		}
		b.Add(r.NextHops > 0, fmt.Sprintf("route[%d]: next_hops must be positive, got %d", i, r.NextHops))
	}

	for i, r := range t.Reachability {
		if t.Node(r.Source) == nil {
			b.AddErrorf("reachability[%d]: source node %q not declared", i, r.Source)
		}
		if _, err := netip.ParseAddr(r.Target); err != nil {
			b.AddErrorf("reachability[%d]: invalid target address %q", i, r.Target)
		}
		b.Add(r.MaxLossPercent >= 0 && r.MaxLossPercent <= 100,
			fmt.Sprintf("reachability[%d]: max_loss_percent %.1f outside [0,100]", i, r.MaxLossPercent))
	}

	return b.Build()
}
