// Package transport executes typed management requests against fabric
// nodes. Callers depend only on the Executor contract, not on how a
// node is reached.
package transport

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/clos-tools/fabcheck/pkg/topology"
	"github.com/clos-tools/fabcheck/pkg/util"
)

// Request is one of the closed set of management commands the engine
// issues. Values come straight from the validated topology, so
// rendering never assembles untrusted strings.
type Request interface {
	// Render returns the daemon CLI command line for this request.
	Render() string
}

// PeerSummaryRequest queries the BGP peering table. The daemon's
// machine-readable mode is requested; the parser falls back to the
// tabular text grammar when the output is not JSON.
type PeerSummaryRequest struct{}

func (PeerSummaryRequest) Render() string {
	return "vtysh -c 'show bgp summary json'"
}

// RouteQueryRequest queries the routing table entry for one prefix.
type RouteQueryRequest struct {
	Prefix string
}

func (r RouteQueryRequest) Render() string {
	return fmt.Sprintf("vtysh -c 'show ip route %s'", r.Prefix)
}

// PingRequest issues bounded ICMP probes toward a target address.
type PingRequest struct {
	Target  string
	Count   int
	Timeout time.Duration // per probe
}

func (r PingRequest) Render() string {
	secs := int(math.Ceil(r.Timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("ping -c %d -W %d %s", r.Count, secs, r.Target)
}

// TransportError reports that a node could not be reached or a command
// could not be executed. It is never process-fatal; the checker records
// it as an Error verdict for the affected check.
type TransportError struct {
	Node  string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return util.ErrUnreachable
}

// Executor runs one management command against one node and returns the
// raw text output. Implementations return partial output alongside a
// *TransportError when the command itself failed (a lossy ping exits
// non-zero but still prints its statistics).
type Executor interface {
	Node() string
	Execute(ctx context.Context, req Request) (string, error)
}

// New builds the executor for a node from its declared endpoint and
// wraps it so calls are serialized per node and bounded by timeout.
// Distinct nodes proceed in parallel; commands on one node never
// interleave.
func New(n *topology.Node, timeout time.Duration) Executor {
	var inner Executor
	switch n.Endpoint.Transport {
	case topology.TransportDocker:
		inner = &DockerExecutor{node: n.Name, container: n.Endpoint.Container}
	case topology.TransportSSH:
		inner = NewSSHExecutor(n)
	default:
		inner = &LocalExecutor{node: n.Name, netns: n.Endpoint.Netns}
	}
	return &serialExecutor{inner: inner, timeout: timeout}
}

// serialExecutor guards an underlying executor with a mutex and applies
// the per-call timeout. The transports are not safe for interleaved use
// on one connection, so this is where per-node ordering lives.
type serialExecutor struct {
	mu      sync.Mutex
	inner   Executor
	timeout time.Duration
}

func (s *serialExecutor) Node() string { return s.inner.Node() }

func (s *serialExecutor) Execute(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.inner.Execute(ctx, req)
	if err != nil && ctx.Err() != nil {
		return out, &TransportError{Node: s.inner.Node(), Cause: fmt.Errorf("command timed out after %s: %w", s.timeout, ctx.Err())}
	}
	return out, err
}
