// Package check evaluates a topology's declared invariants against
// live fabric state and aggregates the verdicts into a report.
package check

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clos-tools/fabcheck/pkg/frr"
	"github.com/clos-tools/fabcheck/pkg/statedb"
	"github.com/clos-tools/fabcheck/pkg/topology"
	"github.com/clos-tools/fabcheck/pkg/transport"
	"github.com/clos-tools/fabcheck/pkg/util"
)

// Verdict is the outcome of one check.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictFail  Verdict = "FAIL"  // observed state violates the expectation
	VerdictError Verdict = "ERROR" // the fabric could not be observed
)

// severity orders verdicts for aggregation: Error > Fail > Pass.
func severity(v Verdict) int {
	switch v {
	case VerdictError:
		return 2
	case VerdictFail:
		return 1
	default:
		return 0
	}
}

// Check kinds, in report order.
const (
	KindPeering      = "peering"
	KindRoute        = "route"
	KindReachability = "reachability"
)

// Result is the verdict for one declared expectation. Exactly one is
// produced per expectation per run, created once and never revised.
type Result struct {
	Kind     string        `json:"kind"`
	Subject  string        `json:"subject"`
	Node     string        `json:"node"`
	Verdict  Verdict       `json:"verdict"`
	Evidence string        `json:"evidence"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates all results of one run in declared order.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	Results   []Result      `json:"results"`
	Overall   Verdict       `json:"overall"`
	Duration  time.Duration `json:"duration"`
}

// Checker runs every declared check against the fabric.
type Checker struct {
	topo     *topology.Topology
	parallel int

	executors map[string]transport.Executor
	sessions  map[string]statedb.SessionReader
}

// Option configures a Checker.
type Option func(*Checker)

// WithParallel bounds how many nodes are checked concurrently.
// 1 gives a strictly sequential run.
func WithParallel(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// WithExecutor overrides the executor for one node. Used by tests.
func WithExecutor(node string, ex transport.Executor) Option {
	return func(c *Checker) { c.executors[node] = ex }
}

// WithSessionReader overrides the STATE_DB reader for one node.
func WithSessionReader(node string, r statedb.SessionReader) Option {
	return func(c *Checker) { c.sessions[node] = r }
}

// New builds a Checker for a validated topology. Executors are created
// per node from the declared endpoints unless overridden.
func New(topo *topology.Topology, opts ...Option) *Checker {
	c := &Checker{
		topo:      topo,
		parallel:  4,
		executors: make(map[string]transport.Executor),
		sessions:  make(map[string]statedb.SessionReader),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, n := range topo.Nodes {
		if _, ok := c.executors[n.Name]; !ok {
			c.executors[n.Name] = transport.New(n, topo.Defaults.CommandTimeout.Std())
		}
		if n.Endpoint.StateDBAddr != "" {
			if _, ok := c.sessions[n.Name]; !ok {
				c.sessions[n.Name] = statedb.NewClient(n.Endpoint.StateDBAddr)
			}
		}
	}
	return c
}

// Close releases per-node connections.
func (c *Checker) Close() {
	for _, r := range c.sessions {
		r.Close()
	}
	for _, ex := range c.executors {
		if closer, ok := ex.(interface{ Close() error }); ok {
			closer.Close()
		}
	}
}

// boundCheck pairs a declared expectation with its slot in the report,
// so results land in declared order however execution interleaves.
type boundCheck struct {
	index int
	node  string
	run   func(ctx context.Context) Result
}

// Run executes every declared check. Checks on one node run in
// declaration order on that node's serialized executor; distinct nodes
// proceed in parallel. Topology problems were ruled out at load time,
// so Run always returns a full report: transport and parse failures
// become Error verdicts, never an aborted run.
func (c *Checker) Run(ctx context.Context) *Report {
	start := time.Now()

	checks := c.bind()
	results := make([]Result, len(checks))

	byNode := make(map[string][]boundCheck)
	var nodeOrder []string
	for _, bc := range checks {
		if _, seen := byNode[bc.node]; !seen {
			nodeOrder = append(nodeOrder, bc.node)
		}
		byNode[bc.node] = append(byNode[bc.node], bc)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for _, name := range nodeOrder {
		nodeChecks := byNode[name]
		g.Go(func() error {
			for _, bc := range nodeChecks {
				res := bc.run(gctx)
				res.Duration = res.Duration.Round(time.Millisecond)
				results[bc.index] = res
				util.WithCheck(res.Kind).WithField("node", bc.node).
					Debugf("%s: %s (%s)", res.Subject, res.Verdict, res.Evidence)
			}
			return nil
		})
	}
	g.Wait()

	report := &Report{
		Timestamp: start,
		Results:   results,
		Overall:   VerdictPass,
		Duration:  time.Since(start),
	}
	for _, r := range results {
		if severity(r.Verdict) > severity(report.Overall) {
			report.Overall = r.Verdict
		}
	}
	return report
}

// bind lays out the run's checks in declared order: peerings, then
// routes, then reachability.
func (c *Checker) bind() []boundCheck {
	var checks []boundCheck
	idx := 0

	for _, p := range c.topo.Peerings {
		p := p
		checks = append(checks, boundCheck{
			index: idx,
			node:  p.Local,
			run:   func(ctx context.Context) Result { return c.runPeering(ctx, p) },
		})
		idx++
	}
	for _, r := range c.topo.Routes {
		r := r
		checks = append(checks, boundCheck{
			index: idx,
			node:  r.Node,
			run:   func(ctx context.Context) Result { return c.runRoute(ctx, r) },
		})
		idx++
	}
	for _, r := range c.topo.Reachability {
		r := r
		checks = append(checks, boundCheck{
			index: idx,
			node:  r.Source,
			run:   func(ctx context.Context) Result { return c.runReachability(ctx, r) },
		})
		idx++
	}
	return checks
}

// runPeering verifies one expected BGP session from the local node's
// peer table. STATE_DB is consulted first when the node exposes it;
// the management CLI is the fallback.
func (c *Checker) runPeering(ctx context.Context, p topology.Peering) Result {
	start := time.Now()
	neighbor := c.topo.NeighborAddress(p)
	res := Result{
		Kind:    KindPeering,
		Subject: fmt.Sprintf("%s -> %s (%s)", p.Local, p.Remote, neighbor),
		Node:    p.Local,
	}

	if reader, ok := c.sessions[p.Local]; ok {
		raw, err := reader.PeerState(ctx, neighbor)
		if err == nil {
			res.Verdict, res.Evidence = peeringVerdict(frr.CanonicalState(raw), raw)
			res.Duration = time.Since(start)
			return res
		}
		util.WithNode(p.Local).Debugf("statedb lookup for %s failed (%v), falling back to CLI", neighbor, err)
	}

	out, err := c.executors[p.Local].Execute(ctx, transport.PeerSummaryRequest{})
	if err != nil && strings.TrimSpace(out) == "" {
		res.Verdict = VerdictError
		res.Evidence = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	peers, perr := frr.ParsePeerSummary(out)
	if perr != nil {
		res.Verdict = VerdictError
		res.Evidence = perr.Error()
		res.Detail = snippet(out)
		res.Duration = time.Since(start)
		return res
	}

	peer, found := peers[neighbor]
	if !found {
		res.Verdict = VerdictFail
		// The neighbor is not in the peer table at all; the raw capture
		// is the evidence.
		res.Evidence = fmt.Sprintf("%s: %s", frr.StateUnknown, snippet(out))
		res.Duration = time.Since(start)
		return res
	}

	res.Verdict, res.Evidence = peeringVerdict(peer.State, peer.Raw)
	res.Duration = time.Since(start)
	return res
}

func peeringVerdict(state frr.SessionState, raw string) (Verdict, string) {
	if state == frr.StateEstablished {
		return VerdictPass, raw
	}
	return VerdictFail, raw
}

// runRoute verifies the exact ECMP fan-out for one prefix. The actual
// next-hop count is compared by equality, not "at least".
func (c *Checker) runRoute(ctx context.Context, r topology.RouteExpectation) Result {
	start := time.Now()
	res := Result{
		Kind:    KindRoute,
		Subject: fmt.Sprintf("%s %s", r.Node, r.Prefix),
		Node:    r.Node,
	}

	out, err := c.executors[r.Node].Execute(ctx, transport.RouteQueryRequest{Prefix: r.Prefix})
	if err != nil && strings.TrimSpace(out) == "" {
		res.Verdict = VerdictError
		res.Evidence = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	hops, perr := frr.ParseRouteNextHops(r.Prefix, out)
	if perr != nil {
		res.Verdict = VerdictError
		res.Evidence = perr.Error()
		res.Detail = snippet(out)
		res.Duration = time.Since(start)
		return res
	}

	res.Evidence = fmt.Sprintf("count=%d", len(hops))
	res.Detail = fmt.Sprintf("expected %d, next-hops [%s]", r.NextHops, strings.Join(hops, " "))
	if len(hops) == r.NextHops {
		res.Verdict = VerdictPass
	} else {
		res.Verdict = VerdictFail
	}
	res.Duration = time.Since(start)
	return res
}

// runReachability issues the configured probe count in one ping
// invocation and compares observed loss to the declared threshold.
// A transport failure is an Error, not a Fail: "could not probe" and
// "probed and lost packets" are different findings.
func (c *Checker) runReachability(ctx context.Context, r topology.ReachabilityExpectation) Result {
	start := time.Now()
	res := Result{
		Kind:    KindReachability,
		Subject: fmt.Sprintf("%s -> %s", r.Source, r.Target),
		Node:    r.Source,
	}

	req := transport.PingRequest{
		Target:  r.Target,
		Count:   c.topo.Defaults.ProbeCount,
		Timeout: c.topo.Defaults.ProbeTimeout.Std(),
	}
	out, err := c.executors[r.Source].Execute(ctx, req)
	// A lossy ping exits non-zero but still prints statistics; only a
	// missing transcript means no probe was sent.
	if err != nil && strings.TrimSpace(out) == "" {
		res.Verdict = VerdictError
		res.Evidence = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	stats, perr := frr.ParsePingStats(out)
	if perr != nil {
		res.Verdict = VerdictError
		res.Evidence = perr.Error()
		res.Detail = snippet(out)
		res.Duration = time.Since(start)
		return res
	}

	res.Evidence = fmt.Sprintf("%.0f%% loss (%d/%d received)", stats.LossPercent, stats.Received, stats.Sent)
	if stats.LossPercent <= r.MaxLossPercent {
		res.Verdict = VerdictPass
	} else {
		res.Verdict = VerdictFail
		res.Detail = fmt.Sprintf("threshold %.0f%%", r.MaxLossPercent)
	}
	res.Duration = time.Since(start)
	return res
}

// snippet trims raw command output for use as a detail message.
func snippet(out string) string {
	s := strings.TrimSpace(out)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
