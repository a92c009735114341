package check

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/clos-tools/fabcheck/pkg/frr"
	"github.com/clos-tools/fabcheck/pkg/topology"
	"github.com/clos-tools/fabcheck/pkg/transport"
	"github.com/clos-tools/fabcheck/pkg/util"
)

// fakeExecutor serves canned daemon output per request type.
type fakeExecutor struct {
	node        string
	peerSummary string
	routes      map[string]string // prefix → output
	pings       map[string]string // target → output
	down        bool              // every call returns a TransportError

	mu    sync.Mutex
	calls int
}

func (f *fakeExecutor) Node() string { return f.node }

func (f *fakeExecutor) Execute(ctx context.Context, req transport.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.down {
		return "", &transport.TransportError{Node: f.node, Cause: errors.New("connection refused")}
	}
	switch r := req.(type) {
	case transport.PeerSummaryRequest:
		return f.peerSummary, nil
	case transport.RouteQueryRequest:
		return f.routes[r.Prefix], nil
	case transport.PingRequest:
		return f.pings[r.Target], nil
	}
	return "", &transport.TransportError{Node: f.node, Cause: fmt.Errorf("unexpected request %T", req)}
}

func summaryFor(states map[string]string) string {
	var peers []string
	for addr, state := range states {
		peers = append(peers, fmt.Sprintf("%q: {\"state\": %q}", addr, state))
	}
	return fmt.Sprintf(`{"ipv4Unicast": {"peers": {%s}}}`, strings.Join(peers, ", "))
}

func routeEntryFor(prefix string, hops ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Routing entry for %s\n  Known via \"bgp\", distance 20, metric 0, best\n", prefix)
	for _, h := range hops {
		fmt.Fprintf(&b, "  * %s, via Ethernet0, weight 1\n", h)
	}
	return b.String()
}

const healthyPing = `PING target 56(84) bytes of data.

--- target ping statistics ---
3 packets transmitted, 3 received, 0% packet loss, time 2003ms`

const lossyPing = `--- target ping statistics ---
3 packets transmitted, 2 received, 33.3333% packet loss, time 2010ms`

// fabricTopology is the four-node Clos used across scenario tests:
// peerings verified from leaf1 and from the spines, ECMP expectations
// on both leaves, and one reachability probe per leaf.
const fabricTopology = `
nodes:
  - name: leaf1
    role: leaf
    address: 10.0.1.2
    endpoint: {transport: local}
  - name: leaf2
    role: leaf
    address: 10.0.2.2
    endpoint: {transport: local}
  - name: spine1
    role: spine
    address: 10.0.1.1
    endpoint: {transport: local}
  - name: spine2
    role: spine
    address: 10.0.2.1
    endpoint: {transport: local}
peerings:
  - local: leaf1
    remote: spine1
  - local: leaf1
    remote: spine2
  - local: spine1
    remote: leaf2
  - local: spine2
    remote: leaf2
routes:
  - node: leaf1
    prefix: 10.2.0.0/24
    next_hops: 2
  - node: leaf2
    prefix: 10.1.0.0/24
    next_hops: 2
reachability:
  - source: leaf1
    target: 10.0.0.2
    max_loss_percent: 0
  - source: leaf2
    target: 10.0.0.1
    max_loss_percent: 0
`

// healthyFakes builds executors for a fabric where everything passes.
func healthyFakes() map[string]*fakeExecutor {
	return map[string]*fakeExecutor{
		"leaf1": {
			node:        "leaf1",
			peerSummary: summaryFor(map[string]string{"10.0.1.1": "Established", "10.0.2.1": "Established"}),
			routes:      map[string]string{"10.2.0.0/24": routeEntryFor("10.2.0.0/24", "10.0.1.1", "10.0.2.1")},
			pings:       map[string]string{"10.0.0.2": healthyPing},
		},
		"leaf2": {
			node:        "leaf2",
			peerSummary: summaryFor(map[string]string{"10.0.1.1": "Established", "10.0.2.1": "Established"}),
			routes:      map[string]string{"10.1.0.0/24": routeEntryFor("10.1.0.0/24", "10.0.1.1", "10.0.2.1")},
			pings:       map[string]string{"10.0.0.1": healthyPing},
		},
		"spine1": {
			node:        "spine1",
			peerSummary: summaryFor(map[string]string{"10.0.1.2": "Established", "10.0.2.2": "Established"}),
		},
		"spine2": {
			node:        "spine2",
			peerSummary: summaryFor(map[string]string{"10.0.1.2": "Established", "10.0.2.2": "Established"}),
		},
	}
}

func newFabricChecker(t *testing.T, fakes map[string]*fakeExecutor, opts ...Option) *Checker {
	t.Helper()
	topo, err := topology.Parse([]byte(fabricTopology))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for name, ex := range fakes {
		opts = append(opts, WithExecutor(name, ex))
	}
	return New(topo, opts...)
}

func TestRun_ScenarioA_AllHealthy(t *testing.T) {
	c := newFabricChecker(t, healthyFakes())
	report := c.Run(context.Background())

	if report.Overall != VerdictPass {
		t.Fatalf("Overall = %s, want PASS\n%s", report.Overall, dump(report))
	}
	if got := report.ExitCode(); got != ExitPass {
		t.Errorf("ExitCode = %d, want 0", got)
	}
	if len(report.Results) != 8 {
		t.Fatalf("len(Results) = %d, want 8 (one per declared check)", len(report.Results))
	}
	for _, res := range report.Results {
		if res.Verdict != VerdictPass {
			t.Errorf("%s %s: verdict %s, want PASS (%s)", res.Kind, res.Subject, res.Verdict, res.Evidence)
		}
	}
}

func TestRun_ScenarioB_SingleNextHop(t *testing.T) {
	fakes := healthyFakes()
	fakes["leaf1"].routes["10.2.0.0/24"] = routeEntryFor("10.2.0.0/24", "10.0.1.1")

	c := newFabricChecker(t, fakes)
	report := c.Run(context.Background())

	if report.Overall != VerdictFail {
		t.Fatalf("Overall = %s, want FAIL\n%s", report.Overall, dump(report))
	}
	if got := report.ExitCode(); got != ExitFail {
		t.Errorf("ExitCode = %d, want 1", got)
	}

	var failed []Result
	for _, res := range report.Results {
		if res.Verdict != VerdictPass {
			failed = append(failed, res)
		}
	}
	if len(failed) != 1 {
		t.Fatalf("%d non-pass results, want exactly 1\n%s", len(failed), dump(report))
	}
	res := failed[0]
	if res.Kind != KindRoute || res.Subject != "leaf1 10.2.0.0/24" {
		t.Errorf("failed check = %s %s, want the leaf1 route check", res.Kind, res.Subject)
	}
	if res.Evidence != "count=1" {
		t.Errorf("Evidence = %q, want count=1", res.Evidence)
	}
}

func TestRun_ScenarioC_NodeUnreachable(t *testing.T) {
	fakes := healthyFakes()
	fakes["spine1"].down = true

	c := newFabricChecker(t, fakes)
	report := c.Run(context.Background())

	if report.Overall != VerdictError {
		t.Fatalf("Overall = %s, want ERROR\n%s", report.Overall, dump(report))
	}
	if got := report.ExitCode(); got != ExitError {
		t.Errorf("ExitCode = %d, want 2", got)
	}

	for _, res := range report.Results {
		if res.Node == "spine1" {
			if res.Verdict != VerdictError {
				t.Errorf("%s: verdict %s, want ERROR", res.Subject, res.Verdict)
			}
			if !strings.Contains(res.Evidence, "connection refused") {
				t.Errorf("%s: evidence %q should carry the transport cause", res.Subject, res.Evidence)
			}
		} else if res.Verdict != VerdictPass {
			t.Errorf("%s: verdict %s, checks not involving spine1 must be unaffected", res.Subject, res.Verdict)
		}
	}
}

func TestRun_DeclaredOrder(t *testing.T) {
	// Parallel execution must not leak into report ordering.
	c := newFabricChecker(t, healthyFakes(), WithParallel(4))
	report := c.Run(context.Background())

	wantSubjects := []string{
		"leaf1 -> spine1 (10.0.1.1)",
		"leaf1 -> spine2 (10.0.2.1)",
		"spine1 -> leaf2 (10.0.2.2)",
		"spine2 -> leaf2 (10.0.2.2)",
		"leaf1 10.2.0.0/24",
		"leaf2 10.1.0.0/24",
		"leaf1 -> 10.0.0.2",
		"leaf2 -> 10.0.0.1",
	}
	if len(report.Results) != len(wantSubjects) {
		t.Fatalf("len(Results) = %d, want %d", len(report.Results), len(wantSubjects))
	}
	for i, want := range wantSubjects {
		if report.Results[i].Subject != want {
			t.Errorf("Results[%d].Subject = %q, want %q", i, report.Results[i].Subject, want)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	c := newFabricChecker(t, healthyFakes())
	first := c.Run(context.Background())
	second := c.Run(context.Background())

	if len(first.Results) != len(second.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.Subject != b.Subject || a.Verdict != b.Verdict || a.Evidence != b.Evidence {
			t.Errorf("run differs at [%d]: %+v vs %+v", i, a, b)
		}
	}
}

func TestRunPeering_NonEstablishedStates(t *testing.T) {
	tests := []struct {
		state string
		want  Verdict
	}{
		{"Established", VerdictPass},
		{"Idle", VerdictFail},
		{"Active", VerdictFail},
		{"Connect", VerdictFail},
		{"OpenSent", VerdictFail},
		{"OpenConfirm", VerdictFail},
		{"Idle (Admin)", VerdictFail}, // unrecognized → Unknown, never a known state
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			fakes := healthyFakes()
			fakes["leaf1"].peerSummary = summaryFor(map[string]string{
				"10.0.1.1": tt.state,
				"10.0.2.1": "Established",
			})
			c := newFabricChecker(t, fakes)
			report := c.Run(context.Background())

			res := report.Results[0] // leaf1 -> spine1
			if res.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s", res.Verdict, tt.want)
			}
			if res.Evidence != tt.state {
				t.Errorf("Evidence = %q, want the raw state %q", res.Evidence, tt.state)
			}
		})
	}
}

func TestRunPeering_PeerAbsent(t *testing.T) {
	fakes := healthyFakes()
	fakes["leaf1"].peerSummary = summaryFor(map[string]string{"10.0.2.1": "Established"})

	c := newFabricChecker(t, fakes)
	report := c.Run(context.Background())

	res := report.Results[0] // leaf1 -> spine1
	if res.Verdict != VerdictFail {
		t.Errorf("verdict = %s, want FAIL", res.Verdict)
	}
	if !strings.HasPrefix(res.Evidence, string(frr.StateUnknown)) {
		t.Errorf("Evidence = %q, want Unknown state", res.Evidence)
	}
	if !strings.Contains(res.Evidence, "10.0.2.1") {
		t.Errorf("Evidence = %q, want the raw capture appended", res.Evidence)
	}
}

func TestRunPeering_ParseErrorIsError(t *testing.T) {
	fakes := healthyFakes()
	fakes["leaf1"].peerSummary = "vtysh: command not found"

	c := newFabricChecker(t, fakes)
	report := c.Run(context.Background())

	res := report.Results[0]
	if res.Verdict != VerdictError {
		t.Errorf("verdict = %s, want ERROR (parse failure is not a Fail)", res.Verdict)
	}
}

func TestRunRoute_ExactEquality(t *testing.T) {
	tests := []struct {
		name string
		hops []string
		want Verdict
	}{
		{"two of two", []string{"10.0.1.1", "10.0.2.1"}, VerdictPass},
		{"one of two", []string{"10.0.1.1"}, VerdictFail},
		{"three of two", []string{"10.0.1.1", "10.0.2.1", "10.0.3.1"}, VerdictFail},
		{"prefix absent", nil, VerdictFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakes := healthyFakes()
			if tt.hops == nil {
				fakes["leaf1"].routes["10.2.0.0/24"] = "% Network not in table\n"
			} else {
				fakes["leaf1"].routes["10.2.0.0/24"] = routeEntryFor("10.2.0.0/24", tt.hops...)
			}
			c := newFabricChecker(t, fakes)
			report := c.Run(context.Background())

			res := report.Results[4] // leaf1 route check
			if res.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s (%s)", res.Verdict, tt.want, res.Evidence)
			}
			if want := fmt.Sprintf("count=%d", len(tt.hops)); res.Evidence != want {
				t.Errorf("Evidence = %q, want %q", res.Evidence, want)
			}
		})
	}
}

func TestRunReachability_Verdicts(t *testing.T) {
	t.Run("loss over threshold fails", func(t *testing.T) {
		fakes := healthyFakes()
		fakes["leaf1"].pings["10.0.0.2"] = lossyPing
		c := newFabricChecker(t, fakes)
		report := c.Run(context.Background())

		res := report.Results[6] // leaf1 reachability
		if res.Verdict != VerdictFail {
			t.Errorf("verdict = %s, want FAIL", res.Verdict)
		}
		if !strings.Contains(res.Evidence, "33% loss") {
			t.Errorf("Evidence = %q, want observed loss", res.Evidence)
		}
	})

	t.Run("transport failure is an error not a fail", func(t *testing.T) {
		fakes := healthyFakes()
		fakes["leaf1"].down = true
		c := newFabricChecker(t, fakes)
		report := c.Run(context.Background())

		res := report.Results[6]
		if res.Verdict != VerdictError {
			t.Errorf("verdict = %s, want ERROR", res.Verdict)
		}
	})
}

// fakeSessionReader serves session state without touching Redis.
type fakeSessionReader struct {
	states map[string]string
}

func (f *fakeSessionReader) PeerState(ctx context.Context, neighbor string) (string, error) {
	if s, ok := f.states[neighbor]; ok {
		return s, nil
	}
	return "", fmt.Errorf("BGP neighbor %s: %w", neighbor, util.ErrNotFound)
}

func (f *fakeSessionReader) Close() error { return nil }

func TestRunPeering_StateDBPreferred(t *testing.T) {
	fakes := healthyFakes()
	// CLI on leaf1 is down; STATE_DB alone must carry the peering checks.
	fakes["leaf1"].down = true
	reader := &fakeSessionReader{states: map[string]string{
		"10.0.1.1": "Established",
		"10.0.2.1": "Established",
	}}

	c := newFabricChecker(t, fakes, WithSessionReader("leaf1", reader))
	report := c.Run(context.Background())

	for _, i := range []int{0, 1} {
		if res := report.Results[i]; res.Verdict != VerdictPass {
			t.Errorf("%s: verdict %s, want PASS via STATE_DB", res.Subject, res.Verdict)
		}
	}
	// Route and ping checks still need the CLI, so those error.
	if res := report.Results[4]; res.Verdict != VerdictError {
		t.Errorf("route check verdict = %s, want ERROR", res.Verdict)
	}
}

func TestRunPeering_StateDBMissFallsBack(t *testing.T) {
	fakes := healthyFakes()
	reader := &fakeSessionReader{states: map[string]string{}} // every lookup misses

	c := newFabricChecker(t, fakes, WithSessionReader("leaf1", reader))
	report := c.Run(context.Background())

	if res := report.Results[0]; res.Verdict != VerdictPass {
		t.Errorf("verdict = %s, want PASS via CLI fallback (%s)", res.Verdict, res.Evidence)
	}
	if fakes["leaf1"].calls == 0 {
		t.Error("CLI executor was never consulted on STATE_DB miss")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(severity(VerdictError) > severity(VerdictFail) && severity(VerdictFail) > severity(VerdictPass)) {
		t.Error("severity ordering must be Error > Fail > Pass")
	}
}

func dump(r *Report) string {
	var b strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&b, "  %s %s: %s (%s)\n", res.Kind, res.Subject, res.Verdict, res.Evidence)
	}
	return b.String()
}
