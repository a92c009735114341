package frr

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/clos-tools/fabcheck/pkg/util"
)

// ParseError reports output that was received but matched no known
// grammar. The raw text is retained as evidence for diagnosis.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return util.ErrUnparsable
}

// Peer is one row of the peering table: the canonical session state
// plus the raw string the daemon printed, kept as check evidence.
type Peer struct {
	State SessionState
	Raw   string
}

// ParsePeerSummary extracts per-peer session state from a BGP summary.
// JSON output (the daemon's machine-readable mode) is preferred; the
// tabular text layout is the fallback grammar. Text lines that do not
// match the tabular shape are skipped, not fatal.
func ParsePeerSummary(text string) (map[string]Peer, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &ParseError{Reason: "empty peer summary output", Raw: text}
	}
	if strings.HasPrefix(trimmed, "{") {
		return parsePeerSummaryJSON(trimmed, text)
	}
	return parsePeerSummaryText(trimmed, text)
}

// parsePeerSummaryJSON handles `show bgp summary json`:
//
//	{"ipv4Unicast": {"peers": {"10.0.1.1": {"state": "Established", ...}}}}
func parsePeerSummaryJSON(trimmed, raw string) (map[string]Peer, error) {
	var summary map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &summary); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid summary JSON: %v", err), Raw: raw}
	}

	peers := make(map[string]Peer)
	for _, afData := range summary {
		var af struct {
			Peers map[string]struct {
				State string `json:"state"`
			} `json:"peers"`
		}
		if json.Unmarshal(afData, &af) == nil {
			for ip, peer := range af.Peers {
				peers[ip] = Peer{State: CanonicalState(peer.State), Raw: peer.State}
			}
		}
	}
	return peers, nil
}

// parsePeerSummaryText handles the tabular layout:
//
//	Neighbor  V  AS  MsgRcvd  MsgSent  TblVer  InQ  OutQ  Up/Down  State/PfxRcd  PfxSnt  Desc
//
// An established session shows its received-prefix count in the state
// column; any integer there means Established.
func parsePeerSummaryText(trimmed, raw string) (map[string]Peer, error) {
	peers := make(map[string]Peer)
	sawHeader := false

	for _, line := range strings.Split(trimmed, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "Neighbor" {
			sawHeader = true
			continue
		}
		if len(fields) < 10 {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		state := fields[9]
		if _, err := strconv.Atoi(state); err == nil {
			peers[addr.String()] = Peer{State: StateEstablished, Raw: string(StateEstablished)}
		} else {
			peers[addr.String()] = Peer{State: CanonicalState(state), Raw: state}
		}
	}

	if len(peers) == 0 && !sawHeader {
		return nil, &ParseError{Reason: "no peer summary table found", Raw: raw}
	}
	return peers, nil
}

var (
	// `  * 10.0.1.1, via Ethernet0, weight 1` (routing-entry layout)
	entryNextHopRe = regexp.MustCompile(`^\s*\*?\s*((?:\d{1,3}\.){3}\d{1,3}),\s+via\s+\S+`)
	// `B>* 10.2.0.0/24 [20/0] via 10.0.1.1, Ethernet0` (FIB table layout)
	tableNextHopRe = regexp.MustCompile(`\bvia\s+((?:\d{1,3}\.){3}\d{1,3})\b`)
)

// ParseRouteNextHops extracts the next-hop addresses attached to a
// prefix's route entry, in output order. A prefix absent from the table
// yields an empty set, a valid result that fails an ECMP expectation
// naturally.
func ParseRouteNextHops(prefix, text string) ([]string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.Contains(trimmed, "Network not in table") {
		return nil, nil
	}

	var hops []string
	if strings.Contains(trimmed, "Routing entry for") {
		for _, line := range strings.Split(trimmed, "\n") {
			if m := entryNextHopRe.FindStringSubmatch(line); m != nil {
				hops = append(hops, m[1])
			}
		}
		return hops, nil
	}

	// FIB table layout. ECMP alternates are continuation lines that do
	// not repeat the prefix, so hops are collected from the line naming
	// the requested prefix until the next prefix-bearing row.
	matchedPrefix := false
	inEntry := false
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.Contains(line, prefix) {
			matchedPrefix = true
			inEntry = true
		} else if strings.ContainsRune(line, '/') {
			inEntry = false
		}
		if !inEntry {
			continue
		}
		if m := tableNextHopRe.FindStringSubmatch(line); m != nil {
			hops = append(hops, m[1])
		}
	}
	if !matchedPrefix {
		return nil, &ParseError{Reason: fmt.Sprintf("no route entry for %s recognized", prefix), Raw: text}
	}
	return hops, nil
}

// PingStats summarizes one ping invocation.
type PingStats struct {
	Sent        int
	Received    int
	LossPercent float64
}

var (
	pingCountsRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+)(?: packets)? received`)
	packetLossRe = regexp.MustCompile(`([\d.]+)% packet loss`)
)

// ParsePingStats extracts probe counts and loss from a ping summary:
//
//	3 packets transmitted, 3 received, 0% packet loss, time 2003ms
func ParsePingStats(text string) (PingStats, error) {
	m := pingCountsRe.FindStringSubmatch(text)
	if m == nil {
		return PingStats{}, &ParseError{Reason: "no ping statistics found", Raw: text}
	}
	sent, _ := strconv.Atoi(m[1])
	received, _ := strconv.Atoi(m[2])

	stats := PingStats{Sent: sent, Received: received}
	if lm := packetLossRe.FindStringSubmatch(text); lm != nil {
		stats.LossPercent, _ = strconv.ParseFloat(lm[1], 64)
	} else if sent > 0 {
		stats.LossPercent = 100 * float64(sent-received) / float64(sent)
	}
	return stats, nil
}
