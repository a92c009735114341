// Package frr parses routing daemon management-CLI output into
// structured facts: peering tables, route next-hop sets, and ping
// statistics.
package frr

import "strings"

// SessionState is a canonical BGP session state.
type SessionState string

// BGP FSM states. StateUnknown covers strings the daemon emits that we
// do not recognize; it is never silently mapped to a known state.
const (
	StateIdle        SessionState = "Idle"
	StateConnect     SessionState = "Connect"
	StateActive      SessionState = "Active"
	StateOpenSent    SessionState = "OpenSent"
	StateOpenConfirm SessionState = "OpenConfirm"
	StateEstablished SessionState = "Established"
	StateUnknown     SessionState = "Unknown"
)

// CanonicalState maps a raw daemon state string to its canonical form.
func CanonicalState(raw string) SessionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return StateIdle
	case "connect":
		return StateConnect
	case "active":
		return StateActive
	case "opensent":
		return StateOpenSent
	case "openconfirm":
		return StateOpenConfirm
	case "established":
		return StateEstablished
	default:
		return StateUnknown
	}
}
