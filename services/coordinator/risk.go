package coordinator

import (
	"net"
	"strings"
)

type Signal string

const (
	SignalIPChanged     Signal = "ip_changed"
	SignalUAChanged     Signal = "user_agent_changed"
	SignalHighFrequency Signal = "high_frequency"
	// SignalSuspicious marks an IP move between two public addresses.
	SignalSuspicious Signal = "suspicious"
)

type Assessment struct {
	Signals   []Signal
	Rotations int64
}

func (a Assessment) Has(s Signal) bool {
	for _, got := range a.Signals {
		if got == s {
			return true
		}
	}
	return false
}

func (a Assessment) Suspicious() bool {
	return a.Has(SignalSuspicious)
}

func ipChanged(previous, current string) bool {
	return previous != "" && current != "" && previous != current
}

// suspiciousMove is true when both ends are public addresses. Moves that touch
// private, loopback or link-local space are normal for proxies and VPNs.
func suspiciousMove(previous, current string) bool {
	if !ipChanged(previous, current) {
		return false
	}
	return isPublic(previous) && isPublic(current)
}

func isPublic(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsUnspecified() &&
		!ip.IsMulticast()
}

func uaChanged(previous, current string) bool {
	return previous != "" && current != "" && previous != current
}
