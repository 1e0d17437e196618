package sign

import (
	"fmt"
	"strings"
)

// Strategy decides what happens to signatures on one direction of traffic.
type Strategy int

const (
	// Sign verifies signed frames and signs unsigned outgoing ones.
	Sign Strategy = iota
	// ReSign verifies signed frames and re-signs every outgoing frame with
	// the node's own link.
	ReSign
	// Strict rejects unsigned frames and signs every frame the node
	// creates.
	Strict
	// Proxy passes frames through without checking or signing.
	Proxy
	// Strip removes signatures.
	Strip
)

// String ...
func (s Strategy) String() string {
	switch s {
	case Sign:
		return "sign"
	case ReSign:
		return "resign"
	case Strict:
		return "strict"
	case Proxy:
		return "proxy"
	case Strip:
		return "strip"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy ...
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sign":
		return Sign, nil
	case "resign", "re-sign":
		return ReSign, nil
	case "strict":
		return Strict, nil
	case "proxy":
		return Proxy, nil
	case "strip":
		return Strip, nil
	default:
		return Sign, fmt.Errorf("unknown signing strategy %q", s)
	}
}
