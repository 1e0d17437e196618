package net

import (
	"fmt"
	"strings"
	"time"
)

// Scheme selects the transport and direction of an endpoint.
type Scheme string

const (
	TCPIn   Scheme = "tcpin"
	TCPOut  Scheme = "tcpout"
	UDPIn   Scheme = "udpin"
	UDPOut  Scheme = "udpout"
	UnixIn  Scheme = "unixin"
	UnixOut Scheme = "unixout"
	FileIn  Scheme = "filein"
	FileOut Scheme = "fileout"
)

// Endpoint is a parsed "<scheme>:<address>" string.
type Endpoint struct {
	Scheme  Scheme
	Address string
}

// ParseEndpoint ...
func ParseEndpoint(s string) (Endpoint, error) {
	scheme, addr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || addr == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: expected <scheme>:<address>", s)
	}
	e := Endpoint{Scheme: Scheme(strings.ToLower(scheme)), Address: addr}
	switch e.Scheme {
	case TCPIn, TCPOut, UDPIn, UDPOut, UnixIn, UnixOut, FileIn, FileOut:
		return e, nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unknown scheme %q", s, scheme)
	}
}

// String ...
func (e Endpoint) String() string {
	return string(e.Scheme) + ":" + e.Address
}

// IsListener reports whether the endpoint accepts incoming peers rather
// than opening a single channel.
func (e Endpoint) IsListener() bool {
	switch e.Scheme {
	case TCPIn, UDPIn, UnixIn:
		return true
	default:
		return false
	}
}

// Repairable reports whether a dropped channel of the endpoint can be
// restored by dialling it again. Files and listeners cannot.
func (e Endpoint) Repairable() bool {
	switch e.Scheme {
	case TCPOut, UDPOut, UnixOut:
		return true
	default:
		return false
	}
}

// Dial opens the single channel of an outgoing or file endpoint.
func (e Endpoint) Dial(timeout time.Duration) (ByteChannel, error) {
	switch e.Scheme {
	case TCPOut:
		return DialTCP(e.Address, timeout)
	case UDPOut:
		return DialUDP(e.Address, timeout)
	case UnixOut:
		return DialUnix(e.Address, timeout)
	case FileIn:
		return OpenFileReader(e.Address)
	case FileOut:
		return OpenFileWriter(e.Address)
	default:
		return nil, fmt.Errorf("endpoint %s is a listener", e)
	}
}

// Listen opens the listener of an incoming endpoint.
func (e Endpoint) Listen() (Listener, error) {
	switch e.Scheme {
	case TCPIn:
		return ListenTCP(e.Address)
	case UDPIn:
		return ListenUDP(e.Address)
	case UnixIn:
		return ListenUnix(e.Address)
	default:
		return nil, fmt.Errorf("endpoint %s is not a listener", e)
	}
}
