// Package transport moves framed lockstep datagrams between peers.
//
// The Transport interface is deliberately small: the session polls once per
// frame and sends fire-and-forget. Implementations never return socket errors
// from Poll, Send, or Broadcast; they log and count them instead, so a broken
// peer can never stall the tick loop.
package transport

import (
	"net/netip"
)

// DefaultMaxDatagrams bounds how many datagrams a single Poll drains.
const DefaultMaxDatagrams = 256

// Datagram is one received payload and the address it came from.
type Datagram struct {
	From    netip.AddrPort
	Payload string
}

// Transport is a datagram endpoint shared by every peer-facing component of a
// session.
type Transport interface {
	// Poll drains currently available datagrams without blocking the caller
	// beyond a short, bounded read wait.
	Poll() []Datagram

	// Send writes payload to a single address.
	Send(to netip.AddrPort, payload string)

	// Broadcast writes payload to every known peer except the listed addresses.
	Broadcast(payload string, except ...netip.AddrPort)

	// SetPeers replaces the broadcast address list.
	SetPeers(addrs []netip.AddrPort)

	// LocalAddr returns the bound address.
	LocalAddr() netip.AddrPort

	// Close releases the endpoint. Safe to call more than once.
	Close() error
}

// Stats counts transport activity. Values are cumulative since creation.
type Stats struct {
	Received int64
	Sent     int64
	Errors   int64
	Dropped  int64 // payloads discarded before reaching the caller (invalid UTF-8, closed endpoint)
}

func excluded(addr netip.AddrPort, except []netip.AddrPort) bool {
	for _, e := range except {
		if e == addr {
			return true
		}
	}
	return false
}
