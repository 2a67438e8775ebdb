package transport

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"
)

// Filter decides whether a datagram in flight on a Hub is delivered.
// Returning false drops it.
type Filter func(from, to netip.AddrPort, payload string) bool

// Hub is an in-memory datagram network. Endpoints joined to the same Hub
// deliver to each other's inboxes in send order, which makes multi-peer
// sessions reproducible in tests and scenario runs.
type Hub struct {
	mu        sync.Mutex
	endpoints map[netip.AddrPort]*Loopback
	filter    Filter
	nextPort  uint16
}

// NewHub creates an empty network.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[netip.AddrPort]*Loopback),
		nextPort:  40000,
	}
}

// Join attaches a new endpoint. A zero port is replaced by a hub-assigned one,
// mirroring an OS ephemeral bind.
func (h *Hub) Join(addr netip.AddrPort) (*Loopback, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !addr.Addr().IsValid() {
		addr = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), addr.Port())
	}
	if addr.Port() == 0 {
		for {
			candidate := netip.AddrPortFrom(addr.Addr(), h.nextPort)
			h.nextPort++
			if _, taken := h.endpoints[candidate]; !taken {
				addr = candidate
				break
			}
		}
	}
	if _, taken := h.endpoints[addr]; taken {
		return nil, fmt.Errorf("join hub: address %s already in use", addr)
	}

	lb := &Loopback{hub: h, addr: addr}
	h.endpoints[addr] = lb
	return lb, nil
}

// SetFilter installs a delivery filter. Nil delivers everything.
func (h *Hub) SetFilter(f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = f
}

func (h *Hub) deliver(from, to netip.AddrPort, payload string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.filter != nil && !h.filter(from, to, payload) {
		return false
	}
	dst, ok := h.endpoints[to]
	if !ok || dst.closed {
		return false
	}
	dst.inbox = append(dst.inbox, Datagram{From: from, Payload: payload})
	return true
}

func (h *Hub) leave(addr netip.AddrPort) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, addr)
}

// Loopback is a Hub endpoint implementing Transport.
//
// Only the inbox is shared with other endpoints; everything else belongs to
// the goroutine driving the endpoint.
type Loopback struct {
	hub    *Hub
	addr   netip.AddrPort
	peers  []netip.AddrPort
	inbox  []Datagram
	stats  Stats
	closed bool
}

// Poll implements Transport.
func (l *Loopback) Poll() []Datagram {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()

	if l.closed || len(l.inbox) == 0 {
		return nil
	}
	out := l.inbox
	if len(out) > DefaultMaxDatagrams {
		out = out[:DefaultMaxDatagrams]
		l.inbox = slices.Clone(l.inbox[DefaultMaxDatagrams:])
	} else {
		l.inbox = nil
	}
	l.stats.Received += int64(len(out))
	return out
}

// Send implements Transport.
func (l *Loopback) Send(to netip.AddrPort, payload string) {
	if l.closed {
		l.stats.Dropped++
		return
	}
	if l.hub.deliver(l.addr, to, payload) {
		l.stats.Sent++
	} else {
		l.stats.Dropped++
	}
}

// Broadcast implements Transport.
func (l *Loopback) Broadcast(payload string, except ...netip.AddrPort) {
	for _, p := range l.peers {
		if excluded(p, except) {
			continue
		}
		l.Send(p, payload)
	}
}

// SetPeers implements Transport.
func (l *Loopback) SetPeers(addrs []netip.AddrPort) {
	l.peers = slices.Clone(addrs)
}

// LocalAddr implements Transport.
func (l *Loopback) LocalAddr() netip.AddrPort {
	return l.addr
}

// Inject queues a datagram as if sent by from, bypassing the filter.
func (l *Loopback) Inject(from netip.AddrPort, payload string) {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	if l.closed {
		return
	}
	l.inbox = append(l.inbox, Datagram{From: from, Payload: payload})
}

// Stats returns cumulative counters.
func (l *Loopback) Stats() Stats {
	return l.stats
}

// Close implements Transport.
func (l *Loopback) Close() error {
	l.hub.mu.Lock()
	if l.closed {
		l.hub.mu.Unlock()
		return nil
	}
	l.closed = true
	l.inbox = nil
	l.peers = nil
	l.hub.mu.Unlock()

	l.hub.leave(l.addr)
	return nil
}
