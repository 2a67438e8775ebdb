package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"slices"
	"time"
	"unicode/utf8"
)

// DefaultReadWait is how long Poll waits for the first datagram of a frame.
const DefaultReadWait = time.Millisecond

// maxDatagramSize covers the largest UDP payload.
const maxDatagramSize = 65507

// UDP is a Transport over a single UDP socket.
//
// Thread-safety: UDP is not safe for concurrent use. It is driven from the
// session's Update on the simulation thread.
type UDP struct {
	conn     *net.UDPConn
	local    netip.AddrPort
	peers    []netip.AddrPort
	maxPoll  int
	readWait time.Duration
	buf      []byte
	logger   *slog.Logger
	stats    Stats
	closed   bool
}

// UDPOption configures a UDP transport.
type UDPOption func(*UDP)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) UDPOption {
	return func(u *UDP) {
		u.logger = l
	}
}

// WithMaxDatagrams bounds how many datagrams one Poll returns.
func WithMaxDatagrams(n int) UDPOption {
	return func(u *UDP) {
		if n > 0 {
			u.maxPoll = n
		}
	}
}

// WithReadWait sets the read deadline used to drain the socket.
func WithReadWait(d time.Duration) UDPOption {
	return func(u *UDP) {
		if d > 0 {
			u.readWait = d
		}
	}
}

// ListenUDP binds addr. If the configured port cannot be bound, it falls back
// to an OS-assigned port on the same interface, then on all interfaces. Only
// when no socket can be created at all is an error returned.
func ListenUDP(addr netip.AddrPort, opts ...UDPOption) (*UDP, error) {
	u := &UDP{
		maxPoll:  DefaultMaxDatagrams,
		readWait: DefaultReadWait,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}

	conn, err := bind(addr, u.logger)
	if err != nil {
		return nil, err
	}
	u.conn = conn
	u.local = unmap(conn.LocalAddr().(*net.UDPAddr).AddrPort())
	u.buf = make([]byte, maxDatagramSize)

	u.logger.Info("udp transport bound", "addr", u.local.String())
	return u, nil
}

func bind(addr netip.AddrPort, logger *slog.Logger) (*net.UDPConn, error) {
	attempts := []netip.AddrPort{addr}
	if addr.Port() != 0 {
		attempts = append(attempts, netip.AddrPortFrom(addr.Addr(), 0))
	}
	if addr.Addr().IsValid() && !addr.Addr().IsUnspecified() {
		attempts = append(attempts, netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	}

	var errs []error
	for _, a := range attempts {
		laddr := &net.UDPAddr{Port: int(a.Port())}
		if a.Addr().IsValid() {
			laddr = net.UDPAddrFromAddrPort(a)
		}
		conn, err := net.ListenUDP("udp", laddr)
		if err == nil {
			return conn, nil
		}
		logger.Warn("udp bind failed, trying fallback", "addr", a.String(), "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("bind udp %s: %w", addr, errors.Join(errs...))
}

// Poll implements Transport.
//
// All reads in one call share a single deadline, so the call returns after at
// most readWait once the socket is empty.
func (u *UDP) Poll() []Datagram {
	if u.closed {
		return nil
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(u.readWait)); err != nil {
		u.fail("set read deadline", err)
		return nil
	}

	var out []Datagram
	for len(out) < u.maxPoll {
		n, from, err := u.conn.ReadFromUDPAddrPort(u.buf)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, net.ErrClosed) {
				u.fail("udp read", err)
			}
			break
		}
		if !utf8.Valid(u.buf[:n]) {
			u.stats.Dropped++
			u.logger.Warn("dropping non-utf8 datagram", "from", from.String(), "bytes", n)
			continue
		}
		u.stats.Received++
		out = append(out, Datagram{From: unmap(from), Payload: string(u.buf[:n])})
	}
	return out
}

// Send implements Transport.
func (u *UDP) Send(to netip.AddrPort, payload string) {
	if u.closed {
		u.stats.Dropped++
		return
	}
	if _, err := u.conn.WriteToUDPAddrPort([]byte(payload), to); err != nil {
		u.fail("udp write", err, "to", to.String())
		return
	}
	u.stats.Sent++
}

// Broadcast implements Transport.
func (u *UDP) Broadcast(payload string, except ...netip.AddrPort) {
	for _, p := range u.peers {
		if excluded(p, except) {
			continue
		}
		u.Send(p, payload)
	}
}

// SetPeers implements Transport.
func (u *UDP) SetPeers(addrs []netip.AddrPort) {
	u.peers = slices.Clone(addrs)
}

// LocalAddr implements Transport.
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.local
}

// Stats returns cumulative counters.
func (u *UDP) Stats() Stats {
	return u.stats
}

// Close implements Transport.
func (u *UDP) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	u.peers = nil
	if err := u.conn.Close(); err != nil {
		return fmt.Errorf("close udp: %w", err)
	}
	return nil
}

func (u *UDP) fail(op string, err error, args ...any) {
	u.stats.Errors++
	u.logger.Warn(op+" failed", append([]any{"error", err}, args...)...)
}

// unmap turns IPv4-mapped IPv6 sources back into plain IPv4 so they compare
// equal to configured peer addresses.
func unmap(a netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
}
