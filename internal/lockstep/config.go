package lockstep

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/peer"
	"github.com/roach88/lockstep/internal/transport"
)

// Role selects host or client behavior.
type Role int

const (
	// Host is player 0, binds a well-known port and relays tick messages.
	Host Role = iota
	// Client talks only to the host.
	Client
)

func (r Role) String() string {
	switch r {
	case Host:
		return "host"
	case Client:
		return "client"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole parses "host" or "client".
func ParseRole(s string) (Role, error) {
	switch s {
	case "host":
		return Host, nil
	case "client":
		return Client, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Defaults.
const (
	DefaultTickDuration   = 100 * time.Millisecond
	DefaultInputDelay     = 2
	DefaultRetentionTicks = 60
	DefaultPingInterval   = time.Second
	DefaultStallWarnAfter = 3 * time.Second
)

// Config is the session configuration, supplied once before start.
type Config struct {
	Role        Role
	LocalPlayer int
	Faction     int

	// BindAddr is the local endpoint. A client may leave it zero for an
	// ephemeral port.
	BindAddr netip.AddrPort

	// HostAddr is the host endpoint. Clients only.
	HostAddr netip.AddrPort

	// Remotes are the host's configured participants. Host only.
	Remotes []peer.Remote

	// SessionPlayers lists every player index in the session, host and local
	// player included. Client only and required: a client gates each tick on
	// every listed player, and tick messages for unlisted players are dropped.
	SessionPlayers []int

	TickDuration     time.Duration
	InputDelay       int
	ChecksumInterval int
	RetentionTicks   int
	PingInterval     time.Duration // zero disables latency probes
	StallWarnAfter   time.Duration // zero disables stall reports
	MaxDatagrams     int
	HaltOnDesync     bool
}

// DefaultConfig returns a solo host configuration with every tunable at its
// default.
func DefaultConfig() Config {
	return Config{
		Role:             Host,
		TickDuration:     DefaultTickDuration,
		InputDelay:       DefaultInputDelay,
		ChecksumInterval: checksum.DefaultInterval,
		RetentionTicks:   DefaultRetentionTicks,
		PingInterval:     DefaultPingInterval,
		StallWarnAfter:   DefaultStallWarnAfter,
		MaxDatagrams:     transport.DefaultMaxDatagrams,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	var errs []error
	switch c.Role {
	case Host:
		if c.LocalPlayer != peer.HostPlayer {
			errs = append(errs, fmt.Errorf("host must be player %d, got %d", peer.HostPlayer, c.LocalPlayer))
		}
	case Client:
		if c.LocalPlayer <= peer.HostPlayer {
			errs = append(errs, fmt.Errorf("client player index must be positive, got %d", c.LocalPlayer))
		}
		if !c.HostAddr.IsValid() {
			errs = append(errs, errors.New("client requires a host address"))
		}
		if len(c.Remotes) > 0 {
			errs = append(errs, errors.New("remotes are configured on the host only"))
		}
		if err := c.validateSessionPlayers(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %d", int(c.Role)))
	}
	if c.TickDuration <= 0 {
		errs = append(errs, fmt.Errorf("tick duration must be positive, got %s", c.TickDuration))
	}
	if c.InputDelay < 0 {
		errs = append(errs, fmt.Errorf("input delay must not be negative, got %d", c.InputDelay))
	}
	if c.ChecksumInterval < 0 {
		errs = append(errs, fmt.Errorf("checksum interval must not be negative, got %d", c.ChecksumInterval))
	}
	// Buffers must outlive the input pipeline or confirmed ticks get pruned
	// before they execute.
	if c.RetentionTicks <= c.InputDelay {
		errs = append(errs, fmt.Errorf("retention %d must exceed input delay %d", c.RetentionTicks, c.InputDelay))
	}
	if c.PingInterval < 0 || c.StallWarnAfter < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if c.MaxDatagrams < 0 {
		errs = append(errs, fmt.Errorf("max datagrams must not be negative, got %d", c.MaxDatagrams))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid session config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) validateSessionPlayers() error {
	if len(c.SessionPlayers) == 0 {
		return errors.New("client requires the session's player list")
	}
	seen := make(map[int]bool, len(c.SessionPlayers))
	for _, p := range c.SessionPlayers {
		if p < 0 {
			return fmt.Errorf("negative session player %d", p)
		}
		if seen[p] {
			return fmt.Errorf("duplicate session player %d", p)
		}
		seen[p] = true
	}
	if !seen[peer.HostPlayer] || !seen[c.LocalPlayer] {
		return fmt.Errorf("session players must include the host and player %d", c.LocalPlayer)
	}
	return nil
}
