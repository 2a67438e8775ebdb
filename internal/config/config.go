// Package config loads lockstep session settings from a YAML file and
// LOCKSTEP_* environment variables, and validates them against an embedded
// CUE schema before they are turned into a lockstep.Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/lockstep"
	"github.com/roach88/lockstep/internal/peer"
	"github.com/roach88/lockstep/internal/transport"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes environment overrides, e.g. LOCKSTEP_INPUT_DELAY=3.
const EnvPrefix = "LOCKSTEP"

// DefaultPort is the host's well-known UDP port.
const DefaultPort = 7777

// Remote is a participant the host expects to hear from.
type Remote struct {
	Addr    string `json:"addr" mapstructure:"addr"`
	Port    int    `json:"port" mapstructure:"port"`
	Faction int    `json:"faction" mapstructure:"faction"`
	Player  int    `json:"player" mapstructure:"player"`
}

// SessionConfig is the on-disk form of a session configuration.
type SessionConfig struct {
	Role           string   `json:"role" mapstructure:"role"`
	Player         int      `json:"player" mapstructure:"player"`
	Faction        int      `json:"faction" mapstructure:"faction"`
	BindAddr       string   `json:"bind_addr" mapstructure:"bind_addr"`
	BindPort       int      `json:"bind_port" mapstructure:"bind_port"`
	HostAddr       string   `json:"host_addr" mapstructure:"host_addr"`
	HostPort       int      `json:"host_port" mapstructure:"host_port"`
	Remotes        []Remote `json:"remotes" mapstructure:"remotes"`
	SessionPlayers []int    `json:"session_players" mapstructure:"session_players"`

	TickDuration     time.Duration `json:"tick_duration" mapstructure:"tick_duration"`
	InputDelay       int           `json:"input_delay" mapstructure:"input_delay"`
	ChecksumInterval int           `json:"checksum_interval" mapstructure:"checksum_interval"`
	RetentionTicks   int           `json:"retention_ticks" mapstructure:"retention_ticks"`
	PingInterval     time.Duration `json:"ping_interval" mapstructure:"ping_interval"`
	StallWarnAfter   time.Duration `json:"stall_warn_after" mapstructure:"stall_warn_after"`
	MaxDatagrams     int           `json:"max_datagrams" mapstructure:"max_datagrams"`
	HaltOnDesync     bool          `json:"halt_on_desync" mapstructure:"halt_on_desync"`

	// Journal is the sqlite journal path; empty disables journaling.
	Journal string `json:"journal" mapstructure:"journal"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role", "host")
	v.SetDefault("player", 0)
	v.SetDefault("faction", 0)
	v.SetDefault("bind_addr", "0.0.0.0")
	v.SetDefault("bind_port", DefaultPort)
	v.SetDefault("host_addr", "")
	v.SetDefault("host_port", DefaultPort)
	v.SetDefault("remotes", []Remote{})
	v.SetDefault("session_players", []int{})

	v.SetDefault("tick_duration", lockstep.DefaultTickDuration)
	v.SetDefault("input_delay", lockstep.DefaultInputDelay)
	v.SetDefault("checksum_interval", checksum.DefaultInterval)
	v.SetDefault("retention_ticks", lockstep.DefaultRetentionTicks)
	v.SetDefault("ping_interval", lockstep.DefaultPingInterval)
	v.SetDefault("stall_warn_after", lockstep.DefaultStallWarnAfter)
	v.SetDefault("max_datagrams", transport.DefaultMaxDatagrams)
	v.SetDefault("halt_on_desync", false)
	v.SetDefault("journal", "")
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() SessionConfig {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (SessionConfig, error) {
	var cfg SessionConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = []Remote{}
	}
	if cfg.SessionPlayers == nil {
		cfg.SessionPlayers = []int{}
	}
	return cfg, nil
}

// Load reads path (YAML) when non-empty, applies environment overrides and
// validates the result.
func Load(path string) (SessionConfig, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return SessionConfig{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return SessionConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}

// ValidationError is a schema violation at a config path.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks c against the embedded schema. Every violation is
// reported, joined into one error.
func (c SessionConfig) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	err := def.Unify(val).Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}

	var errs []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, &ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(errs) == 0 {
		errs = append(errs, &ValidationError{Message: err.Error()})
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

// IsValidationError reports whether err carries a schema violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Session converts c into a lockstep.Config, resolving addresses.
func (c SessionConfig) Session() (lockstep.Config, error) {
	role, err := lockstep.ParseRole(c.Role)
	if err != nil {
		return lockstep.Config{}, err
	}

	out := lockstep.DefaultConfig()
	out.Role = role
	out.LocalPlayer = c.Player
	out.Faction = c.Faction
	out.TickDuration = c.TickDuration
	out.InputDelay = c.InputDelay
	out.ChecksumInterval = c.ChecksumInterval
	out.RetentionTicks = c.RetentionTicks
	out.PingInterval = c.PingInterval
	out.StallWarnAfter = c.StallWarnAfter
	out.MaxDatagrams = c.MaxDatagrams
	out.HaltOnDesync = c.HaltOnDesync
	out.SessionPlayers = append([]int(nil), c.SessionPlayers...)

	if c.BindAddr != "" {
		if out.BindAddr, err = resolve(c.BindAddr, c.BindPort); err != nil {
			return lockstep.Config{}, fmt.Errorf("bind address: %w", err)
		}
	}
	if c.HostAddr != "" {
		if out.HostAddr, err = resolve(c.HostAddr, c.HostPort); err != nil {
			return lockstep.Config{}, fmt.Errorf("host address: %w", err)
		}
	}
	for i, r := range c.Remotes {
		addr, err := resolve(r.Addr, r.Port)
		if err != nil {
			return lockstep.Config{}, fmt.Errorf("remote %d: %w", i, err)
		}
		out.Remotes = append(out.Remotes, peer.Remote{Addr: addr, Faction: r.Faction, Player: r.Player})
	}

	if err := out.Validate(); err != nil {
		return lockstep.Config{}, err
	}
	return out, nil
}

// resolve accepts an IP literal or a host name.
func resolve(host string, port int) (netip.AddrPort, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip, uint16(port)), nil
	}
	udp, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return netip.AddrPort{}, err
	}
	ap := udp.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// ValidationErrors returns every schema violation carried by err, in order.
func ValidationErrors(err error) []*ValidationError {
	var out []*ValidationError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ve, ok := e.(*ValidationError); ok {
			out = append(out, ve)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
