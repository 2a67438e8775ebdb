package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/netid"
)

// Scenario defines a multi-peer lockstep run and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Players is the number of peers, host included.
	Players int `yaml:"players"`

	// Frames is how many times every peer runs Update.
	Frames int `yaml:"frames"`

	// Optional session tunables; zero keeps the default.
	InputDelay       int  `yaml:"input_delay,omitempty"`
	ChecksumInterval int  `yaml:"checksum_interval,omitempty"`
	HaltOnDesync     bool `yaml:"halt_on_desync,omitempty"`

	// SessionID is the id every peer reports. Defaults to the scenario name.
	SessionID string `yaml:"session_id,omitempty"`

	// Units populate every peer's world identically.
	Units []UnitSpec `yaml:"units"`

	Commands []CommandStep `yaml:"commands,omitempty"`
	Inject   []InjectStep  `yaml:"inject,omitempty"`
	Drop     []DropRule    `yaml:"drop,omitempty"`
	Corrupt  []CorruptStep `yaml:"corrupt,omitempty"`

	Expect Expectations `yaml:"expect"`
}

// UnitSpec places a unit in the world under a fixed NetworkId.
type UnitSpec struct {
	ID    uint64     `yaml:"id"`
	Name  string     `yaml:"name"`
	Owner int        `yaml:"owner"`
	Pos   [3]float64 `yaml:"pos"`
}

// CommandStep queues a command on a player's session before a frame runs.
type CommandStep struct {
	Frame     int        `yaml:"frame"`
	Player    int        `yaml:"player"`
	Type      string     `yaml:"type"`
	Source    uint64     `yaml:"source"`
	Target    uint64     `yaml:"target,omitempty"`
	Secondary uint64     `yaml:"secondary,omitempty"`
	Building  string     `yaml:"building,omitempty"`
	Pos       [3]float64 `yaml:"pos,omitempty"`
}

// Command converts the step into a command.
func (c CommandStep) Command() (command.Command, error) {
	typ, err := command.ParseType(c.Type)
	if err != nil {
		return command.Command{}, err
	}
	return command.Command{
		Type:       typ,
		Source:     netid.ID(c.Source),
		Target:     netid.ID(c.Target),
		Secondary:  netid.ID(c.Secondary),
		BuildingID: c.Building,
		Position:   command.Vec3{X: c.Pos[0], Y: c.Pos[1], Z: c.Pos[2]},
	}, nil
}

// InjectStep delivers a raw datagram to a player as if sent by another
// player, bypassing drop rules.
type InjectStep struct {
	Frame   int    `yaml:"frame"`
	From    int    `yaml:"from"`
	To      int    `yaml:"to"`
	Payload string `yaml:"payload"`
}

// DropRule loses every datagram from one player to another while the frame
// counter is within Frames (inclusive).
type DropRule struct {
	From   int    `yaml:"from"`
	To     int    `yaml:"to"`
	Frames [2]int `yaml:"frames"`
}

// CorruptStep flips a player's state hash at one tick, forcing a desync.
type CorruptStep struct {
	Player int   `yaml:"player"`
	Tick   int64 `yaml:"tick"`
}

// Expectations are checked after the last frame. Unset fields are not
// checked.
type Expectations struct {
	FinalTick   *int64          `yaml:"final_tick,omitempty"`
	TracesEqual bool            `yaml:"traces_equal,omitempty"`
	StatesEqual bool            `yaml:"states_equal,omitempty"`
	Traces      map[int][]string `yaml:"traces,omitempty"`
	Desyncs     *[]DesyncExpect `yaml:"desyncs,omitempty"`
	Dropped     map[int]int64   `yaml:"dropped,omitempty"`
	Stalls      map[int]int64   `yaml:"stalls,omitempty"`
	Halted      []int           `yaml:"halted,omitempty"`
}

// DesyncExpect is one expected desync event, as seen by Player.
type DesyncExpect struct {
	Player int   `yaml:"player"`
	Tick   int64 `yaml:"tick"`
	Remote int   `yaml:"remote"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and every
// reference points at a real player or unit.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Players < 1 {
		return fmt.Errorf("players must be at least 1, got %d", s.Players)
	}
	if s.Frames < 1 {
		return fmt.Errorf("frames must be at least 1, got %d", s.Frames)
	}

	player := func(what string, p int) error {
		if p < 0 || p >= s.Players {
			return fmt.Errorf("%s: player %d out of range [0,%d)", what, p, s.Players)
		}
		return nil
	}

	seen := make(map[uint64]bool)
	for i, u := range s.Units {
		if u.ID == 0 {
			return fmt.Errorf("units[%d]: id must be positive", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("units[%d]: duplicate id %d", i, u.ID)
		}
		seen[u.ID] = true
	}

	for i, c := range s.Commands {
		what := fmt.Sprintf("commands[%d]", i)
		if err := player(what, c.Player); err != nil {
			return err
		}
		if _, err := c.Command(); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	for i, in := range s.Inject {
		what := fmt.Sprintf("inject[%d]", i)
		if err := errors.Join(player(what, in.From), player(what, in.To)); err != nil {
			return err
		}
	}
	for i, d := range s.Drop {
		what := fmt.Sprintf("drop[%d]", i)
		if err := errors.Join(player(what, d.From), player(what, d.To)); err != nil {
			return err
		}
		if d.Frames[0] > d.Frames[1] {
			return fmt.Errorf("%s: frames [%d,%d] is empty", what, d.Frames[0], d.Frames[1])
		}
	}
	for i, c := range s.Corrupt {
		if err := player(fmt.Sprintf("corrupt[%d]", i), c.Player); err != nil {
			return err
		}
	}
	return nil
}
