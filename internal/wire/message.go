// Package wire frames lockstep protocol messages as pipe-delimited UTF-8 text:
//
//	TICK|<playerIndex>|<tickNumber>|<commandCount>|<cmd1>|<cmd2>|...
//	SYNC|<tickNumber>|<checksum>
//	PING|<timestamp>
//	PONG|<timestamp>
//
// Each <cmdN> is a command.Serialize encoding. Timestamps are Unix
// milliseconds. The format is kept byte-for-byte so peers written in other
// languages interoperate.
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/lockstep/internal/command"
)

// Kind is the message-kind prefix.
type Kind string

const (
	KindTick Kind = "TICK"
	KindSync Kind = "SYNC"
	KindPing Kind = "PING"
	KindPong Kind = "PONG"
)

const sep = "|"

// Message is a decoded datagram. Only the fields relevant to Kind are set.
type Message struct {
	Kind Kind

	// TICK
	Player   int
	Tick     int64
	Commands []command.Command
	Rejected []error // per-command decode failures; those commands are dropped

	// SYNC (Tick is shared with TICK)
	Checksum uint32

	// PING / PONG
	Timestamp int64
}

// EncodeTick frames a player's confirmed command list for a tick. An empty
// list is a valid confirmation.
func EncodeTick(player int, tick int64, cmds []command.Command) (string, error) {
	var b strings.Builder
	b.WriteString(string(KindTick))
	b.WriteString(sep)
	b.WriteString(strconv.Itoa(player))
	b.WriteString(sep)
	b.WriteString(strconv.FormatInt(tick, 10))
	b.WriteString(sep)
	b.WriteString(strconv.Itoa(len(cmds)))
	for i, c := range cmds {
		enc, err := command.Serialize(c)
		if err != nil {
			return "", fmt.Errorf("encode tick %d command %d: %w", tick, i, err)
		}
		b.WriteString(sep)
		b.WriteString(enc)
	}
	return b.String(), nil
}

// EncodeSync frames a state checksum for a tick.
func EncodeSync(tick int64, checksum uint32) string {
	return string(KindSync) + sep + strconv.FormatInt(tick, 10) + sep + strconv.FormatUint(uint64(checksum), 10)
}

// EncodePing frames a latency probe.
func EncodePing(timestampMillis int64) string {
	return string(KindPing) + sep + strconv.FormatInt(timestampMillis, 10)
}

// EncodePong echoes a probe's timestamp.
func EncodePong(timestampMillis int64) string {
	return string(KindPong) + sep + strconv.FormatInt(timestampMillis, 10)
}

// Decode parses a datagram. A returned error means the whole datagram must be
// dropped. For TICK messages, commands that fail to parse are omitted from
// Commands and reported in Rejected; the rest of the message stays usable.
func Decode(raw string) (Message, error) {
	if raw == "" {
		return Message{}, newProtocolError(ErrCodeEmpty, raw, "empty datagram")
	}
	fields := strings.Split(raw, sep)

	switch Kind(fields[0]) {
	case KindTick:
		return decodeTick(raw, fields)
	case KindSync:
		return decodeSync(raw, fields)
	case KindPing, KindPong:
		return decodeProbe(raw, fields)
	default:
		return Message{}, newProtocolError(ErrCodeUnknownKind, raw, "unknown message kind %q", fields[0])
	}
}

func decodeTick(raw string, fields []string) (Message, error) {
	if len(fields) < 4 {
		return Message{}, newProtocolError(ErrCodeTruncated, raw, "tick header has %d fields, want 4", len(fields))
	}
	player, err := strconv.Atoi(fields[1])
	if err != nil || player < 0 {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "bad player index %q", fields[1])
	}
	tick, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || tick < 0 {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "bad tick number %q", fields[2])
	}
	count, err := strconv.Atoi(fields[3])
	if err != nil || count < 0 {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "bad command count %q", fields[3])
	}
	body := fields[4:]
	if len(body) != count {
		return Message{}, newProtocolError(ErrCodeTruncated, raw, "command count %d but %d commands present", count, len(body))
	}

	msg := Message{
		Kind:     KindTick,
		Player:   player,
		Tick:     tick,
		Commands: make([]command.Command, 0, count),
	}
	for i, enc := range body {
		c, err := command.Deserialize(enc)
		if err != nil {
			msg.Rejected = append(msg.Rejected, fmt.Errorf("command %d: %w", i, err))
			continue
		}
		c.Player = player
		c.Tick = tick
		msg.Commands = append(msg.Commands, c)
	}
	return msg, nil
}

func decodeSync(raw string, fields []string) (Message, error) {
	if len(fields) != 3 {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "sync has %d fields, want 3", len(fields))
	}
	tick, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || tick < 0 {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "bad tick number %q", fields[1])
	}
	sum, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "bad checksum %q", fields[2])
	}
	return Message{Kind: KindSync, Tick: tick, Checksum: uint32(sum)}, nil
}

func decodeProbe(raw string, fields []string) (Message, error) {
	if len(fields) != 2 {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "%s has %d fields, want 2", fields[0], len(fields))
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Message{}, newProtocolError(ErrCodeMalformed, raw, "bad timestamp %q", fields[1])
	}
	return Message{Kind: Kind(fields[0]), Timestamp: ts}, nil
}
