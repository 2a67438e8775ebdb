package journal

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"github.com/roach88/lockstep/internal/command"
)

// DomainTick separates tick digests from any other BLAKE3 use.
// The version suffix allows a future format change.
const DomainTick = "lockstep/tick/v1"

// GenesisDigest is the chain value before the first tick.
const GenesisDigest = ""

// entry is one executed command in a tick payload.
type entry struct {
	Player  int    `json:"player"`
	Command string `json:"cmd"`
}

// EncodePayload renders executed commands in execution order. The result is
// deterministic for a given command list.
func EncodePayload(cmds []command.Command) ([]byte, error) {
	entries := make([]entry, 0, len(cmds))
	for _, c := range cmds {
		s, err := command.Serialize(c)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		entries = append(entries, entry{Player: c.Player, Command: s})
	}
	return json.Marshal(entries)
}

// DecodePayload parses a payload, stamping each command with tick.
func DecodePayload(tick int64, data []byte) ([]command.Command, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	cmds := make([]command.Command, 0, len(entries))
	for i, e := range entries {
		c, err := command.Deserialize(e.Command)
		if err != nil {
			return nil, fmt.Errorf("decode payload: command %d: %w", i, err)
		}
		c.Player = e.Player
		c.Tick = tick
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// ChainDigest computes the digest of tick given the previous digest:
//
//	BLAKE3(domain 0x00 prev 0x00 tick 0x00 payload)
func ChainDigest(prev string, tick int64, payload []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(DomainTick))
	h.Write([]byte{0x00})
	h.Write([]byte(prev))
	h.Write([]byte{0x00})
	h.Write([]byte(strconv.FormatInt(tick, 10)))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(src []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}
