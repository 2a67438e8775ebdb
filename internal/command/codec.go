package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/lockstep/internal/netid"
)

// FieldCount is the number of comma-delimited fields in an encoded command:
// type,sourceEntityId,posX,posY,posZ,targetEntityId,secondaryTargetId,buildingId
const FieldCount = 8

const fieldSep = ","

// Characters that would break command or message framing.
const reservedChars = ",|"

var (
	// ErrFieldCount is returned when an encoded command does not have
	// exactly FieldCount fields.
	ErrFieldCount = errors.New("wrong field count")

	// ErrReservedChar is returned when a building id contains a framing character.
	ErrReservedChar = errors.New("building id contains reserved character")

	// ErrNonFinite is returned for NaN or infinite positions.
	ErrNonFinite = errors.New("position is not finite")
)

// FieldError describes the field that failed to parse.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Serialize renders c in the fixed field order with positions at two decimal
// places. The building id is NFC-normalized so identical text always encodes
// to identical bytes.
func Serialize(c Command) (string, error) {
	if !c.Type.Valid() {
		return "", fmt.Errorf("serialize: unknown command type %d", int(c.Type))
	}
	for _, f := range []float64{c.Position.X, c.Position.Y, c.Position.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("serialize: %w", ErrNonFinite)
		}
	}
	building := norm.NFC.String(c.BuildingID)
	if strings.ContainsAny(building, reservedChars) {
		return "", fmt.Errorf("serialize: %w: %q", ErrReservedChar, building)
	}

	var b strings.Builder
	b.Grow(48 + len(building))
	b.WriteString(strconv.Itoa(int(c.Type)))
	b.WriteString(fieldSep)
	b.WriteString(c.Source.String())
	b.WriteString(fieldSep)
	b.WriteString(formatCoord(c.Position.X))
	b.WriteString(fieldSep)
	b.WriteString(formatCoord(c.Position.Y))
	b.WriteString(fieldSep)
	b.WriteString(formatCoord(c.Position.Z))
	b.WriteString(fieldSep)
	b.WriteString(c.Target.String())
	b.WriteString(fieldSep)
	b.WriteString(c.Secondary.String())
	b.WriteString(fieldSep)
	b.WriteString(building)
	return b.String(), nil
}

// Deserialize parses one encoded command. Player and Tick are left zero; the
// caller stamps them from the enclosing message.
//
// Any failure returns an error and the caller must discard the command.
func Deserialize(s string) (Command, error) {
	fields := strings.Split(s, fieldSep)
	if len(fields) != FieldCount {
		return Command{}, fmt.Errorf("deserialize: %w: got %d, want %d", ErrFieldCount, len(fields), FieldCount)
	}

	var c Command
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return Command{}, &FieldError{Field: "type", Value: fields[0], Err: err}
	}
	c.Type = Type(n)
	if !c.Type.Valid() {
		return Command{}, &FieldError{Field: "type", Value: fields[0], Err: errors.New("unknown command type")}
	}

	if c.Source, err = parseID("source", fields[1]); err != nil {
		return Command{}, err
	}
	if c.Position.X, err = parseCoord("posX", fields[2]); err != nil {
		return Command{}, err
	}
	if c.Position.Y, err = parseCoord("posY", fields[3]); err != nil {
		return Command{}, err
	}
	if c.Position.Z, err = parseCoord("posZ", fields[4]); err != nil {
		return Command{}, err
	}
	if c.Target, err = parseID("target", fields[5]); err != nil {
		return Command{}, err
	}
	if c.Secondary, err = parseID("secondary", fields[6]); err != nil {
		return Command{}, err
	}
	c.BuildingID = norm.NFC.String(fields[7])
	return c, nil
}

// Quantize returns c exactly as every remote peer will decode it: positions
// rounded to the wire precision and the building id normalized. The issuing
// peer must execute this form too, or it diverges from everyone else.
func Quantize(c Command) (Command, error) {
	s, err := Serialize(c)
	if err != nil {
		return Command{}, err
	}
	q, err := Deserialize(s)
	if err != nil {
		return Command{}, err
	}
	q.Player = c.Player
	q.Tick = c.Tick
	return q, nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func parseCoord(field, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &FieldError{Field: field, Value: s, Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &FieldError{Field: field, Value: s, Err: ErrNonFinite}
	}
	return f, nil
}

func parseID(field, s string) (netid.ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return netid.None, &FieldError{Field: field, Value: s, Err: err}
	}
	return netid.ID(n), nil
}
