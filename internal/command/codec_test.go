package command

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_FieldOrder(t *testing.T) {
	c := Command{
		Type:       Build,
		Source:     12,
		Position:   Vec3{X: 10, Y: 0, Z: 5.5},
		Target:     40,
		Secondary:  0,
		BuildingID: "barracks",
	}

	got, err := Serialize(c)
	require.NoError(t, err)
	assert.Equal(t, "3,12,10.00,0.00,5.50,40,0,barracks", got)
}

func TestSerialize_RoundsToTwoDecimals(t *testing.T) {
	c := Command{Type: Move, Source: 1, Position: Vec3{X: 1.005, Y: -2.344, Z: 100.999}}

	got, err := Serialize(c)
	require.NoError(t, err)
	assert.Equal(t, "0,1,"+strconv.FormatFloat(1.005, 'f', 2, 64)+",-2.34,101.00,0,0,", got)
}

func TestSerialize_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{name: "comma in building id", cmd: Command{Type: Build, Source: 1, BuildingID: "a,b"}, wantErr: ErrReservedChar},
		{name: "pipe in building id", cmd: Command{Type: Build, Source: 1, BuildingID: "a|b"}, wantErr: ErrReservedChar},
		{name: "NaN position", cmd: Command{Type: Move, Source: 1, Position: Vec3{X: math.NaN()}}, wantErr: ErrNonFinite},
		{name: "infinite position", cmd: Command{Type: Move, Source: 1, Position: Vec3{Z: math.Inf(-1)}}, wantErr: ErrNonFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Serialize(tt.cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	_, err := Serialize(Command{Type: Type(42), Source: 1})
	require.Error(t, err)
}

func TestRoundTrip_AllTypes(t *testing.T) {
	for typ := Move; typ <= Heal; typ++ {
		t.Run(typ.String(), func(t *testing.T) {
			c := Command{
				Type:       typ,
				Source:     7,
				Position:   Vec3{X: 10.123, Y: -0.5, Z: 5},
				Target:     9,
				Secondary:  11,
				BuildingID: "tower",
			}

			s, err := Serialize(c)
			require.NoError(t, err)
			got, err := Deserialize(s)
			require.NoError(t, err)

			assert.Equal(t, c.Type, got.Type)
			assert.Equal(t, c.Source, got.Source)
			assert.Equal(t, c.Target, got.Target)
			assert.Equal(t, c.Secondary, got.Secondary)
			assert.Equal(t, c.BuildingID, got.BuildingID)
			assert.InDelta(t, c.Position.X, got.Position.X, 0.005)
			assert.InDelta(t, c.Position.Y, got.Position.Y, 0.005)
			assert.InDelta(t, c.Position.Z, got.Position.Z, 0.005)
		})
	}
}

func TestRoundTrip_IsStableAfterFirstEncode(t *testing.T) {
	c := Command{Type: Gather, Source: 3, Position: Vec3{X: 1.23456, Y: 2.5, Z: -3.999}, Target: 4, Secondary: 5}

	first, err := Serialize(c)
	require.NoError(t, err)
	decoded, err := Deserialize(first)
	require.NoError(t, err)
	second, err := Serialize(decoded)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDeserialize_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{name: "non-numeric position", input: "0,1,abc,0.00,5.00,0,0,", field: "posX"},
		{name: "non-numeric type", input: "move,1,10.00,0.00,5.00,0,0,", field: "type"},
		{name: "unknown type", input: "99,1,10.00,0.00,5.00,0,0,", field: "type"},
		{name: "negative source", input: "0,-1,10.00,0.00,5.00,0,0,", field: "source"},
		{name: "bad target", input: "1,1,0.00,0.00,0.00,x,0,", field: "target"},
		{name: "bad secondary", input: "5,1,0.00,0.00,0.00,2,?,", field: "secondary"},
		{name: "NaN position", input: "0,1,NaN,0.00,0.00,0,0,", field: "posX"},
		{name: "bad z", input: "0,1,0.00,0.00,,0,0,", field: "posZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.input)
			require.Error(t, err)
			var fe *FieldError
			require.True(t, errors.As(err, &fe), "expected FieldError, got %T", err)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestDeserialize_FieldCount(t *testing.T) {
	for _, input := range []string{"", "0,1,2", "0,1,10.00,0.00,5.00,0,0", "0,1,10.00,0.00,5.00,0,0,,extra"} {
		_, err := Deserialize(input)
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, ErrFieldCount), "input %q: %v", input, err)
	}
}

func TestQuantize_KeepsPlayerAndTick(t *testing.T) {
	c := Command{Type: Move, Player: 3, Tick: 17, Source: 1, Position: Vec3{X: 10.004, Y: 0, Z: 4.996}}

	q, err := Quantize(c)
	require.NoError(t, err)

	assert.Equal(t, 3, q.Player)
	assert.Equal(t, int64(17), q.Tick)
	assert.Equal(t, 10.0, q.Position.X)
	assert.Equal(t, 5.0, q.Position.Z)
}

func TestBuildingID_NFCNormalized(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	s1, err := Serialize(Command{Type: Build, Source: 1, BuildingID: decomposed})
	require.NoError(t, err)
	s2, err := Serialize(Command{Type: Build, Source: 1, BuildingID: composed})
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}
