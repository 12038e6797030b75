package body

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noStructs struct{}

func (noStructs) ResolveStruct(name string) ([]schema.FieldDescriptor, bool) { return nil, false }

func TestDecodeBinary_ScalarFields(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "solution_status", DataType: schema.TypeEnum, EnumRef: "SolutionStatus", Width: 32},
		{Name: "latitude", DataType: schema.TypeDouble},
		{Name: "count", DataType: schema.TypeUint8},
	}
	enums := schema.Enumerations{{Name: "SolutionStatus", Entries: []schema.EnumEntry{{Value: 0, Code: "SOL_COMPUTED"}}}}

	data := make([]byte, 4+8+1)
	binary.LittleEndian.PutUint32(data[0:4], 0)
	binary.LittleEndian.PutUint64(data[4:12], math.Float64bits(51.1234))
	data[12] = 7

	values, err := DecodeBinary(fields, data, enums, noStructs{})
	require.NoError(t, err)
	require.Len(t, values, 3)

	status, ok := values.FindByID("solution_status")
	require.True(t, ok)
	assert.Equal(t, oem.EnumValue{Value: 0, Code: "SOL_COMPUTED"}, status.Value)

	lat, ok := values.FindByID("latitude")
	require.True(t, ok)
	assert.InDelta(t, 51.1234, lat.Value.(float64), 1e-9)

	cnt, ok := values.FindByID("count")
	require.True(t, ok)
	assert.Equal(t, uint64(7), cnt.Value)
}

func TestDecodeBinary_FixedArray(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "values", DataType: schema.TypeUint8, Array: schema.ArrayFixed, ArrayCount: 3},
	}
	data := []byte{1, 2, 3}
	values, err := DecodeBinary(fields, data, nil, noStructs{})
	require.NoError(t, err)
	arr := values[0].Value.([]interface{})
	require.Len(t, arr, 3)
	assert.Equal(t, uint64(1), arr[0])
	assert.Equal(t, uint64(3), arr[2])
}

func TestDecodeBinary_LengthPrefixedArray(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "values", DataType: schema.TypeUint8, Array: schema.ArrayLengthPfx},
	}
	data := make([]byte, 4+2)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	data[4], data[5] = 9, 8

	values, err := DecodeBinary(fields, data, nil, noStructs{})
	require.NoError(t, err)
	arr := values[0].Value.([]interface{})
	require.Len(t, arr, 2)
	assert.Equal(t, uint64(9), arr[0])
}

func TestDecodeBinary_TrailingBytesIsError(t *testing.T) {
	fields := []schema.FieldDescriptor{{Name: "a", DataType: schema.TypeUint8}}
	_, err := DecodeBinary(fields, []byte{1, 2, 3}, nil, noStructs{})
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeBinary_StructField(t *testing.T) {
	structs := fakeStructs{"Pos": {
		{Name: "x", DataType: schema.TypeUint8},
		{Name: "y", DataType: schema.TypeUint8},
	}}
	fields := []schema.FieldDescriptor{
		{Name: "position", DataType: schema.TypeStruct, StructRef: "Pos"},
	}
	values, err := DecodeBinary(fields, []byte{10, 20}, nil, structs)
	require.NoError(t, err)
	nested := values[0].Value.(oem.FieldValues)
	x, _ := nested.FindByID("x")
	assert.Equal(t, uint64(10), x.Value)
}

type fakeStructs map[string][]schema.FieldDescriptor

func (f fakeStructs) ResolveStruct(name string) ([]schema.FieldDescriptor, bool) {
	v, ok := f[name]
	return v, ok
}

func TestDecodeASCII_ScalarFields(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "solution_status", DataType: schema.TypeEnum, EnumRef: "SolutionStatus"},
		{Name: "latitude", DataType: schema.TypeDouble},
		{Name: "name", DataType: schema.TypeCharFix},
	}
	enums := schema.Enumerations{{Name: "SolutionStatus", Entries: []schema.EnumEntry{{Value: 0, Code: "SOL_COMPUTED"}}}}

	values, err := DecodeASCII(fields, `SOL_COMPUTED,51.1234,"hello"`, enums, noStructs{})
	require.NoError(t, err)

	status, _ := values.FindByID("solution_status")
	assert.Equal(t, oem.EnumValue{Value: 0, Code: "SOL_COMPUTED"}, status.Value)

	name, _ := values.FindByID("name")
	assert.Equal(t, "hello", name.Value)
}

func TestDecodeASCII_FixedArray(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "values", DataType: schema.TypeUint8, Array: schema.ArrayFixed, ArrayCount: 2},
	}
	values, err := DecodeASCII(fields, "1,2", nil, noStructs{})
	require.NoError(t, err)
	arr := values[0].Value.([]interface{})
	assert.Equal(t, []interface{}{uint64(1), uint64(2)}, arr)
}

func TestDecodeASCII_TrailingTokensIsError(t *testing.T) {
	fields := []schema.FieldDescriptor{{Name: "a", DataType: schema.TypeUint8}}
	_, err := DecodeASCII(fields, "1,2", nil, noStructs{})
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeASCII_MissingTokenIsError(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "a", DataType: schema.TypeUint8},
		{Name: "b", DataType: schema.TypeUint8},
	}
	_, err := DecodeASCII(fields, "1", nil, noStructs{})
	assert.ErrorIs(t, err, ErrMalformedInput)
}
