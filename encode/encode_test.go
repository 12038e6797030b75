package encode

import (
	"testing"

	"github.com/novatel-oem/oem-transcode/body"
	"github.com/novatel-oem/oem-transcode/crc"
	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noStructs struct{}

func (noStructs) ResolveStruct(name string) ([]schema.FieldDescriptor, bool) { return nil, false }

func testLayout() []schema.FieldDescriptor {
	return []schema.FieldDescriptor{
		{Name: "solution_status", DataType: schema.TypeEnum, EnumRef: "SolutionStatus"},
		{Name: "latitude", DataType: schema.TypeDouble},
		{Name: "satellites", DataType: schema.TypeUint8, Array: schema.ArrayFixed, ArrayCount: 2},
	}
}

func testEnums() schema.Enumerations {
	return schema.Enumerations{{Name: "SolutionStatus", Entries: []schema.EnumEntry{{Value: 0, Code: "SOL_COMPUTED"}}}}
}

func testValues() oem.FieldValues {
	return oem.FieldValues{
		{ID: "solution_status", Type: "ENUM", Value: oem.EnumValue{Value: 0, Code: "SOL_COMPUTED"}},
		{ID: "latitude", Type: "DOUBLE", Value: 51.1234},
		{ID: "satellites", Type: "UINT8", Value: []interface{}{uint64(11), uint64(9)}},
	}
}

func TestEncodeBinary_RoundTripsThroughBodyDecode(t *testing.T) {
	md := oem.Metadata{MessageID: 42, MessageName: "BESTPOS", GPSWeek: 2167, TimeMillis: 244820000}
	frame, err := EncodeBinary(md, testValues(), testLayout(), noStructs{})
	require.NoError(t, err)

	require.Equal(t, byte(0xAA), frame[0])
	require.Equal(t, byte(0x44), frame[1])
	require.Equal(t, byte(0x12), frame[2])

	headerLen := int(frame[3])
	bodyLen := int(frame[8]) | int(frame[9])<<8
	bodyBytes := frame[headerLen : headerLen+bodyLen]

	decoded, err := body.DecodeBinary(testLayout(), bodyBytes, testEnums(), noStructs{})
	require.NoError(t, err)

	lat, _ := decoded.FindByID("latitude")
	assert.InDelta(t, 51.1234, lat.Value.(float64), 1e-9)

	status, _ := decoded.FindByID("solution_status")
	assert.Equal(t, oem.EnumValue{Value: 0, Code: "SOL_COMPUTED"}, status.Value)
}

func TestEncodeBinary_CRCValidates(t *testing.T) {
	md := oem.Metadata{MessageID: 42, GPSWeek: 2167, TimeMillis: 1000}
	frame, err := EncodeBinary(md, testValues(), testLayout(), noStructs{})
	require.NoError(t, err)

	payload := frame[:len(frame)-4]
	expected := frame[len(frame)-4:]
	sum := crc.Block(payload)
	assert.Equal(t, expected[0], byte(sum))
	assert.Equal(t, expected[1], byte(sum>>8))
	assert.Equal(t, expected[2], byte(sum>>16))
	assert.Equal(t, expected[3], byte(sum>>24))
}

func TestEncodeASCII_ProducesExpectedShape(t *testing.T) {
	md := oem.Metadata{MessageName: "BESTPOS", GPSWeek: 2167, TimeMillis: 244820.0, TimeStatus: oem.TimeStatusFineSteering}
	out, err := EncodeASCII(md, testValues(), testLayout(), noStructs{})
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "#BESTPOSA,")
	assert.Contains(t, s, "SOL_COMPUTED")
	assert.Contains(t, s, "FINESTEERING")
	assert.Contains(t, s, "*")
	assert.Contains(t, s, "\r\n")
}

func TestEncodeASCII_RoundTripsThroughBodyDecode(t *testing.T) {
	md := oem.Metadata{MessageName: "BESTPOS", GPSWeek: 2167, TimeMillis: 244820.0}
	out, err := EncodeASCII(md, testValues(), testLayout(), noStructs{})
	require.NoError(t, err)

	s := string(out)
	headerEnd := indexOf(s, ';')
	bodyEnd := indexOf(s, '*')
	bodyStr := s[headerEnd+1 : bodyEnd]

	decoded, err := body.DecodeASCII(testLayout(), bodyStr, testEnums(), noStructs{})
	require.NoError(t, err)
	lat, _ := decoded.FindByID("latitude")
	assert.InDelta(t, 51.1234, lat.Value.(float64), 1e-9)
}

func TestEncodeFlattenedBinary_PadsVariableArrayToMaxCapacity(t *testing.T) {
	layout := []schema.FieldDescriptor{
		{Name: "values", DataType: schema.TypeUint8, Array: schema.ArrayLengthPfx, ArrayCount: 4},
	}
	values := oem.FieldValues{
		{ID: "values", Type: "UINT8", Value: []interface{}{uint64(1), uint64(2)}},
	}
	md := oem.Metadata{MessageID: 1}

	flat, err := EncodeFlattenedBinary(md, values, layout, noStructs{})
	require.NoError(t, err)

	headerLen := int(flat[3])
	bodyLen := int(flat[8]) | int(flat[9])<<8
	// length prefix (4 bytes) + 4 padded elements (4 bytes) = 8
	assert.Equal(t, 8, bodyLen)
	_ = headerLen
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
