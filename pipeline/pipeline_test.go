package pipeline

import (
	"strings"
	"testing"

	"github.com/novatel-oem/oem-transcode/body"
	"github.com/novatel-oem/oem-transcode/crc"
	"github.com/novatel-oem/oem-transcode/encode"
	"github.com/novatel-oem/oem-transcode/filter"
	"github.com/novatel-oem/oem-transcode/header"
	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDBDoc = `{
  "enums": [
    {"name": "SolutionStatus", "entries": [{"value": 0, "code": "SOL_COMPUTED"}]}
  ],
  "structs": {
    "RangeChannel": [
      {"name": "tracking_status", "type": "UINT32"},
      {"name": "pseudorange_compressed", "type": "INT32"}
    ]
  },
  "messages": {
    "BESTPOS": {
      "id": "42",
      "name": "BESTPOS",
      "format": "BINARY",
      "measurementSource": "PRIMARY",
      "layouts": [
        {"version": 1, "fields": [
          {"name": "solution_status", "type": "ENUM", "enumRef": "SolutionStatus"},
          {"name": "latitude", "type": "DOUBLE"},
          {"name": "longitude", "type": "DOUBLE"}
        ]}
      ]
    },
    "TEST": {
      "id": "999",
      "name": "TEST",
      "format": "NMEA",
      "measurementSource": "PRIMARY",
      "layouts": [
        {"version": 1, "fields": [
          {"name": "a", "type": "UINT32"},
          {"name": "b", "type": "UINT32"}
        ]}
      ]
    },
    "RANGECMP": {
      "id": "140",
      "name": "RANGECMP",
      "format": "BINARY",
      "measurementSource": "PRIMARY",
      "layouts": [
        {"version": 1, "fields": [
          {"name": "number_of_observations", "type": "UINT32"},
          {"name": "channels", "type": "STRUCT", "structRef": "RangeChannel", "array": "LENGTH_PREFIXED"}
        ]}
      ]
    },
    "RANGE": {
      "id": "43",
      "name": "RANGE",
      "format": "BINARY",
      "measurementSource": "PRIMARY",
      "layouts": [
        {"version": 1, "fields": [
          {"name": "number_of_observations", "type": "UINT32"},
          {"name": "channels", "type": "STRUCT", "structRef": "RangeChannel", "array": "LENGTH_PREFIXED"}
        ]}
      ]
    }
  }
}`

func loadTestDB(t *testing.T) *schema.MessageDB {
	t.Helper()
	db, err := schema.Parse(strings.NewReader(testDBDoc))
	require.NoError(t, err)
	return db
}

func bestposFields() oem.FieldValues {
	return oem.FieldValues{
		{ID: "solution_status", Type: "ENUM", Value: oem.EnumValue{Value: 0, Code: "SOL_COMPUTED"}},
		{ID: "latitude", Type: "DOUBLE", Value: 51.5},
		{ID: "longitude", Type: "DOUBLE", Value: -114.0},
	}
}

func buildNMEAFrame(tag, sentenceBody string) []byte {
	sentence := tag + "," + sentenceBody
	sum := crc.XOR([]byte(sentence))
	return []byte("$" + sentence + "*" + crc.HexUpper2(sum) + "\r\n")
}

func TestNew_RejectsUnspecifiedTarget(t *testing.T) {
	db := loadTestDB(t)
	_, err := New(db, TargetUnspecified)
	assert.ErrorIs(t, err, ErrEncodeFormatUnspecified)
}

func TestPipeline_BufferEmptyOnNoInput(t *testing.T) {
	db := loadTestDB(t)
	p, err := New(db, TargetASCII)
	require.NoError(t, err)

	var msg oem.MessageData
	var md oem.Metadata
	assert.Equal(t, oem.StatusBufferEmpty, p.Read(&msg, &md))
}

func TestPipeline_BinaryInputToASCIIOutput(t *testing.T) {
	db := loadTestDB(t)
	def, ok := db.GetByID(42, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)

	in := oem.Metadata{
		MessageID:  42,
		Format:     oem.FormatBinary,
		GPSWeek:    2167,
		TimeMillis: 244820000,
		TimeStatus: oem.TimeStatusFineSteering,
	}
	frame, err := encode.EncodeBinary(in, bestposFields(), def.Layout.Fields, db)
	require.NoError(t, err)

	p, err := New(db, TargetASCII)
	require.NoError(t, err)
	p.Write(frame)

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusSuccess, status)

	assert.Equal(t, uint16(42), md.MessageID)
	assert.Equal(t, "BESTPOS", md.MessageName)
	assert.Equal(t, oem.FormatBinary, md.Format)
	assert.Equal(t, def.DefinitionCRC, md.DefinitionCRC)

	out := string(msg.Message())
	assert.True(t, strings.HasPrefix(out, "#BESTPOSA,"))
	assert.Contains(t, out, "SOL_COMPUTED")
	assert.Contains(t, out, "51.5")
	assert.Contains(t, out, "-114")
	assert.True(t, strings.HasSuffix(out, "\r\n"))

	assert.Equal(t, oem.StatusBufferEmpty, p.Read(&msg, &md))
}

func TestPipeline_ASCIIInputToBinaryOutput(t *testing.T) {
	db := loadTestDB(t)
	def, ok := db.GetByName("BESTPOS", oem.FormatASCII, oem.SourcePrimary)
	require.True(t, ok)

	in := oem.Metadata{
		MessageName: "BESTPOS",
		Format:      oem.FormatASCII,
		GPSWeek:     2167,
		TimeMillis:  244820000,
		TimeStatus:  oem.TimeStatusFineSteering,
	}
	frame, err := encode.EncodeASCII(in, bestposFields(), def.Layout.Fields, db)
	require.NoError(t, err)

	p, err := New(db, TargetBinary)
	require.NoError(t, err)
	p.Write(frame)

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusSuccess, status)

	assert.Equal(t, uint16(42), md.MessageID)
	assert.Equal(t, oem.FormatASCII, md.Format)

	outMD, headerLen, bodyLen, err := header.DecodeBinaryLong(msg.Message())
	require.NoError(t, err)
	fields, err := body.DecodeBinary(def.Layout.Fields, msg.Message()[headerLen:headerLen+int(bodyLen)], db.Enums(), db)
	require.NoError(t, err)

	assert.Equal(t, uint16(42), outMD.MessageID)
	lat, ok := fields.FindByID("latitude")
	require.True(t, ok)
	assert.InDelta(t, 51.5, lat.Value.(float64), 1e-9)
	lon, ok := fields.FindByID("longitude")
	require.True(t, ok)
	assert.InDelta(t, -114.0, lon.Value.(float64), 1e-9)
}

func TestPipeline_NoDefinitionForUnregisteredMessageID(t *testing.T) {
	db := loadTestDB(t)
	def, ok := db.GetByID(42, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)

	in := oem.Metadata{MessageID: 9999, Format: oem.FormatBinary}
	frame, err := encode.EncodeBinary(in, bestposFields(), def.Layout.Fields, db)
	require.NoError(t, err)

	p, err := New(db, TargetASCII)
	require.NoError(t, err)
	p.Write(frame)

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	assert.Equal(t, oem.StatusNoDefinition, status)
	assert.Equal(t, uint16(9999), md.MessageID)
}

func TestPipeline_NMEADefaultDropped(t *testing.T) {
	db := loadTestDB(t)
	frame := buildNMEAFrame("TEST", "1,2")

	p, err := New(db, TargetASCII)
	require.NoError(t, err)
	p.Write(frame)

	var msg oem.MessageData
	var md oem.Metadata
	assert.Equal(t, oem.StatusBufferEmpty, p.Read(&msg, &md))
}

func TestPipeline_NMEAIncludedViaFilter(t *testing.T) {
	db := loadTestDB(t)
	frame := buildNMEAFrame("TEST", "1,2")

	f := filter.New()
	f.IncludeNMEAMessages(true)
	p, err := New(db, TargetASCII, WithFilter(f))
	require.NoError(t, err)
	p.Write(frame)

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusSuccess, status)
	assert.Equal(t, "TEST", md.MessageName)
	assert.Equal(t, oem.FormatNMEA, md.Format)
}

func TestPipeline_ReturnUnknownBytesSurfacesStatus(t *testing.T) {
	db := loadTestDB(t)
	p, err := New(db, TargetASCII, WithReturnUnknownBytes(true))
	require.NoError(t, err)
	p.Write([]byte{0xFF, 0xFF, 0xFF})

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusUnknown, status)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, msg.Message())
}

func TestPipeline_UnknownBytesDiscardedByDefault(t *testing.T) {
	db := loadTestDB(t)
	def, ok := db.GetByID(42, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)
	in := oem.Metadata{MessageID: 42, Format: oem.FormatBinary}
	frame, err := encode.EncodeBinary(in, bestposFields(), def.Layout.Fields, db)
	require.NoError(t, err)

	p, err := New(db, TargetASCII)
	require.NoError(t, err)
	p.Write(append([]byte{0xFF, 0xFF, 0xFF}, frame...))

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusSuccess, status, "garbage is silently skipped, the real frame follows")
	assert.Equal(t, uint16(42), md.MessageID)
}

func TestPipeline_IgnoresAbbreviatedResponseThenReturnsNextFrame(t *testing.T) {
	db := loadTestDB(t)
	def, ok := db.GetByID(42, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)

	abbrev := []byte("<BESTPOSR USB1 0 80.5 FINESTEERING 2176 341331.000 02000020 cdba 16248\r\n")
	in := oem.Metadata{MessageID: 42, Format: oem.FormatBinary}
	frame, err := encode.EncodeBinary(in, bestposFields(), def.Layout.Fields, db)
	require.NoError(t, err)

	p, err := New(db, TargetASCII)
	require.NoError(t, err)
	p.Write(append(append([]byte{}, abbrev...), frame...))

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusSuccess, status)
	assert.Equal(t, uint16(42), md.MessageID)
}

func TestPipeline_DecompressRangeCmpRewritesMessageName(t *testing.T) {
	db := loadTestDB(t)
	cmpDef, ok := db.GetByID(140, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)

	channel := oem.FieldValues{
		{ID: "tracking_status", Type: "UINT32", Value: uint64(7)},
		{ID: "pseudorange_compressed", Type: "INT32", Value: int64(5000)},
	}
	fields := oem.FieldValues{
		{ID: "number_of_observations", Type: "UINT32", Value: uint64(1)},
		{ID: "channels", Type: "STRUCT", Value: []interface{}{channel}},
	}
	in := oem.Metadata{MessageID: 140, Format: oem.FormatBinary, MeasurementSource: oem.SourcePrimary}
	frame, err := encode.EncodeBinary(in, fields, cmpDef.Layout.Fields, db)
	require.NoError(t, err)

	p, err := New(db, TargetJSON, WithDecompressRangeCmp(true))
	require.NoError(t, err)
	p.Write(frame)

	var msg oem.MessageData
	var md oem.Metadata
	status := p.Read(&msg, &md)
	require.Equal(t, oem.StatusSuccess, status)

	assert.Equal(t, "RANGE", md.MessageName)
	assert.Equal(t, uint16(140), md.MessageID, "message id stays pinned to the original RANGECMP definition")
	assert.Equal(t, cmpDef.DefinitionCRC, md.DefinitionCRC)

	out := string(msg.Message())
	assert.Contains(t, out, `"message_name":"RANGE"`)
	assert.Contains(t, out, "pseudorange")
}
