package schema

import (
	"strings"
	"testing"

	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `{
  "enums": [
    {"name": "SolutionStatus", "entries": [{"value": 0, "code": "SOL_COMPUTED"}, {"value": 1, "code": "INSUFFICIENT_OBS"}]}
  ],
  "messages": {
    "BESTPOS": {
      "id": "42",
      "name": "BESTPOS",
      "format": "BINARY",
      "measurementSource": "PRIMARY",
      "layouts": [
        {
          "version": 1,
          "fields": [
            {"name": "solution_status", "type": "ENUM", "enumRef": "SolutionStatus"},
            {"name": "latitude", "type": "DOUBLE"},
            {"name": "longitude", "type": "DOUBLE"}
          ]
        }
      ]
    },
    "BESTPOSB_SECONDARY": {
      "id": "42",
      "name": "BESTPOS",
      "format": "BINARY",
      "measurementSource": "SECONDARY",
      "layouts": [
        {"version": 1, "fields": [{"name": "solution_status", "type": "ENUM", "enumRef": "SolutionStatus"}]}
      ]
    },
    "RAWEPHEM": {
      "id": "7",
      "name": "RAWEPHEM",
      "format": "BINARY",
      "measurementSource": "PRIMARY",
      "layouts": [
        {"version": 1, "fields": [{"name": "prn", "type": "UINT32"}]}
      ]
    }
  }
}`

func TestParse_LoadsMessagesAndEnums(t *testing.T) {
	db, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)

	def, ok := db.GetByID(7, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)
	assert.Equal(t, "RAWEPHEM", def.Name)
	assert.Len(t, def.Layout.Fields, 1)

	code, err := db.Enums().Resolve("SolutionStatus", 1)
	require.NoError(t, err)
	assert.Equal(t, "INSUFFICIENT_OBS", code)
}

func TestGetByID_DisambiguatesOverloadsBySourceAndFormat(t *testing.T) {
	db, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)

	primary, ok := db.GetByID(42, oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)
	assert.Len(t, primary.Layout.Fields, 3)

	secondary, ok := db.GetByID(42, oem.FormatBinary, oem.SourceSecondary)
	require.True(t, ok)
	assert.Len(t, secondary.Layout.Fields, 1)

	_, ok = db.GetByID(42, oem.FormatASCII, oem.SourcePrimary)
	assert.False(t, ok, "no definition registered for that format should not match")
}

func TestGetByName_IsCaseInsensitive(t *testing.T) {
	db, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)

	def, ok := db.GetByName("rawephem", oem.FormatBinary, oem.SourcePrimary)
	require.True(t, ok)
	assert.Equal(t, uint16(7), def.ID)
}

func TestDefinitionCRC_StableAcrossReparse(t *testing.T) {
	db1, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)
	db2, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)

	d1, _ := db1.GetByID(7, oem.FormatBinary, oem.SourcePrimary)
	d2, _ := db2.GetByID(7, oem.FormatBinary, oem.SourcePrimary)
	assert.Equal(t, d1.DefinitionCRC, d2.DefinitionCRC)
	assert.NotZero(t, d1.DefinitionCRC)
}

func TestSplice_FailsOnFrozenDB(t *testing.T) {
	db, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)
	db.Freeze()

	err = db.Splice(strings.NewReader(testDoc))
	assert.ErrorIs(t, err, ErrFrozen)
}

func TestParse_RejectsDocumentMissingRequiredFields(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"messages": {"BAD": {"name": "BAD"}}}`))
	assert.Error(t, err)
}

func TestEnums_ResolveUnknownType(t *testing.T) {
	db, err := Parse(strings.NewReader(testDoc))
	require.NoError(t, err)

	_, err = db.Enums().Resolve("NoSuchEnum", 0)
	assert.ErrorIs(t, err, ErrUnknownEnumType)

	_, err = db.Enums().Resolve("SolutionStatus", 99)
	assert.ErrorIs(t, err, ErrUnknownEnumValue)
}
