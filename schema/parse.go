package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/novatel-oem/oem-transcode/crc"
	"github.com/novatel-oem/oem-transcode/oem"
)

func parseMessageID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return uint16(v), nil
}

func parseFormat(s string) oem.WireFormat {
	switch strings.ToUpper(s) {
	case "BINARY":
		return oem.FormatBinary
	case "SHORT_BINARY":
		return oem.FormatShortBinary
	case "ASCII":
		return oem.FormatASCII
	case "SHORT_ASCII":
		return oem.FormatShortASCII
	case "ABBREVIATED_ASCII":
		return oem.FormatAbbreviatedASCII
	case "NMEA":
		return oem.FormatNMEA
	case "JSON":
		return oem.FormatJSON
	default:
		return oem.FormatUnknown
	}
}

func parseSource(s string) oem.MeasurementSource {
	switch strings.ToUpper(s) {
	case "PRIMARY":
		return oem.SourcePrimary
	case "SECONDARY":
		return oem.SourceSecondary
	default:
		return oem.SourceUnknown
	}
}

// computeDefinitionCRC fingerprints a message definition's field layout;
// the pipeline copies it into Metadata.DefinitionCRC so callers can detect
// a stale or mismatched database (spec.md §4.2's DefinitionCRC). The serialization is a plain, deterministic
// textual encoding of the fields that affect wire shape — name, type, enum
// and struct refs, array kind and count — not a round-trip JSON encoding,
// so unrelated document formatting never perturbs the fingerprint.
func computeDefinitionCRC(def *MessageDefinition) uint32 {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|", def.ID, def.Name)
	for _, f := range def.Layout.Fields {
		fmt.Fprintf(&b, "%s:%s:%s:%s:%d:%d:%s:%d:%d;",
			f.Name, f.DataType, f.EnumRef, f.StructRef, f.Width, f.CharWidth,
			f.Array, f.ArrayCount, f.Terminator)
	}
	return crc.Block([]byte(b.String()))
}
