// Package oem holds the wire-format-agnostic data model shared by every
// stage of the transcode pipeline: the metadata struct the framer and
// header decoder populate, the field-value tree the body decoder produces
// and the encoder consumes, and the bit-addressable byte primitives both
// directions are built on.
package oem

import "fmt"

// WireFormat identifies which of the family of OEM wire protocols a frame
// uses, both as the header's format discriminator and as a re-encode
// target.
type WireFormat uint8

const (
	FormatUnknown WireFormat = iota
	FormatBinary
	FormatShortBinary
	FormatASCII
	FormatShortASCII
	FormatAbbreviatedASCII
	FormatNMEA
	FormatJSON
)

// String implements fmt.Stringer for log and error messages.
func (f WireFormat) String() string {
	switch f {
	case FormatBinary:
		return "BINARY"
	case FormatShortBinary:
		return "SHORT_BINARY"
	case FormatASCII:
		return "ASCII"
	case FormatShortASCII:
		return "SHORT_ASCII"
	case FormatAbbreviatedASCII:
		return "ABBREVIATED_ASCII"
	case FormatNMEA:
		return "NMEA"
	case FormatJSON:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

// IsEncodable reports whether a format is a valid `encode_format` target.
// UNKNOWN and ABBREVIATED_ASCII are framing-only formats; they are never
// produced by the encoder.
func (f WireFormat) IsEncodable() bool {
	switch f {
	case FormatBinary, FormatShortBinary, FormatASCII, FormatShortASCII, FormatJSON:
		return true
	default:
		return false
	}
}

// MeasurementSource identifies which antenna/receiver chain produced a
// message. Overloaded message IDs are disambiguated by (format, source).
type MeasurementSource uint8

const (
	SourceUnknown MeasurementSource = iota
	SourcePrimary
	SourceSecondary
)

func (s MeasurementSource) String() string {
	switch s {
	case SourcePrimary:
		return "PRIMARY"
	case SourceSecondary:
		return "SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// TimeStatus describes the clock-steering quality of the message's
// producing receiver at the time it was generated.
type TimeStatus uint8

const (
	TimeStatusUnknown TimeStatus = iota
	TimeStatusApproximate
	TimeStatusCoarseAdjusting
	TimeStatusCoarse
	TimeStatusCoarseSteering
	TimeStatusFreeWheeling
	TimeStatusFineAdjusting
	TimeStatusFine
	TimeStatusFineBackupSteering
	TimeStatusFineSteering
	TimeStatusSatTime
	TimeStatusExternalInput
	TimeStatusExactTime
)

// Status is the outcome of one Pipeline.Read call.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusUnknown
	StatusBufferEmpty
	StatusNoDefinition
	StatusMalformedInput
	StatusDecompressionFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknown:
		return "UNKNOWN"
	case StatusBufferEmpty:
		return "BUFFER_EMPTY"
	case StatusNoDefinition:
		return "NO_DEFINITION"
	case StatusMalformedInput:
		return "MALFORMED_INPUT"
	case StatusDecompressionFailure:
		return "DECOMPRESSION_FAILURE"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Metadata is populated by the framer and header decoder for each
// candidate frame. It is a plain value and may be copied freely.
type Metadata struct {
	MessageID         uint16
	MessageName       string
	Format            WireFormat
	MeasurementSource MeasurementSource
	GPSWeek           uint16
	TimeMillis        float64
	TimeStatus        TimeStatus
	Response          bool
	HeaderLength       uint16
	MessageLength      uint32
	DefinitionCRC      uint32
}

// MessageData is the façade's populated output buffer with three
// length-indexed views into one shared backing array: the whole message,
// its header region and its body region. It is owned by the pipeline and
// is valid only until the next Read call.
type MessageData struct {
	buffer     []byte
	headerLen  int
	bodyLen    int
	crcLen     int
}

// Reset points MessageData at buf, with the header/body/crc split given in
// bytes. The caller retains ownership of buf; MessageData does not copy it.
func (m *MessageData) Reset(buf []byte, headerLen, bodyLen, crcLen int) {
	m.buffer = buf
	m.headerLen = headerLen
	m.bodyLen = bodyLen
	m.crcLen = crcLen
}

// Message returns the whole frame: header + body + trailing checksum.
func (m *MessageData) Message() []byte { return m.buffer }

// Header returns the header region of the frame.
func (m *MessageData) Header() []byte { return m.buffer[:m.headerLen] }

// Body returns the body region of the frame, excluding the header and the
// trailing checksum.
func (m *MessageData) Body() []byte {
	return m.buffer[m.headerLen : m.headerLen+m.bodyLen]
}

// Length is the number of bytes in the whole buffer. For a re-encoded
// message this is the output length; the bytes consumed from the input
// are reported in Metadata.MessageLength.
func (m *MessageData) Length() int { return len(m.buffer) }
