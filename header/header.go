// Package header decodes the per-format header region of a framed OEM
// message into oem.Metadata. It mirrors the header-parsing half of
// canboat/decoder.go's Decode method — consume a fixed prefix, populate a
// metadata struct, report how many bytes were consumed — generalized from
// canboat's single CAN-frame header to the family of OEM binary/ASCII/NMEA
// header shapes spec.md §4.4 describes.
//
// The header decoder never consults the message-definition database: for
// binary formats it populates MessageID directly from the wire; for
// text formats it populates MessageName from the decoded token. Resolving
// the other field (and the definition CRC) is the pipeline's job, once a
// MessageDB is available (spec.md §4.2's get_by_id/get_by_name).
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/novatel-oem/oem-transcode/oem"
)

// ErrMalformedInput is returned when a header region is structurally
// invalid: a short binary header, an unparseable numeric token, or a
// missing delimiter.
var ErrMalformedInput = errors.New("malformed header")

// Fixed binary header lengths, in bytes, including the 3-byte sync.
const (
	BinaryLongHeaderLength  = 28
	BinaryShortHeaderLength = 12
)

const (
	messageTypeResponseBit  = 0x80
	measurementSourceShift  = 4
	measurementSourceMask   = 0x03
)

// DecodeBinaryLong decodes the 28-byte long binary header. frame must be
// at least BinaryLongHeaderLength bytes (the framer guarantees this before
// calling in). Layout (all multi-byte fields little-endian):
//
//	0:3   sync (AA 44 12)
//	3     header length
//	4:6   message id
//	6     message type (bit 7 = response, bits 5:4 = measurement source)
//	7     port address
//	8:10  message length (body length, excluding header and CRC)
//	10:12 sequence number
//	12    idle time
//	13    time status
//	14:16 week
//	16:20 milliseconds
//	20:24 receiver status
//	24:26 reserved
//	26:28 receiver software version
func DecodeBinaryLong(frame []byte) (oem.Metadata, int, uint32, error) {
	if len(frame) < BinaryLongHeaderLength {
		return oem.Metadata{}, 0, 0, ErrMalformedInput
	}
	messageType := frame[6]
	md := oem.Metadata{
		MessageID:         binary.LittleEndian.Uint16(frame[4:6]),
		Format:            oem.FormatBinary,
		Response:          messageType&messageTypeResponseBit != 0,
		MeasurementSource: decodeMeasurementSource(messageType),
		TimeStatus:        oem.TimeStatus(frame[13]),
		GPSWeek:           binary.LittleEndian.Uint16(frame[14:16]),
		TimeMillis:        float64(binary.LittleEndian.Uint32(frame[16:20])),
		HeaderLength:      BinaryLongHeaderLength,
	}
	bodyLength := binary.LittleEndian.Uint16(frame[8:10])
	return md, BinaryLongHeaderLength, uint32(bodyLength), nil
}

// DecodeBinaryShort decodes the 12-byte short binary header:
//
//	0:3  sync (AA 44 13)
//	3    message length (body length)
//	4:6  message id
//	6:8  week
//	8:12 milliseconds
func DecodeBinaryShort(frame []byte) (oem.Metadata, int, uint32, error) {
	if len(frame) < BinaryShortHeaderLength {
		return oem.Metadata{}, 0, 0, ErrMalformedInput
	}
	md := oem.Metadata{
		MessageID:    binary.LittleEndian.Uint16(frame[4:6]),
		Format:       oem.FormatShortBinary,
		GPSWeek:      binary.LittleEndian.Uint16(frame[6:8]),
		TimeMillis:   float64(binary.LittleEndian.Uint32(frame[8:12])),
		HeaderLength: BinaryShortHeaderLength,
	}
	bodyLength := uint32(frame[3])
	return md, BinaryShortHeaderLength, bodyLength, nil
}

func decodeMeasurementSource(messageType byte) oem.MeasurementSource {
	switch (messageType >> measurementSourceShift) & measurementSourceMask {
	case 0:
		return oem.SourcePrimary
	case 1:
		return oem.SourceSecondary
	default:
		return oem.SourceUnknown
	}
}

// DecodeASCIILong decodes the comma-delimited long ASCII header: frame
// starts immediately after the leading '#'. Canonical token order is
// MessageName,PortAddress,SequenceNumber,IdleTime,TimeStatus,Week,
// Milliseconds,ReceiverStatus,Reserved,ReceiverSwVersion; terminated by
// ';'. Returns the metadata and the number of bytes of frame consumed,
// through the ';' (the '#' is not counted).
func DecodeASCIILong(frame []byte) (oem.Metadata, int, error) {
	end := indexByte(frame, ';')
	if end < 0 {
		return oem.Metadata{}, 0, ErrMalformedInput
	}
	tokens := strings.Split(string(frame[:end]), ",")
	if len(tokens) != 10 {
		return oem.Metadata{}, 0, fmt.Errorf("%w: expected 10 ASCII header tokens, got %d", ErrMalformedInput, len(tokens))
	}

	name, response := splitResponseSuffix(tokens[0])
	name = splitFormatSuffix(name, 'A')
	seq, err1 := strconv.ParseUint(tokens[2], 10, 32)
	idle, err2 := strconv.ParseFloat(tokens[3], 64)
	week, err3 := strconv.ParseUint(tokens[5], 10, 16)
	ms, err4 := strconv.ParseFloat(tokens[6], 64)
	_ = idle
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return oem.Metadata{}, 0, fmt.Errorf("%w: unparseable numeric header token", ErrMalformedInput)
	}
	_ = seq

	md := oem.Metadata{
		MessageName: name,
		Format:      oem.FormatASCII,
		Response:    response,
		TimeStatus:  parseTimeStatus(tokens[4]),
		GPSWeek:     uint16(week),
		TimeMillis:  ms,
	}
	headerLen := end + 1 // include the trailing ';'
	md.HeaderLength = uint16(headerLen)
	return md, headerLen, nil
}

// DecodeASCIIShort decodes the comma-delimited short ASCII header:
// MessageName,Week,Milliseconds; terminated by ';'.
func DecodeASCIIShort(frame []byte) (oem.Metadata, int, error) {
	end := indexByte(frame, ';')
	if end < 0 {
		return oem.Metadata{}, 0, ErrMalformedInput
	}
	tokens := strings.Split(string(frame[:end]), ",")
	if len(tokens) != 3 {
		return oem.Metadata{}, 0, fmt.Errorf("%w: expected 3 short-ASCII header tokens, got %d", ErrMalformedInput, len(tokens))
	}

	name, response := splitResponseSuffix(tokens[0])
	name = splitFormatSuffix(name, 'A')
	week, err1 := strconv.ParseUint(tokens[1], 10, 16)
	ms, err2 := strconv.ParseFloat(tokens[2], 64)
	if err1 != nil || err2 != nil {
		return oem.Metadata{}, 0, fmt.Errorf("%w: unparseable numeric header token", ErrMalformedInput)
	}

	headerLen := end + 1
	md := oem.Metadata{
		MessageName:  name,
		Format:       oem.FormatShortASCII,
		Response:     response,
		TimeStatus:   oem.TimeStatusUnknown,
		GPSWeek:      uint16(week),
		TimeMillis:   ms,
		HeaderLength: uint16(headerLen),
	}
	return md, headerLen, nil
}

// DecodeAbbreviatedASCII decodes a whitespace-delimited abbreviated-ASCII
// header: MessageName Port Sequence IdleTime TimeStatus Week Milliseconds
// ReceiverStatus Reserved ReceiverSwVersion, with the body continuing
// space-delimited after the last header token. Since there is no
// delimiter distinguishing header from body, only the message name is
// extracted here; the body decoder consumes the remaining space-delimited
// tokens directly.
func DecodeAbbreviatedASCII(frame []byte) (oem.Metadata, int, error) {
	end := indexAny(frame, " \t\r\n")
	if end < 0 {
		end = len(frame)
	}
	name, response := splitResponseSuffix(string(frame[:end]))
	md := oem.Metadata{
		MessageName:  name,
		Format:       oem.FormatAbbreviatedASCII,
		Response:     response,
		TimeStatus:   oem.TimeStatusUnknown,
		HeaderLength: uint16(end),
	}
	return md, end, nil
}

// DecodeNMEA decodes an NMEA talker+sentence tag: frame starts
// immediately after the leading '$'. The tag runs up to the first ','.
// NMEA carries no week/ms/time-status; those fields are zeroed with
// TimeStatus = UNKNOWN per spec.md §4.4.
func DecodeNMEA(frame []byte) (oem.Metadata, int, error) {
	end := indexByte(frame, ',')
	if end < 0 {
		return oem.Metadata{}, 0, ErrMalformedInput
	}
	md := oem.Metadata{
		MessageName:  string(frame[:end]),
		Format:       oem.FormatNMEA,
		TimeStatus:   oem.TimeStatusUnknown,
		HeaderLength: uint16(end),
	}
	return md, end, nil
}

// splitResponseSuffix strips a trailing "R" response-indicator suffix
// NovAtel ASCII message names carry (e.g. "LOGR" signals a command reply),
// the ASCII-format analogue of the binary header's response bit.
func splitResponseSuffix(name string) (string, bool) {
	if strings.HasSuffix(name, "R") && len(name) > 1 {
		return strings.TrimSuffix(name, "R"), true
	}
	return name, false
}

// splitFormatSuffix strips the single-character "A" ASCII-format indicator
// NovAtel appends to ASCII log names, after any response suffix has already
// been removed, recovering the bare name the message database registers
// (e.g. "BESTPOSAR" -> "BESTPOS").
func splitFormatSuffix(name string, formatChar byte) string {
	if len(name) > 1 && name[len(name)-1] == formatChar {
		return name[:len(name)-1]
	}
	return name
}

func parseTimeStatus(token string) oem.TimeStatus {
	switch strings.ToUpper(token) {
	case "APPROXIMATE":
		return oem.TimeStatusApproximate
	case "COARSEADJUSTING":
		return oem.TimeStatusCoarseAdjusting
	case "COARSE":
		return oem.TimeStatusCoarse
	case "COARSESTEERING":
		return oem.TimeStatusCoarseSteering
	case "FREEWHEELING":
		return oem.TimeStatusFreeWheeling
	case "FINEADJUSTING":
		return oem.TimeStatusFineAdjusting
	case "FINE":
		return oem.TimeStatusFine
	case "FINEBACKUPSTEERING":
		return oem.TimeStatusFineBackupSteering
	case "FINESTEERING":
		return oem.TimeStatusFineSteering
	case "SATTIME":
		return oem.TimeStatusSatTime
	case "EXTERNALINPUT":
		return oem.TimeStatusExternalInput
	case "EXACTTIME":
		return oem.TimeStatusExactTime
	default:
		return oem.TimeStatusUnknown
	}
}

// TimeStatusName is the inverse of parseTimeStatus, used by the encoder to
// re-emit the canonical ASCII time-status token.
func TimeStatusName(s oem.TimeStatus) string {
	switch s {
	case oem.TimeStatusApproximate:
		return "APPROXIMATE"
	case oem.TimeStatusCoarseAdjusting:
		return "COARSEADJUSTING"
	case oem.TimeStatusCoarse:
		return "COARSE"
	case oem.TimeStatusCoarseSteering:
		return "COARSESTEERING"
	case oem.TimeStatusFreeWheeling:
		return "FREEWHEELING"
	case oem.TimeStatusFineAdjusting:
		return "FINEADJUSTING"
	case oem.TimeStatusFine:
		return "FINE"
	case oem.TimeStatusFineBackupSteering:
		return "FINEBACKUPSTEERING"
	case oem.TimeStatusFineSteering:
		return "FINESTEERING"
	case oem.TimeStatusSatTime:
		return "SATTIME"
	case oem.TimeStatusExternalInput:
		return "EXTERNALINPUT"
	case oem.TimeStatusExactTime:
		return "EXACTTIME"
	default:
		return "UNKNOWN"
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func indexAny(b []byte, chars string) int {
	for i, v := range b {
		if strings.IndexByte(chars, v) >= 0 {
			return i
		}
	}
	return -1
}
