// Package encode is symmetric to package body: it serializes a decoded
// field tree back into wire bytes. It is grounded on
// canboat/inputoutput.go and canboat/output.go's MarshalRawMessage (which
// write a CAN raw-log line per field set), generalized to spec.md §4.6's
// three NovAtel output shapes — ASCII, binary and flattened binary — with
// the CRC computed as bytes are written rather than appended afterward,
// matching canboat's own incremental style.
package encode

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/novatel-oem/oem-transcode/crc"
	"github.com/novatel-oem/oem-transcode/header"
	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/schema"
)

// ErrMalformedInput is returned when a field tree does not match its
// schema closely enough to encode — a missing field, a value of the
// wrong Go type, or an output that would exceed the façade's fixed
// output buffer capacity.
var ErrMalformedInput = errors.New("cannot encode message")

// MaxASCIIMessageLength is the compile-time cap spec.md §6 calls for on
// ASCII/short-ASCII/abbreviated-ASCII output.
const MaxASCIIMessageLength = 32 * 1024

// Structs resolves a nested struct field layout by name; satisfied by
// *schema.MessageDB.
type Structs interface {
	ResolveStruct(name string) ([]schema.FieldDescriptor, bool)
}

// EncodeBinary serializes md + fields into a long-binary frame: 28-byte
// header, little-endian body, trailing 4-byte CRC-32.
func EncodeBinary(md oem.Metadata, fields oem.FieldValues, layout []schema.FieldDescriptor, structs Structs) ([]byte, error) {
	return encodeBinary(md, fields, layout, structs, false)
}

// EncodeFlattenedBinary is EncodeBinary, except variable-arity arrays are
// written as zero-padded fixed arrays at their schema-declared maximum
// capacity (FieldDescriptor.ArrayCount), so downstream consumers can index
// fields at constant offsets.
func EncodeFlattenedBinary(md oem.Metadata, fields oem.FieldValues, layout []schema.FieldDescriptor, structs Structs) ([]byte, error) {
	return encodeBinary(md, fields, layout, structs, true)
}

func encodeBinary(md oem.Metadata, fields oem.FieldValues, layout []schema.FieldDescriptor, structs Structs, flattened bool) ([]byte, error) {
	body, err := encodeBinaryFields(layout, fields, structs, flattened)
	if err != nil {
		return nil, err
	}
	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds 16-bit message length field", ErrMalformedInput, len(body))
	}

	h := make([]byte, header.BinaryLongHeaderLength)
	h[0], h[1], h[2] = 0xAA, 0x44, 0x12
	h[3] = header.BinaryLongHeaderLength
	binary.LittleEndian.PutUint16(h[4:6], md.MessageID)
	h[6] = encodeMessageType(md)
	h[7] = 0 // port address: not retained in Metadata, encoded as unspecified
	binary.LittleEndian.PutUint16(h[8:10], uint16(len(body)))
	binary.LittleEndian.PutUint16(h[10:12], 0) // sequence number
	h[12] = 0                                  // idle time
	h[13] = byte(md.TimeStatus)
	binary.LittleEndian.PutUint16(h[14:16], md.GPSWeek)
	binary.LittleEndian.PutUint32(h[16:20], uint32(md.TimeMillis))
	// receiver status, reserved, receiver sw version: zeroed, not retained in Metadata

	frame := append(h, body...)
	sum := crc.Block(frame)
	crcBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBytes, sum)
	return append(frame, crcBytes...), nil
}

func encodeMessageType(md oem.Metadata) byte {
	var t byte
	if md.Response {
		t |= 0x80
	}
	switch md.MeasurementSource {
	case oem.SourceSecondary:
		t |= 0x01 << 4
	case oem.SourcePrimary:
		t |= 0x00 << 4
	}
	return t
}

func encodeBinaryFields(layout []schema.FieldDescriptor, values oem.FieldValues, structs Structs, flattened bool) ([]byte, error) {
	var buf []byte
	for _, f := range layout {
		v, ok := values.FindByID(f.Name)
		if !ok {
			return nil, fmt.Errorf("%w: field %q missing from value tree", ErrMalformedInput, f.Name)
		}
		if f.Array != schema.ArrayNone {
			if err := encodeBinaryArray(&buf, f, v, structs, flattened); err != nil {
				return nil, err
			}
			continue
		}
		if err := encodeBinaryScalar(&buf, f, v.Value, structs); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func encodeBinaryArray(buf *[]byte, f schema.FieldDescriptor, v oem.FieldValue, structs Structs, flattened bool) error {
	elements, ok := v.Value.([]interface{})
	if !ok {
		return fmt.Errorf("%w: field %q is not an array value", ErrMalformedInput, f.Name)
	}
	elemDesc := elementDescriptor(f)

	switch f.Array {
	case schema.ArrayFixed:
		if len(elements) != f.ArrayCount {
			return fmt.Errorf("%w: field %q has %d elements, schema declares %d", ErrMalformedInput, f.Name, len(elements), f.ArrayCount)
		}
		for _, e := range elements {
			if err := encodeBinaryScalar(buf, elemDesc, e, structs); err != nil {
				return err
			}
		}
		return nil

	case schema.ArrayLengthPfx:
		count := len(elements)
		if flattened && f.ArrayCount > count {
			count = f.ArrayCount
		}
		lenBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBytes, uint32(len(elements)))
		*buf = append(*buf, lenBytes...)
		for i := 0; i < count; i++ {
			if i < len(elements) {
				if err := encodeBinaryScalar(buf, elemDesc, elements[i], structs); err != nil {
					return err
				}
			} else {
				*buf = append(*buf, zeroValueBytes(elemDesc)...)
			}
		}
		return nil

	case schema.ArrayTerminated:
		for _, e := range elements {
			if err := encodeBinaryScalar(buf, elemDesc, e, structs); err != nil {
				return err
			}
		}
		*buf = append(*buf, f.Terminator)
		return nil
	}
	return fmt.Errorf("%w: field %q has unknown array kind", ErrMalformedInput, f.Name)
}

func elementDescriptor(f schema.FieldDescriptor) schema.FieldDescriptor {
	e := f
	e.Array = schema.ArrayNone
	return e
}

// zeroValueBytes returns the zero-padding bytes for one element of a
// flattened-binary array slot beyond its actual length.
func zeroValueBytes(f schema.FieldDescriptor) []byte {
	width := f.DataType.BitWidth()
	if f.DataType == schema.TypeEnum {
		width = f.EnumWidth()
	}
	if f.DataType == schema.TypeCharFix || f.DataType == schema.TypeHexBytes {
		width = f.CharWidth * 8
	}
	return make([]byte, width/8)
}

func encodeBinaryScalar(buf *[]byte, f schema.FieldDescriptor, value interface{}, structs Structs) error {
	switch f.DataType {
	case schema.TypeInt8, schema.TypeInt16, schema.TypeInt32, schema.TypeInt64:
		v, err := asInt64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		appendIntLE(buf, uint64(v), int(f.DataType.BitWidth())/8)
		return nil

	case schema.TypeUint8, schema.TypeUint16, schema.TypeUint32, schema.TypeUint64:
		v, err := asUint64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		appendIntLE(buf, v, int(f.DataType.BitWidth())/8)
		return nil

	case schema.TypeBool:
		b, _ := value.(bool)
		if b {
			*buf = append(*buf, 1)
		} else {
			*buf = append(*buf, 0)
		}
		return nil

	case schema.TypeFloat:
		v, err := asFloat64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		*buf = append(*buf, b...)
		return nil

	case schema.TypeDouble:
		v, err := asFloat64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		*buf = append(*buf, b...)
		return nil

	case schema.TypeEnum:
		ev, ok := value.(oem.EnumValue)
		if !ok {
			return fmt.Errorf("%w: field %q is not an enum value", ErrMalformedInput, f.Name)
		}
		appendIntLE(buf, uint64(ev.Value), int(f.EnumWidth())/8)
		return nil

	case schema.TypeCharFix:
		s, _ := value.(string)
		padded := make([]byte, f.CharWidth)
		copy(padded, s)
		*buf = append(*buf, padded...)
		return nil

	case schema.TypeCharVar:
		s, _ := value.(string)
		lenBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBytes, uint32(len(s)))
		*buf = append(*buf, lenBytes...)
		*buf = append(*buf, []byte(s)...)
		return nil

	case schema.TypeHexBytes:
		b, _ := value.([]byte)
		padded := make([]byte, f.CharWidth)
		copy(padded, b)
		*buf = append(*buf, padded...)
		return nil

	case schema.TypeStruct:
		children, ok := value.(oem.FieldValues)
		if !ok {
			return fmt.Errorf("%w: field %q is not a nested field tree", ErrMalformedInput, f.Name)
		}
		nested, ok := structs.ResolveStruct(f.StructRef)
		if !ok {
			return fmt.Errorf("%w: field %q references unknown struct %q", ErrMalformedInput, f.Name, f.StructRef)
		}
		sub, err := encodeBinaryFields(nested, children, structs, false)
		if err != nil {
			return err
		}
		*buf = append(*buf, sub...)
		return nil

	default:
		return fmt.Errorf("%w: field %q has unsupported type %q", ErrMalformedInput, f.Name, f.DataType)
	}
}

func appendIntLE(buf *[]byte, v uint64, width int) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	*buf = append(*buf, b[:width]...)
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer value, got %T", v)
}

func asUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		return uint64(n), nil
	}
	return 0, fmt.Errorf("expected integer value, got %T", v)
}

func asFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected float value, got %T", v)
}

// EncodeASCII serializes md + fields into a long-ASCII frame:
// "#NAMEA,port,seq,idle,status,week,ms,rxstatus,reserved,swver;f1,f2,...*CRC\r\n".
// Ancillary header columns not tracked by oem.Metadata (port address,
// sequence number, idle time, receiver status, reserved, receiver
// software version) are encoded as their canonical zero/unspecified
// values; callers needing exact round-trip fidelity on those columns must
// track them alongside Metadata themselves (spec.md §8's round-trip
// property concerns the field tree, not these ancillary columns).
func EncodeASCII(md oem.Metadata, fields oem.FieldValues, layout []schema.FieldDescriptor, structs Structs) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('#')
	b.WriteString(md.MessageName)
	b.WriteByte('A')
	if md.Response {
		b.WriteByte('R')
	}
	fmt.Fprintf(&b, ",UNKNOWN,0,0.0,%s,%d,%.3f,00000000,0000,0000;",
		header.TimeStatusName(md.TimeStatus), md.GPSWeek, md.TimeMillis)

	if err := encodeASCIIFields(&b, layout, fields, structs); err != nil {
		return nil, err
	}

	body := b.String()
	sum := crc.Block([]byte(body[1:])) // CRC covers everything after the leading '#'
	result := fmt.Sprintf("%s*%s\r\n", body, crc.HexUpper8(sum))
	if len(result) > MaxASCIIMessageLength {
		return nil, fmt.Errorf("%w: ASCII message of %d bytes exceeds maximum length", ErrMalformedInput, len(result))
	}
	return []byte(result), nil
}

// jsonMessage is the wire shape of the JSON encode target: metadata
// columns alongside the field tree, mirroring the same information an
// ASCII header carries.
type jsonMessage struct {
	MessageID     uint16          `json:"message_id"`
	MessageName   string          `json:"message_name"`
	Format        string          `json:"format"`
	GPSWeek       uint16          `json:"gps_week"`
	TimeMillis    float64         `json:"time_millis"`
	TimeStatus    string          `json:"time_status"`
	DefinitionCRC uint32          `json:"definition_crc"`
	Fields        oem.FieldValues `json:"fields"`
}

// EncodeJSON serializes md + fields as a single JSON object. Unlike the
// ASCII/binary targets it carries no checksum of its own; JSON payloads
// are expected to travel over a transport that already guarantees
// integrity (spec.md §6's target-format enumeration lists JSON alongside
// ASCII/BINARY/FLATTENED_BINARY without a wire checksum requirement).
func EncodeJSON(md oem.Metadata, fields oem.FieldValues) ([]byte, error) {
	msg := jsonMessage{
		MessageID:     md.MessageID,
		MessageName:   md.MessageName,
		Format:        md.Format.String(),
		GPSWeek:       md.GPSWeek,
		TimeMillis:    md.TimeMillis,
		TimeStatus:    header.TimeStatusName(md.TimeStatus),
		DefinitionCRC: md.DefinitionCRC,
		Fields:        fields,
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(out) > MaxASCIIMessageLength {
		return nil, fmt.Errorf("%w: JSON message of %d bytes exceeds maximum length", ErrMalformedInput, len(out))
	}
	return out, nil
}

func encodeASCIIFields(b *strings.Builder, layout []schema.FieldDescriptor, values oem.FieldValues, structs Structs) error {
	for i, f := range layout {
		if i > 0 {
			b.WriteByte(',')
		}
		v, ok := values.FindByID(f.Name)
		if !ok {
			return fmt.Errorf("%w: field %q missing from value tree", ErrMalformedInput, f.Name)
		}
		if f.Array != schema.ArrayNone {
			if err := encodeASCIIArray(b, f, v, structs); err != nil {
				return err
			}
			continue
		}
		if err := encodeASCIIScalar(b, f, v.Value, structs); err != nil {
			return err
		}
	}
	return nil
}

func encodeASCIIArray(b *strings.Builder, f schema.FieldDescriptor, v oem.FieldValue, structs Structs) error {
	elements, ok := v.Value.([]interface{})
	if !ok {
		return fmt.Errorf("%w: field %q is not an array value", ErrMalformedInput, f.Name)
	}
	elemDesc := elementDescriptor(f)

	if f.Array == schema.ArrayLengthPfx {
		fmt.Fprintf(b, "%d,", len(elements))
	}
	for i, e := range elements {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encodeASCIIScalar(b, elemDesc, e, structs); err != nil {
			return err
		}
	}
	if f.Array == schema.ArrayTerminated {
		fmt.Fprintf(b, ",%d", f.Terminator)
	}
	return nil
}

func encodeASCIIScalar(b *strings.Builder, f schema.FieldDescriptor, value interface{}, structs Structs) error {
	switch f.DataType {
	case schema.TypeInt8, schema.TypeInt16, schema.TypeInt32, schema.TypeInt64:
		v, err := asInt64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		b.WriteString(strconv.FormatInt(v, 10))

	case schema.TypeUint8, schema.TypeUint16, schema.TypeUint32, schema.TypeUint64, schema.TypeHexBytes:
		v, err := asUint64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		b.WriteString(strconv.FormatUint(v, 10))

	case schema.TypeBool:
		if v, _ := value.(bool); v {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}

	case schema.TypeFloat, schema.TypeDouble:
		v, err := asFloat64(value)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))

	case schema.TypeEnum:
		ev, ok := value.(oem.EnumValue)
		if !ok {
			return fmt.Errorf("%w: field %q is not an enum value", ErrMalformedInput, f.Name)
		}
		if ev.Code != "" {
			b.WriteString(ev.Code)
		} else {
			b.WriteString(strconv.FormatUint(uint64(ev.Value), 10))
		}

	case schema.TypeCharFix, schema.TypeCharVar:
		s, _ := value.(string)
		b.WriteByte('"')
		b.WriteString(s)
		b.WriteByte('"')

	case schema.TypeStruct:
		children, ok := value.(oem.FieldValues)
		if !ok {
			return fmt.Errorf("%w: field %q is not a nested field tree", ErrMalformedInput, f.Name)
		}
		nested, ok := structs.ResolveStruct(f.StructRef)
		if !ok {
			return fmt.Errorf("%w: field %q references unknown struct %q", ErrMalformedInput, f.Name, f.StructRef)
		}
		return encodeASCIIFields(b, nested, children, structs)

	default:
		return fmt.Errorf("%w: field %q has unsupported type %q", ErrMalformedInput, f.Name, f.DataType)
	}
	return nil
}
