// Package body decodes a frame's payload bytes into an oem.FieldValues
// tree against a schema.FieldDescriptor layout. It generalizes
// canboat/decoder.go's decode/decodeWithRepeatedFields field-tree walk
// (accumulate a bit cursor, dispatch per FieldType, recurse into repeat
// sets) from canboat's single "repeating field set" array convention to
// spec.md §4.5's three array-arity kinds (fixed, length-prefixed,
// terminator-delimited), and from canboat's payload-only bit cursor to a
// symmetric walker over both binary bytes and ASCII comma-delimited
// tokens.
package body

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/schema"
)

// ErrMalformedInput mirrors spec.md §4.5: a structural parse failure such
// as a missing ASCII token or a binary body shorter than its schema.
var ErrMalformedInput = errors.New("malformed message body")

// ErrNoDefinition names the case where a message id/name has no schema;
// kept here so body-decode error handling code can reference one
// consistent sentinel family. No function in this module returns it: the
// pipeline reports that case as oem.StatusNoDefinition. See schema.MessageDB.
var ErrNoDefinition = errors.New("no message definition")

// Structs resolves a nested struct field layout by name.
type Structs interface {
	ResolveStruct(name string) ([]schema.FieldDescriptor, bool)
}

// DecodeBinary walks fields against data (the frame's body region,
// excluding header and trailing CRC) using little-endian, byte-aligned
// layout, and returns the ordered field tree. Binary bodies must exactly
// match declared size: trailing unconsumed bytes are an error, matching
// spec.md §4.5's "binary bodies must exactly match declared size".
func DecodeBinary(fields []schema.FieldDescriptor, data []byte, enums schema.Enumerations, structs Structs) (oem.FieldValues, error) {
	raw := oem.RawData(data)
	cursor := uint16(0)
	values, err := decodeBinaryFields(fields, &raw, &cursor, enums, structs)
	if err != nil {
		return nil, err
	}
	if int(cursor)/8 != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after decoding body", ErrMalformedInput, len(data)-int(cursor)/8)
	}
	return values, nil
}

func decodeBinaryFields(fields []schema.FieldDescriptor, raw *oem.RawData, cursor *uint16, enums schema.Enumerations, structs Structs) (oem.FieldValues, error) {
	values := make(oem.FieldValues, 0, len(fields))
	for _, f := range fields {
		if f.Array != schema.ArrayNone {
			v, err := decodeBinaryArray(f, raw, cursor, enums, structs)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			continue
		}
		v, err := decodeBinaryScalar(f, raw, cursor, enums, structs)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func decodeBinaryArray(f schema.FieldDescriptor, raw *oem.RawData, cursor *uint16, enums schema.Enumerations, structs Structs) (oem.FieldValue, error) {
	var count int
	switch f.Array {
	case schema.ArrayFixed:
		count = f.ArrayCount
	case schema.ArrayLengthPfx:
		n, err := raw.DecodeVariableUint(*cursor, 32)
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: array length prefix for %q: %v", ErrMalformedInput, f.Name, err)
		}
		*cursor += 32
		count = int(n)
	case schema.ArrayTerminated:
		elements := make([]interface{}, 0)
		for {
			b, err := raw.DecodeVariableUint(*cursor, 8)
			if err != nil {
				return oem.FieldValue{}, fmt.Errorf("%w: terminated array for %q ran off end of body", ErrMalformedInput, f.Name)
			}
			if byte(b) == f.Terminator {
				*cursor += 8
				break
			}
			elem, err := decodeBinaryScalar(elementDescriptor(f), raw, cursor, enums, structs)
			if err != nil {
				return oem.FieldValue{}, err
			}
			elements = append(elements, elem.Value)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: elements}, nil
	}

	elements := make([]interface{}, 0, count)
	elemDesc := elementDescriptor(f)
	for i := 0; i < count; i++ {
		elem, err := decodeBinaryScalar(elemDesc, raw, cursor, enums, structs)
		if err != nil {
			return oem.FieldValue{}, err
		}
		elements = append(elements, elem.Value)
	}
	return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: elements}, nil
}

// elementDescriptor returns a copy of f describing one element of its own
// array — same scalar type and refs, array kind cleared.
func elementDescriptor(f schema.FieldDescriptor) schema.FieldDescriptor {
	e := f
	e.Array = schema.ArrayNone
	return e
}

func decodeBinaryScalar(f schema.FieldDescriptor, raw *oem.RawData, cursor *uint16, enums schema.Enumerations, structs Structs) (oem.FieldValue, error) {
	switch f.DataType {
	case schema.TypeInt8, schema.TypeInt16, schema.TypeInt32, schema.TypeInt64:
		width := f.DataType.BitWidth()
		v, err := raw.DecodeVariableInt(*cursor, width)
		*cursor += width
		if err != nil && !errors.Is(err, oem.ErrValueNoData) {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v}, nil

	case schema.TypeUint8, schema.TypeUint16, schema.TypeUint32, schema.TypeUint64:
		width := f.DataType.BitWidth()
		v, err := raw.DecodeVariableUint(*cursor, width)
		*cursor += width
		if err != nil && !errors.Is(err, oem.ErrValueNoData) {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v}, nil

	case schema.TypeBool:
		v, err := raw.DecodeVariableUint(*cursor, 8)
		*cursor += 8
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v != 0}, nil

	case schema.TypeFloat, schema.TypeDouble:
		width := f.DataType.BitWidth()
		v, err := raw.DecodeFloat(*cursor, width)
		*cursor += width
		if err != nil && !errors.Is(err, oem.ErrValueNoData) {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v}, nil

	case schema.TypeEnum:
		width := f.EnumWidth()
		v, err := raw.DecodeVariableUint(*cursor, width)
		*cursor += width
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		code, rerr := enums.Resolve(f.EnumRef, uint32(v))
		if rerr != nil {
			code = ""
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: oem.EnumValue{Value: uint32(v), Code: code}}, nil

	case schema.TypeCharFix:
		width := f.CharWidth * 8
		s, err := raw.DecodeStringFix(*cursor, width)
		*cursor += width
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: s}, nil

	case schema.TypeCharVar:
		n, err := raw.DecodeVariableUint(*cursor, 32)
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q length prefix: %v", ErrMalformedInput, f.Name, err)
		}
		*cursor += 32
		s, err := raw.DecodeStringFix(*cursor, uint16(n)*8)
		*cursor += uint16(n) * 8
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: s}, nil

	case schema.TypeHexBytes:
		width := f.CharWidth * 8
		b, _, err := raw.DecodeBytes(*cursor, width, false)
		*cursor += width
		if err != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: b}, nil

	case schema.TypeStruct:
		nested, ok := structs.ResolveStruct(f.StructRef)
		if !ok {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q references unknown struct %q", ErrMalformedInput, f.Name, f.StructRef)
		}
		children, err := decodeBinaryFields(nested, raw, cursor, enums, structs)
		if err != nil {
			return oem.FieldValue{}, err
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: children}, nil

	default:
		return oem.FieldValue{}, fmt.Errorf("%w: field %q has unsupported type %q", ErrMalformedInput, f.Name, f.DataType)
	}
}

// DecodeASCII walks fields against a comma-delimited token stream (the
// frame body between the header's trailing ';' and the checksum '*').
func DecodeASCII(fields []schema.FieldDescriptor, body string, enums schema.Enumerations, structs Structs) (oem.FieldValues, error) {
	tokens := splitASCIIFields(body)
	pos := 0
	values, err := decodeASCIIFields(fields, tokens, &pos, enums, structs)
	if err != nil {
		return nil, err
	}
	if pos != len(tokens) {
		return nil, fmt.Errorf("%w: %d trailing ASCII tokens after decoding body", ErrMalformedInput, len(tokens)-pos)
	}
	return values, nil
}

// splitASCIIFields splits on top-level commas only, leaving commas nested
// inside a CHAR_ARRAY_FIXED/VAR quoted string untouched — e.g.
// "abc","quoted,value",123 splits into three tokens, not four.
func splitASCIIFields(body string) []string {
	if body == "" {
		return nil
	}
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ',' && !inQuotes:
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	tokens = append(tokens, cur.String())
	return tokens
}

func decodeASCIIFields(fields []schema.FieldDescriptor, tokens []string, pos *int, enums schema.Enumerations, structs Structs) (oem.FieldValues, error) {
	values := make(oem.FieldValues, 0, len(fields))
	for _, f := range fields {
		if f.Array != schema.ArrayNone {
			v, err := decodeASCIIArray(f, tokens, pos, enums, structs)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			continue
		}
		v, err := decodeASCIIScalar(f, tokens, pos, enums, structs)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func nextToken(tokens []string, pos *int, fieldName string) (string, error) {
	if *pos >= len(tokens) {
		return "", fmt.Errorf("%w: ran out of tokens decoding field %q", ErrMalformedInput, fieldName)
	}
	t := tokens[*pos]
	*pos++
	return t, nil
}

func decodeASCIIArray(f schema.FieldDescriptor, tokens []string, pos *int, enums schema.Enumerations, structs Structs) (oem.FieldValue, error) {
	elemDesc := elementDescriptor(f)
	var count int
	switch f.Array {
	case schema.ArrayFixed:
		count = f.ArrayCount
	case schema.ArrayLengthPfx:
		tok, err := nextToken(tokens, pos, f.Name)
		if err != nil {
			return oem.FieldValue{}, err
		}
		n, perr := strconv.ParseUint(tok, 10, 32)
		if perr != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: array length prefix for %q: %v", ErrMalformedInput, f.Name, perr)
		}
		count = int(n)
	case schema.ArrayTerminated:
		elements := make([]interface{}, 0)
		terminator := strconv.Itoa(int(f.Terminator))
		for {
			if *pos >= len(tokens) {
				return oem.FieldValue{}, fmt.Errorf("%w: terminated array for %q ran off end of body", ErrMalformedInput, f.Name)
			}
			if tokens[*pos] == terminator {
				*pos++
				break
			}
			elem, err := decodeASCIIScalar(elemDesc, tokens, pos, enums, structs)
			if err != nil {
				return oem.FieldValue{}, err
			}
			elements = append(elements, elem.Value)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: elements}, nil
	}

	elements := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		elem, err := decodeASCIIScalar(elemDesc, tokens, pos, enums, structs)
		if err != nil {
			return oem.FieldValue{}, err
		}
		elements = append(elements, elem.Value)
	}
	return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: elements}, nil
}

func decodeASCIIScalar(f schema.FieldDescriptor, tokens []string, pos *int, enums schema.Enumerations, structs Structs) (oem.FieldValue, error) {
	if f.DataType == schema.TypeStruct {
		nested, ok := structs.ResolveStruct(f.StructRef)
		if !ok {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q references unknown struct %q", ErrMalformedInput, f.Name, f.StructRef)
		}
		children, err := decodeASCIIFields(nested, tokens, pos, enums, structs)
		if err != nil {
			return oem.FieldValue{}, err
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: children}, nil
	}

	tok, err := nextToken(tokens, pos, f.Name)
	if err != nil {
		return oem.FieldValue{}, err
	}
	tok = strings.Trim(tok, `"`)

	switch f.DataType {
	case schema.TypeInt8, schema.TypeInt16, schema.TypeInt32, schema.TypeInt64:
		v, perr := strconv.ParseInt(tok, 0, 64)
		if perr != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, perr)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v}, nil

	case schema.TypeUint8, schema.TypeUint16, schema.TypeUint32, schema.TypeUint64, schema.TypeHexBytes:
		base := 10
		if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
			base = 0
		}
		v, perr := strconv.ParseUint(tok, base, 64)
		if perr != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, perr)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v}, nil

	case schema.TypeBool:
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: tok == "1" || strings.EqualFold(tok, "TRUE")}, nil

	case schema.TypeFloat, schema.TypeDouble:
		v, perr := strconv.ParseFloat(tok, 64)
		if perr != nil {
			return oem.FieldValue{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, perr)
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: v}, nil

	case schema.TypeEnum:
		code := tok
		v := uint32(0)
		if n, perr := strconv.ParseUint(tok, 10, 32); perr == nil {
			v = uint32(n)
			if resolved, rerr := enums.Resolve(f.EnumRef, v); rerr == nil {
				code = resolved
			}
		} else if def, ok := enums.Find(f.EnumRef); ok {
			for _, e := range def.Entries {
				if e.Code == tok {
					v = e.Value
					break
				}
			}
		}
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: oem.EnumValue{Value: v, Code: code}}, nil

	case schema.TypeCharFix, schema.TypeCharVar:
		return oem.FieldValue{ID: f.Name, Type: string(f.DataType), Value: tok}, nil

	default:
		return oem.FieldValue{}, fmt.Errorf("%w: field %q has unsupported type %q", ErrMalformedInput, f.Name, f.DataType)
	}
}
