// Package schema loads and indexes the JSON message-definition database
// that drives both decoding and encoding. It is grounded on
// canboat/canboatpgns.go's CanboatSchema/PGN/Field shape (same ordered
// field list; string-valued enum fields such as DataType and ArrayKind are
// plain string types, and format/source strings are mapped by parseFormat
// and parseSource after unmarshalling), adapted from
// canboat's match-by-payload overload resolution to the OEM database's
// overload resolution by (format, measurement source) tuple, per spec.md
// §4.2.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"github.com/novatel-oem/oem-transcode/oem"
)

// DataType is the wire type of one field descriptor.
type DataType string

const (
	TypeInt8      DataType = "INT8"
	TypeInt16     DataType = "INT16"
	TypeInt32     DataType = "INT32"
	TypeInt64     DataType = "INT64"
	TypeUint8     DataType = "UINT8"
	TypeUint16    DataType = "UINT16"
	TypeUint32    DataType = "UINT32"
	TypeUint64    DataType = "UINT64"
	TypeFloat     DataType = "FLOAT"
	TypeDouble    DataType = "DOUBLE"
	TypeBool      DataType = "BOOL"
	TypeEnum      DataType = "ENUM"
	TypeCharFix   DataType = "CHAR_ARRAY_FIXED"
	TypeCharVar   DataType = "CHAR_ARRAY_VAR"
	TypeHexBytes  DataType = "HEX_BYTES"
	TypeStruct    DataType = "STRUCT"
)

// bitWidths gives the wire width, in bits, of every fixed-width scalar type.
var bitWidths = map[DataType]uint16{
	TypeInt8: 8, TypeUint8: 8, TypeBool: 8,
	TypeInt16: 16, TypeUint16: 16,
	TypeInt32: 32, TypeUint32: 32, TypeFloat: 32,
	TypeInt64: 64, TypeUint64: 64, TypeDouble: 64,
}

// BitWidth returns the fixed bit width of a scalar DataType, or 0 for
// variable-width types (char arrays, hex bytes, struct, enum — enum's
// width comes from its backing integer type, tracked separately).
func (t DataType) BitWidth() uint16 { return bitWidths[t] }

// ArrayKind is the arity discipline of a field's array dimension.
type ArrayKind string

const (
	ArrayNone       ArrayKind = ""
	ArrayFixed      ArrayKind = "FIXED"
	ArrayLengthPfx  ArrayKind = "LENGTH_PREFIXED"
	ArrayTerminated ArrayKind = "TERMINATED"
)

// FieldDescriptor is one entry in a message's field layout.
type FieldDescriptor struct {
	Name       string    `json:"name"`
	DataType   DataType  `json:"type"`
	EnumRef    string    `json:"enumRef,omitempty"`
	StructRef  string    `json:"structRef,omitempty"`
	Width      uint16    `json:"width,omitempty"`      // backing bit width for ENUM; defaults to 32
	CharWidth  uint16    `json:"charWidth,omitempty"`  // byte count for CHAR_ARRAY_FIXED / HEX_BYTES
	Array      ArrayKind `json:"array,omitempty"`
	ArrayCount int       `json:"arrayCount,omitempty"` // element count for ArrayFixed; max capacity (flattened-binary padding target) for ArrayLengthPfx/ArrayTerminated
	Terminator byte      `json:"terminator,omitempty"` // for ArrayTerminated
}

// EnumWidth returns the backing bit width of an ENUM field, defaulting to
// 32 bits when unspecified.
func (f FieldDescriptor) EnumWidth() uint16 {
	if f.Width == 0 {
		return 32
	}
	return f.Width
}

// FieldLayout is one versioned field layout for a message.
type FieldLayout struct {
	Version int               `json:"version"`
	Fields  []FieldDescriptor `json:"fields"`
}

// messageDoc is the on-disk JSON shape of one message definition entry.
type messageDoc struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Format            string        `json:"format"`
	MeasurementSource string        `json:"measurementSource"`
	Layouts           []FieldLayout `json:"layouts"`
}

// document is the root shape of the JSON message definition database.
type document struct {
	Enums    []EnumDef                  `json:"enums"`
	Structs  map[string][]FieldDescriptor `json:"structs"`
	Messages map[string]messageDoc       `json:"messages"`
}

// MessageDefinition is one resolved, indexed message schema.
type MessageDefinition struct {
	ID                uint16
	Name              string
	Format            oem.WireFormat
	MeasurementSource oem.MeasurementSource
	Layout            FieldLayout // the latest (highest-version) layout
	DefinitionCRC      uint32
}

// MessageDB is the parsed, indexed message definition database. It is
// built once via Load/Parse and optionally extended via Splice before any
// decoding begins; it is immutable for the lifetime of a pipeline once
// decoding starts (spec.md §3 Lifecycles, §5).
type MessageDB struct {
	byID    map[uint16][]*MessageDefinition
	byName  map[string][]*MessageDefinition
	enums   Enumerations
	structs map[string][]FieldDescriptor
	frozen  bool
}

var (
	// ErrFrozen is returned by Splice once Freeze has been called on the MessageDB.
	ErrFrozen = errors.New("message database is frozen, cannot append definitions")
)

// New returns an empty, unfrozen MessageDB.
func New() *MessageDB {
	return &MessageDB{
		byID:    map[uint16][]*MessageDefinition{},
		byName:  map[string][]*MessageDefinition{},
		structs: map[string][]FieldDescriptor{},
	}
}

// Load parses a JSON message-definition database from a filesystem path.
func Load(filesystem fs.FS, path string) (*MessageDB, error) {
	f, err := filesystem.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a JSON message-definition database from a reader. The raw
// bytes are first validated against the bundled JSON Schema document (see
// validate.go) so a malformed database fails with a field-path error
// instead of a partial encoding/json failure.
func Parse(r io.Reader) (*MessageDB, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(raw); err != nil {
		return nil, fmt.Errorf("message database failed schema validation: %w", err)
	}

	db := New()
	if err := db.splice(raw); err != nil {
		return nil, err
	}
	return db, nil
}

// Splice appends or patches message definitions from an additional JSON
// document of the same shape, before decoding begins (spec.md §4.2).
func (db *MessageDB) Splice(r io.Reader) error {
	if db.frozen {
		return ErrFrozen
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := ValidateDocument(raw); err != nil {
		return fmt.Errorf("spliced message database failed schema validation: %w", err)
	}
	return db.splice(raw)
}

func (db *MessageDB) splice(raw []byte) error {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse message database: %w", err)
	}

	for _, e := range doc.Enums {
		db.enums = append(db.enums, e)
	}
	for name, fields := range doc.Structs {
		db.structs[name] = fields
	}

	// deterministic iteration order so DefinitionCRC is stable across runs
	names := make([]string, 0, len(doc.Messages))
	for name := range doc.Messages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := doc.Messages[name]
		def, err := resolveMessageDoc(name, m)
		if err != nil {
			return err
		}
		db.byID[def.ID] = append(db.byID[def.ID], def)
		key := normalizeName(def.Name)
		db.byName[key] = append(db.byName[key], def)
	}
	return nil
}

func resolveMessageDoc(name string, m messageDoc) (*MessageDefinition, error) {
	id, err := parseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("message %q: %w", name, err)
	}
	format := parseFormat(m.Format)
	source := parseSource(m.MeasurementSource)

	if len(m.Layouts) == 0 {
		return nil, fmt.Errorf("message %q has no field layouts", name)
	}
	layout := m.Layouts[0]
	for _, l := range m.Layouts {
		if l.Version > layout.Version {
			layout = l
		}
	}

	def := &MessageDefinition{
		ID:                id,
		Name:              m.Name,
		Format:            format,
		MeasurementSource: source,
		Layout:            layout,
	}
	def.DefinitionCRC = computeDefinitionCRC(def)
	return def, nil
}

// Freeze marks the database immutable; Splice fails after this point.
// Callers are not required to call Freeze — a pipeline built over an
// unfrozen DB simply relies on the caller's discipline not to mutate it
// concurrently with decoding (spec.md §5).
func (db *MessageDB) Freeze() { db.frozen = true }

// GetByID resolves a message definition by numeric ID, disambiguating
// overloads by (format, measurementSource). If the ID is not overloaded
// (exactly one definition registered), that definition is returned
// regardless of the requested format/source, since most OEM messages
// carry identical content across every wire format they appear in.
func (db *MessageDB) GetByID(id uint16, format oem.WireFormat, source oem.MeasurementSource) (*MessageDefinition, bool) {
	return resolveOverload(db.byID[id], format, source)
}

// GetByName resolves a message definition by canonical name (case-insensitive).
func (db *MessageDB) GetByName(name string, format oem.WireFormat, source oem.MeasurementSource) (*MessageDefinition, bool) {
	return resolveOverload(db.byName[normalizeName(name)], format, source)
}

func resolveOverload(candidates []*MessageDefinition, format oem.WireFormat, source oem.MeasurementSource) (*MessageDefinition, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	for _, c := range candidates {
		if c.Format == format && c.MeasurementSource == source {
			return c, true
		}
	}
	return nil, false
}

// Enums exposes the parsed enumeration tables for use by the body decoder
// and encoder.
func (db *MessageDB) Enums() Enumerations { return db.enums }

// ResolveStruct returns the field layout of a nested struct definition
// referenced by a FieldDescriptor's StructRef.
func (db *MessageDB) ResolveStruct(name string) ([]FieldDescriptor, bool) {
	fields, ok := db.structs[name]
	return fields, ok
}

func normalizeName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
