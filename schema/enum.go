package schema

import "errors"

// ErrUnknownEnumType is returned when a field references an enum name not
// present in the database.
var ErrUnknownEnumType = errors.New("unknown enum type")

// ErrUnknownEnumValue is returned when a decoded numeric value has no
// matching entry in its enum's value table.
var ErrUnknownEnumValue = errors.New("unknown enum value")

// EnumEntry is one named value of an enumeration.
type EnumEntry struct {
	Value uint32 `json:"value"`
	Code  string `json:"code"`
}

// EnumDef is one enumeration table, keyed by Name and referenced from a
// FieldDescriptor's EnumRef. This mirrors canboat/enum.go's Enum/EnumValue
// shape (numeric value <-> symbolic code lookup table), generalized from
// canboat's three distinct enum flavors (plain, bit, indirect) down to the
// single flavor the OEM database uses: a direct value table per field.
type EnumDef struct {
	Name    string      `json:"name"`
	Entries []EnumEntry `json:"entries"`
}

// Enumerations is the full set of enum tables loaded into a MessageDB.
type Enumerations []EnumDef

// Find returns the enum table with the given name.
func (e Enumerations) Find(name string) (EnumDef, bool) {
	for _, def := range e {
		if def.Name == name {
			return def, true
		}
	}
	return EnumDef{}, false
}

// Resolve looks up the symbolic code for a numeric value within the named
// enum. It returns ErrUnknownEnumType if the enum itself isn't registered,
// and ErrUnknownEnumValue if the numeric value has no entry.
func (e Enumerations) Resolve(enumName string, value uint32) (string, error) {
	def, ok := e.Find(enumName)
	if !ok {
		return "", ErrUnknownEnumType
	}
	for _, entry := range def.Entries {
		if entry.Value == value {
			return entry.Code, nil
		}
	}
	return "", ErrUnknownEnumValue
}
