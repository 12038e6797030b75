package test_test

import (
	"testing"

	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/stretchr/testify/assert"
)

// AssertMetadata compares two decoded message headers for equality.
func AssertMetadata(t *testing.T, expect oem.Metadata, actual oem.Metadata) {
	assert.Equal(t, expect, actual)
}

// AssertFieldValues compares two decoded field trees, treating floating
// point leaves as equal within delta instead of requiring bit-exact
// reproduction of a scaled or compressed value.
func AssertFieldValues(t *testing.T, expect oem.FieldValues, actual oem.FieldValues, delta float64) {
	assert.Len(t, actual, len(expect))

	for _, actualFieldValue := range actual {
		expectedFieldValue, ok := expect.FindByID(actualFieldValue.ID)
		if !ok {
			t.Errorf("actual fields contains field with ID `%v` that is not in expected fields", actualFieldValue.ID)
			continue
		}
		AssertFieldValue(t, expectedFieldValue, actualFieldValue, delta)
	}
}

// AssertFieldValue compares a single field, recursing into nested struct
// trees and array elements the way the decoders produce them.
func AssertFieldValue(t *testing.T, expect oem.FieldValue, actual oem.FieldValue, delta float64) {
	switch actualValue := actual.Value.(type) {
	case float64:
		assert.InDelta(
			t,
			expect.Value,
			actual.Value,
			delta,
			"Field ID: `%v` value %v is different from expected %v",
			expect.ID,
			actual.Value,
			expect.Value,
		)
		return
	case oem.FieldValues:
		expectChildren, ok := expect.Value.(oem.FieldValues)
		if !ok {
			t.Errorf("Field ID: `%v` expected value is not a field tree", expect.ID)
			return
		}
		AssertFieldValues(t, expectChildren, actualValue, delta)
		return
	case []interface{}:
		expectElems, ok := expect.Value.([]interface{})
		if !ok {
			t.Errorf("Field ID: `%v` expected value is not an array", expect.ID)
			return
		}
		assert.Len(t, actualValue, len(expectElems))
		for i := range actualValue {
			if i >= len(expectElems) {
				break
			}
			assertArrayElement(t, expect.ID, expectElems[i], actualValue[i], delta)
		}
		return
	}
	assert.Equal(t, expect, actual)
}

func assertArrayElement(t *testing.T, id string, expect, actual interface{}, delta float64) {
	switch av := actual.(type) {
	case oem.FieldValues:
		ev, ok := expect.(oem.FieldValues)
		if !ok {
			t.Errorf("Field ID: `%v` array element expected a field tree", id)
			return
		}
		AssertFieldValues(t, ev, av, delta)
	case float64:
		assert.InDelta(t, expect, actual, delta, "Field ID: `%v` array element value %v is different from expected %v", id, actual, expect)
	default:
		assert.Equal(t, expect, actual)
	}
}
