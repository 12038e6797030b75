package body

import (
	"errors"
	"fmt"

	"github.com/novatel-oem/oem-transcode/oem"
)

// ErrDecompressionFailed is returned when RANGECMP decompression cannot
// produce a valid RANGE field tree: an unresolvable channel array, a
// compressed field with no known scale factor, or a non-numeric value
// where a compressed measurement was expected.
var ErrDecompressionFailed = errors.New("rangecmp decompression failed")

// rangeCmpScaleFactors gives the NovAtel RANGECMP scale factor applied to
// each compressed field before it appears in the decompressed RANGE tree.
// The message database names every compressed field "<range_field>
// _compressed"; decompression strips the suffix and multiplies by the
// matching factor here.
var rangeCmpScaleFactors = map[string]float64{
	"pseudorange":          0.02,        // metres per LSB
	"pseudorange_stddev":   0.01,        // metres per LSB
	"carrier_phase":        1.0 / 256.0, // cycles per LSB
	"carrier_phase_stddev": 1.0 / 512.0, // cycles per LSB
	"doppler_frequency":    1.0 / 256.0, // Hz per LSB
	"locktime":             0.01,        // seconds per LSB, saturating
}

// DecompressRangeCmp rewrites a decoded RANGECMP field tree into its
// RANGE-equivalent tree. channelsField names the repeated-channel array
// field (e.g. "channels"); inside each channel struct, every
// "<name>_compressed" leaf becomes "<name>" scaled by
// rangeCmpScaleFactors[name], and every other leaf (tracking status,
// satellite PRN, GLONASS frequency slot, reject code) passes through
// unchanged. The top-level MessageName rewrite from "RANGECMP*" to
// "RANGE" is the caller's responsibility (spec.md §8 scenario 6: the
// metadata's message id is left pointing at the original RANGECMP
// definition).
func DecompressRangeCmp(fields oem.FieldValues, channelsField string) (oem.FieldValues, error) {
	out := make(oem.FieldValues, 0, len(fields))
	for _, f := range fields {
		if f.ID != channelsField {
			out = append(out, f)
			continue
		}
		channels, ok := f.Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not a channel array", ErrDecompressionFailed, f.ID)
		}
		decoded := make([]interface{}, 0, len(channels))
		for _, c := range channels {
			children, ok := c.(oem.FieldValues)
			if !ok {
				return nil, fmt.Errorf("%w: channel entry is not a field tree", ErrDecompressionFailed)
			}
			dc, err := decompressChannel(children)
			if err != nil {
				return nil, err
			}
			decoded = append(decoded, dc)
		}
		out = append(out, oem.FieldValue{ID: f.ID, Type: f.Type, Value: decoded})
	}
	return out, nil
}

func decompressChannel(fields oem.FieldValues) (oem.FieldValues, error) {
	out := make(oem.FieldValues, 0, len(fields))
	for _, f := range fields {
		name, compressed := splitCompressedSuffix(f.ID)
		if !compressed {
			out = append(out, f)
			continue
		}
		scale, ok := rangeCmpScaleFactors[name]
		if !ok {
			return nil, fmt.Errorf("%w: no scale factor registered for compressed field %q", ErrDecompressionFailed, f.ID)
		}
		raw, ok := f.AsFloat64()
		if !ok {
			return nil, fmt.Errorf("%w: compressed field %q is not numeric", ErrDecompressionFailed, f.ID)
		}
		out = append(out, oem.FieldValue{ID: name, Type: "DOUBLE", Value: raw * scale})
	}
	return out, nil
}

func splitCompressedSuffix(id string) (string, bool) {
	const suffix = "_compressed"
	if len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix {
		return id[:len(id)-len(suffix)], true
	}
	return id, false
}
