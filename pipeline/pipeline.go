// Package pipeline is the streaming transcode façade: feed it raw bytes,
// pull framed, decoded, filtered and re-encoded messages back out one at a
// time. It is grounded on original_source/src/decoders/novatel/api/
// fileparser.hpp's FileParser API shape (SetEncodeFormat/SetFilter/
// SetIgnoreAbbreviatedAsciiResponses/SetDecompressRangeCmp/
// SetReturnUnknownBytes/Read/Flush), translated from FileParser's
// constructor-and-setter configuration style into Go functional options
// passed to New, and from its InputFileStream-backed pull loop into a
// push/pull pair (Write/Read) driven by framer.Framer instead of blocking
// file reads.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/novatel-oem/oem-transcode/body"
	"github.com/novatel-oem/oem-transcode/encode"
	"github.com/novatel-oem/oem-transcode/filter"
	"github.com/novatel-oem/oem-transcode/framer"
	"github.com/novatel-oem/oem-transcode/header"
	"github.com/novatel-oem/oem-transcode/oem"
	"github.com/novatel-oem/oem-transcode/schema"
)

// TargetFormat is the re-encode target a Pipeline produces, spec.md §6's
// {ASCII, BINARY, FLATTENED_BINARY, JSON, UNSPECIFIED} enumeration. It is
// deliberately distinct from oem.WireFormat: FLATTENED_BINARY has no
// framing-format analog (it is an encoding discipline over the binary
// target, not a sync-sequence family), and UNSPECIFIED exists only to be
// rejected at construction time.
type TargetFormat uint8

const (
	TargetUnspecified TargetFormat = iota
	TargetASCII
	TargetBinary
	TargetFlattenedBinary
	TargetJSON
)

// ErrEncodeFormatUnspecified is returned by New when no usable target
// format was configured, per spec.md §6: "UNSPECIFIED is rejected at
// configuration time."
var ErrEncodeFormatUnspecified = errors.New("pipeline: encode format must be set to a concrete target")

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithFilter installs a message inclusion/exclusion filter. Without one, a
// Pipeline still applies filter's built-in defaults (unknown-format always
// dropped, NMEA dropped unless opted in) via an internally owned, otherwise
// unconfigured *filter.Filter.
func WithFilter(f *filter.Filter) Option {
	return func(p *Pipeline) { p.filter = f }
}

// WithIgnoreAbbreviatedASCIIResponses sets whether abbreviated-ASCII
// command-reply frames (Metadata.Response == true) are silently dropped
// before filtering. Default true.
func WithIgnoreAbbreviatedASCIIResponses(ignore bool) Option {
	return func(p *Pipeline) { p.ignoreAbbreviatedASCIIResponses = ignore }
}

// WithDecompressRangeCmp enables rewriting RANGECMP* messages to their
// RANGE equivalent before encoding. Default false.
func WithDecompressRangeCmp(decompress bool) Option {
	return func(p *Pipeline) { p.decompressRangeCmp = decompress }
}

// WithReturnUnknownBytes sets whether unrecognized byte runs surface as a
// StatusUnknown Read result (true) or are silently discarded (false, the
// default).
func WithReturnUnknownBytes(returnThem bool) Option {
	return func(p *Pipeline) { p.returnUnknownBytes = returnThem }
}

// WithRangeCmpChannelsField overrides the repeated-channel array field
// name RANGECMP decompression looks for (default "channels"); only
// relevant together with WithDecompressRangeCmp.
func WithRangeCmpChannelsField(name string) Option {
	return func(p *Pipeline) { p.rangeCmpChannelsField = name }
}

// Pipeline owns the incoming byte buffer (via its Framer), the message
// database reference, an optional filter, and the re-encode configuration.
// It is single-threaded cooperative: Write and Read must not be called
// concurrently on the same instance (spec.md §5). Multiple Pipelines may
// share one *schema.MessageDB safely once it is no longer being spliced.
type Pipeline struct {
	db     *schema.MessageDB
	fr     *framer.Framer
	filter *filter.Filter

	target                          TargetFormat
	ignoreAbbreviatedASCIIResponses bool
	decompressRangeCmp              bool
	returnUnknownBytes              bool
	rangeCmpChannelsField           string
}

// New builds a Pipeline over db, re-encoding every surfaced message into
// target. An unspecified target is rejected immediately, matching
// spec.md §6.
func New(db *schema.MessageDB, target TargetFormat, opts ...Option) (*Pipeline, error) {
	if target == TargetUnspecified {
		return nil, ErrEncodeFormatUnspecified
	}
	p := &Pipeline{
		db:                              db,
		fr:                              framer.New(),
		filter:                          filter.New(),
		target:                          target,
		ignoreAbbreviatedASCIIResponses: true,
		rangeCmpChannelsField:           "channels",
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Write appends bytes to the pipeline's incoming buffer.
func (p *Pipeline) Write(data []byte) { p.fr.Append(data) }

// Flush drains the pipeline's unconsumed incoming bytes and resets the
// framer to IDLE, per spec.md §4.8.
func (p *Pipeline) Flush() []byte { return p.fr.Flush() }

// Read drives one decode/filter/encode cycle, looping internally past
// messages that are silently dropped (ignored abbreviated-ASCII responses,
// filtered-out messages, discarded unknown-byte runs) until it has a
// result to report. On StatusSuccess, msg points at the façade's freshly
// encoded output, valid until the next Read call.
func (p *Pipeline) Read(msg *oem.MessageData, md *oem.Metadata) oem.Status {
	for {
		res := p.fr.Next()
		switch res.Kind {
		case framer.KindNeedMore:
			return oem.StatusBufferEmpty

		case framer.KindUnknownBytes:
			if p.returnUnknownBytes {
				msg.Reset(res.UnknownBytes, 0, len(res.UnknownBytes), 0)
				*md = oem.Metadata{Format: oem.FormatUnknown}
				return oem.StatusUnknown
			}

		case framer.KindFrame:
			status, skip := p.process(res, msg, md)
			if !skip {
				return status
			}
		}
	}
}

func (p *Pipeline) process(res framer.Result, msg *oem.MessageData, md *oem.Metadata) (oem.Status, bool) {
	meta, bodyBytes, asciiBody, err := p.decodeHeader(res)
	if err != nil {
		*md = meta
		return oem.StatusMalformedInput, false
	}

	if meta.Format == oem.FormatAbbreviatedASCII && p.ignoreAbbreviatedASCIIResponses && meta.Response {
		return oem.StatusSuccess, true
	}

	def, ok := p.resolveDefinition(&meta)
	if !ok {
		// Per spec.md §4.2/§7, a missing definition still reports the
		// metadata the framer/header decoder already recovered (message
		// id, length, format, ...) rather than losing that outcome.
		*md = meta
		return oem.StatusNoDefinition, false
	}
	meta.DefinitionCRC = def.DefinitionCRC

	var fields oem.FieldValues
	if bodyBytes != nil {
		fields, err = body.DecodeBinary(def.Layout.Fields, bodyBytes, p.db.Enums(), p.db)
	} else {
		fields, err = body.DecodeASCII(def.Layout.Fields, asciiBody, p.db.Enums(), p.db)
	}
	if err != nil {
		*md = meta
		return oem.StatusMalformedInput, false
	}

	outLayout := def.Layout.Fields
	if p.decompressRangeCmp && isRangeCmpName(meta.MessageName) {
		fields, err = body.DecompressRangeCmp(fields, p.rangeCmpChannelsField)
		if err != nil {
			*md = meta
			return oem.StatusDecompressionFailure, false
		}
		rangeDef, ok := p.db.GetByName("RANGE", meta.Format, meta.MeasurementSource)
		if !ok {
			*md = meta
			return oem.StatusNoDefinition, false
		}
		outLayout = rangeDef.Layout.Fields
		meta.MessageName = "RANGE"
		// meta.MessageID and DefinitionCRC are deliberately left pointing at
		// the original RANGECMP definition, per spec.md §8 scenario 6.
	}

	if !p.filter.DoFiltering(meta) {
		return oem.StatusSuccess, true
	}

	out, err := p.encodeOutput(meta, fields, outLayout)
	if err != nil {
		*md = meta
		return oem.StatusMalformedInput, false
	}

	headerLen, crcLen := 0, 0
	switch p.target {
	case TargetBinary, TargetFlattenedBinary:
		headerLen, crcLen = header.BinaryLongHeaderLength, 4
	case TargetASCII:
		headerLen = indexByte(out, ';') + 1
		crcLen = len(out) - indexByte(out, '*')
	}
	msg.Reset(out, headerLen, len(out)-headerLen-crcLen, crcLen)
	*md = meta
	return oem.StatusSuccess, false
}

// isRangeCmpName reports whether a decoded message name is one of the
// RANGECMP family (RANGECMP, RANGECMP2, RANGECMP4, ...).
func isRangeCmpName(name string) bool {
	const prefix = "RANGECMP"
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}

func (p *Pipeline) resolveDefinition(meta *oem.Metadata) (*schema.MessageDefinition, bool) {
	switch meta.Format {
	case oem.FormatBinary, oem.FormatShortBinary:
		def, ok := p.db.GetByID(meta.MessageID, meta.Format, meta.MeasurementSource)
		if !ok {
			return nil, false
		}
		meta.MessageName = def.Name
		return def, true
	default:
		def, ok := p.db.GetByName(meta.MessageName, meta.Format, meta.MeasurementSource)
		if !ok {
			return nil, false
		}
		meta.MessageID = def.ID
		return def, true
	}
}

// decodeHeader dispatches to the per-format header decoder and returns
// either the binary body slice or the ASCII-style comma-delimited body
// string, whichever applies to the frame's format.
func (p *Pipeline) decodeHeader(res framer.Result) (oem.Metadata, []byte, string, error) {
	frame := res.Frame
	switch res.Format {
	case oem.FormatBinary:
		md, headerLen, bodyLen, err := header.DecodeBinaryLong(frame)
		if err != nil {
			return md, nil, "", err
		}
		md.MessageLength = uint32(len(frame))
		return md, frame[headerLen : headerLen+int(bodyLen)], "", nil

	case oem.FormatShortBinary:
		md, headerLen, bodyLen, err := header.DecodeBinaryShort(frame)
		if err != nil {
			return md, nil, "", err
		}
		md.MessageLength = uint32(len(frame))
		return md, frame[headerLen : headerLen+int(bodyLen)], "", nil

	case oem.FormatASCII:
		md, n, err := header.DecodeASCIILong(frame[1:])
		if err != nil {
			return md, nil, "", err
		}
		md.MessageLength = uint32(len(frame))
		headerLen := 1 + n
		starIdx := indexByte(frame, '*')
		if starIdx < 0 {
			return md, nil, "", fmt.Errorf("%w: ASCII frame missing checksum delimiter", header.ErrMalformedInput)
		}
		return md, nil, string(frame[headerLen:starIdx]), nil

	case oem.FormatShortASCII:
		md, n, err := header.DecodeASCIIShort(frame[1:])
		if err != nil {
			return md, nil, "", err
		}
		md.MessageLength = uint32(len(frame))
		headerLen := 1 + n
		starIdx := indexByte(frame, '*')
		if starIdx < 0 {
			return md, nil, "", fmt.Errorf("%w: short-ASCII frame missing checksum delimiter", header.ErrMalformedInput)
		}
		return md, nil, string(frame[headerLen:starIdx]), nil

	case oem.FormatAbbreviatedASCII:
		md, n, err := header.DecodeAbbreviatedASCII(frame[1:])
		if err != nil {
			return md, nil, "", err
		}
		md.MessageLength = uint32(len(frame))
		headerLen := 1 + n
		return md, nil, normalizeAbbreviatedBody(frame[headerLen:]), nil

	case oem.FormatNMEA:
		md, n, err := header.DecodeNMEA(frame[1:])
		if err != nil {
			return md, nil, "", err
		}
		md.MessageLength = uint32(len(frame))
		headerLen := 1 + n + 1 // '$' + tag, plus the comma DecodeNMEA leaves unconsumed
		starIdx := indexByte(frame, '*')
		if starIdx < 0 {
			return md, nil, "", fmt.Errorf("%w: NMEA frame missing checksum delimiter", header.ErrMalformedInput)
		}
		return md, nil, string(frame[headerLen:starIdx]), nil

	default:
		return oem.Metadata{}, nil, "", fmt.Errorf("%w: frame has no recognized format", header.ErrMalformedInput)
	}
}

// normalizeAbbreviatedBody turns an abbreviated-ASCII frame's
// whitespace-delimited body tokens into the comma-delimited shape
// body.DecodeASCII expects, trimming the trailing CRLF the framer left
// attached and collapsing runs of whitespace into single separators.
func normalizeAbbreviatedBody(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	var out []byte
	inToken := false
	for _, c := range b {
		if c == ' ' || c == '\t' {
			if inToken {
				out = append(out, ',')
				inToken = false
			}
			continue
		}
		out = append(out, c)
		inToken = true
	}
	return string(out)
}

func (p *Pipeline) encodeOutput(md oem.Metadata, fields oem.FieldValues, layout []schema.FieldDescriptor) ([]byte, error) {
	switch p.target {
	case TargetASCII:
		return encode.EncodeASCII(md, fields, layout, p.db)
	case TargetBinary:
		return encode.EncodeBinary(md, fields, layout, p.db)
	case TargetFlattenedBinary:
		return encode.EncodeFlattenedBinary(md, fields, layout, p.db)
	case TargetJSON:
		return encode.EncodeJSON(md, fields)
	default:
		return nil, ErrEncodeFormatUnspecified
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
