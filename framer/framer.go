// Package framer implements the byte-level state machine spec.md §4.3
// describes: find synchronization sequences in an unsynchronized byte
// stream, delimit one candidate frame at a time, verify its checksum,
// and report interleaved bytes that belong to no recognized format.
//
// It is grounded on actisense/ngt1reader.go's explicit state-plus-cursor
// read loop (waitingStartOfMessage / readingMessageData /
// processingEscapeSequence), generalized from that single DLE/STX/ETX
// protocol to the family of OEM sync sequences, and re-expressed as a
// call-and-return Append/Next pair instead of a blocking read loop since
// spec.md §5 forbids the framer from blocking internally.
package framer

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/novatel-oem/oem-transcode/crc"
	"github.com/novatel-oem/oem-transcode/header"
	"github.com/novatel-oem/oem-transcode/oem"
)

// State names the framer's current scan phase, kept for introspection and
// logging; Next() always recomputes a decision from the whole buffer
// rather than resuming mid-phase, so State is descriptive, not control
// flow (spec.md §9's "explicit state-plus-cursor value updated in
// place" is realized here as "recompute from the buffer start", which is
// simpler and behaviorally identical since the buffer itself is the
// persisted state).
type State int

const (
	StateIdle State = iota
	StateHeader
	StateBody
	StateCRC
	StateComplete
)

// Kind discriminates a Next() result.
type Kind int

const (
	KindNeedMore Kind = iota
	KindFrame
	KindUnknownBytes
)

// Result is one decision returned by Next().
type Result struct {
	Kind         Kind
	Frame        []byte
	Format       oem.WireFormat
	UnknownBytes []byte
}

// Framer owns the growing input buffer and scans it for frames. It is not
// safe for concurrent use; spec.md §5 requires the pipeline façade to
// serialize Append/Next calls.
type Framer struct {
	buf   []byte
	state State
}

// New returns an idle Framer with an empty buffer.
func New() *Framer { return &Framer{state: StateIdle} }

// Append feeds more input bytes.
func (fr *Framer) Append(data []byte) {
	fr.buf = append(fr.buf, data...)
}

// State reports the framer's current descriptive phase.
func (fr *Framer) State() State { return fr.state }

// Flush drains the unconsumed buffer, returning its former contents, and
// resets the framer to IDLE.
func (fr *Framer) Flush() []byte {
	drained := fr.buf
	fr.buf = nil
	fr.state = StateIdle
	return drained
}

type syncKind int

const (
	syncBinaryLong syncKind = iota
	syncBinaryShort
	syncASCIILong
	syncASCIIShort
	syncAbbreviated
	syncNMEA
)

// Next delivers the next framing decision: a complete, checksum-verified
// frame; a run of bytes belonging to no recognized sync sequence; or
// NeedMore if the buffer doesn't yet hold enough to decide.
func (fr *Framer) Next() Result {
	if len(fr.buf) == 0 {
		fr.state = StateIdle
		return Result{Kind: KindNeedMore}
	}

	idx, kind, ambiguousAt, found := findSync(fr.buf)
	if !found {
		if ambiguousAt > 0 {
			unknown := fr.buf[:ambiguousAt]
			fr.buf = fr.buf[ambiguousAt:]
			fr.state = StateIdle
			return Result{Kind: KindUnknownBytes, UnknownBytes: unknown}
		}
		if ambiguousAt == 0 {
			// the whole buffer is a potential sync prefix; wait for more.
			fr.state = StateIdle
			return Result{Kind: KindNeedMore}
		}
		unknown := fr.buf
		fr.buf = nil
		fr.state = StateIdle
		return Result{Kind: KindUnknownBytes, UnknownBytes: unknown}
	}
	if idx > 0 {
		unknown := fr.buf[:idx]
		fr.buf = fr.buf[idx:]
		fr.state = StateIdle
		return Result{Kind: KindUnknownBytes, UnknownBytes: unknown}
	}

	fr.state = StateHeader
	frame, format, outcome := fr.parseFrame(kind)
	switch outcome {
	case outcomeNeedMore:
		fr.state = StateBody
		return Result{Kind: KindNeedMore}
	case outcomeBadSync:
		// Drop exactly the first byte as unknown and let the next Next()
		// call rescan from there; this is how a sync-like byte embedded in
		// unrelated data gets skipped without losing a real frame that
		// might start one byte later (spec.md §7's CRC-mismatch recovery).
		dropped := fr.buf[:1]
		fr.buf = fr.buf[1:]
		fr.state = StateIdle
		return Result{Kind: KindUnknownBytes, UnknownBytes: dropped}
	default:
		fr.buf = fr.buf[len(frame):]
		fr.state = StateComplete
		res := Result{Kind: KindFrame, Frame: frame, Format: format}
		fr.state = StateIdle
		return res
	}
}

type frameOutcome int

const (
	outcomeOK frameOutcome = iota
	outcomeNeedMore
	outcomeBadSync
)

func (fr *Framer) parseFrame(kind syncKind) ([]byte, oem.WireFormat, frameOutcome) {
	switch kind {
	case syncBinaryLong:
		return parseBinary(fr.buf, header.BinaryLongHeaderLength, oem.FormatBinary, true)
	case syncBinaryShort:
		return parseBinary(fr.buf, header.BinaryShortHeaderLength, oem.FormatShortBinary, false)
	case syncASCIILong:
		return parseASCII(fr.buf, oem.FormatASCII, true)
	case syncASCIIShort:
		return parseASCII(fr.buf, oem.FormatShortASCII, false)
	case syncNMEA:
		return parseNMEA(fr.buf)
	case syncAbbreviated:
		return parseAbbreviated(fr.buf)
	}
	return nil, oem.FormatUnknown, outcomeBadSync
}

func parseBinary(buf []byte, headerLen int, format oem.WireFormat, long bool) ([]byte, oem.WireFormat, frameOutcome) {
	if len(buf) < headerLen {
		return nil, format, outcomeNeedMore
	}
	var bodyLen uint32
	if long {
		_, _, bl, err := header.DecodeBinaryLong(buf)
		if err != nil {
			return nil, format, outcomeBadSync
		}
		bodyLen = bl
	} else {
		_, _, bl, err := header.DecodeBinaryShort(buf)
		if err != nil {
			return nil, format, outcomeBadSync
		}
		bodyLen = bl
	}
	total := headerLen + int(bodyLen) + 4
	if len(buf) < total {
		return nil, format, outcomeNeedMore
	}
	payload := buf[:headerLen+int(bodyLen)]
	want := binary.LittleEndian.Uint32(buf[headerLen+int(bodyLen) : total])
	if crc.Block(payload) != want {
		return nil, format, outcomeBadSync
	}
	return buf[:total], format, outcomeOK
}

func parseASCII(buf []byte, format oem.WireFormat, long bool) ([]byte, oem.WireFormat, frameOutcome) {
	if indexByte(buf[1:], ';') < 0 {
		// header delimiter hasn't arrived yet; this is not (yet) a verdict
		// on whether the sync byte was real.
		return nil, format, outcomeNeedMore
	}

	var headerLen int
	var err error
	if long {
		_, n, e := header.DecodeASCIILong(buf[1:])
		headerLen, err = 1+n, e
	} else {
		_, n, e := header.DecodeASCIIShort(buf[1:])
		headerLen, err = 1+n, e
	}
	if err != nil {
		return nil, format, outcomeBadSync
	}

	starIdx := indexByte(buf[headerLen:], '*')
	if starIdx < 0 {
		return nil, format, outcomeNeedMore
	}
	starIdx += headerLen

	total := starIdx + 1 + 8 + 2 // '*' + 8 hex CRC digits + "\r\n"
	if len(buf) < total {
		return nil, format, outcomeNeedMore
	}

	crcBytes, decErr := hex.DecodeString(string(buf[starIdx+1 : starIdx+9]))
	if decErr != nil || len(crcBytes) != 4 {
		return nil, format, outcomeBadSync
	}
	want := binary.BigEndian.Uint32(crcBytes)
	if crc.Block(buf[1:starIdx]) != want {
		return nil, format, outcomeBadSync
	}
	return buf[:total], format, outcomeOK
}

func parseNMEA(buf []byte) ([]byte, oem.WireFormat, frameOutcome) {
	starIdx := indexByte(buf[1:], '*')
	if starIdx < 0 {
		return nil, oem.FormatNMEA, outcomeNeedMore
	}
	starIdx += 1

	total := starIdx + 1 + 2 + 2 // '*' + 2 hex digits + "\r\n"
	if len(buf) < total {
		return nil, oem.FormatNMEA, outcomeNeedMore
	}

	crcBytes, decErr := hex.DecodeString(string(buf[starIdx+1 : starIdx+3]))
	if decErr != nil || len(crcBytes) != 1 {
		return nil, oem.FormatNMEA, outcomeBadSync
	}
	if crc.XOR(buf[1:starIdx]) != crcBytes[0] {
		return nil, oem.FormatNMEA, outcomeBadSync
	}
	return buf[:total], oem.FormatNMEA, outcomeOK
}

// parseAbbreviated consumes an abbreviated-ASCII frame, which carries no
// checksum and terminates only at the next recognized sync sequence. A
// trailing abbreviated frame with no following sync can only be completed
// by Flush(), not by Next(); callers that need the last abbreviated
// message before end-of-stream must call Flush and treat its drained
// bytes as one final frame.
func parseAbbreviated(buf []byte) ([]byte, oem.WireFormat, frameOutcome) {
	for i := 1; i < len(buf); i++ {
		if idx, _, _, found := findSync(buf[i:]); found && idx == 0 {
			return buf[:i], oem.FormatAbbreviatedASCII, outcomeOK
		}
	}
	return nil, oem.FormatAbbreviatedASCII, outcomeNeedMore
}

// findSync scans buf for the first recognized synchronization sequence.
//
// Return shape:
//   - found=true: idx is the offset of the match, kind identifies it.
//   - found=false, ambiguousAt>0: buf[:ambiguousAt] contains no sync and
//     can be safely treated as unknown bytes; buf[ambiguousAt:] might be
//     the start of a multi-byte sync sequence that hasn't fully arrived.
//   - found=false, ambiguousAt==0: the whole buffer might still become a
//     sync sequence; wait for more data before deciding anything.
//   - found=false, ambiguousAt<0: the whole buffer contains no sync and no
//     ambiguous tail; all of it is unknown.
func findSync(buf []byte) (idx int, kind syncKind, ambiguousAt int, found bool) {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case 0xAA:
			if i+3 > len(buf) {
				return 0, 0, i, false
			}
			if buf[i+1] == 0x44 && buf[i+2] == 0x12 {
				return i, syncBinaryLong, 0, true
			}
			if buf[i+1] == 0x44 && buf[i+2] == 0x13 {
				return i, syncBinaryShort, 0, true
			}
		case '#':
			return i, syncASCIILong, 0, true
		case '%':
			return i, syncASCIIShort, 0, true
		case '[', '<':
			return i, syncAbbreviated, 0, true
		case '$':
			return i, syncNMEA, 0, true
		}
	}
	return 0, 0, -1, false
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
