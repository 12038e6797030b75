// Package filter implements the message inclusion/exclusion predicate
// pipeline that gates what the pipeline façade hands back from Read().
// Every predicate's matching semantics, including the deliberately
// asymmetric FormatAll matching of FilterMessageId/FilterMessage, is
// ported line-for-line from original_source's filter.cpp — this is the
// one part of the transcode pipeline this module treats as a literal
// port rather than an idiomatic rewrite, since the exact boolean algebra
// of included/excluded messages is externally observable behavior users
// may already depend on.
package filter

import "github.com/novatel-oem/oem-transcode/oem"

// FormatAll is a sentinel WireFormat value used only inside message-id and
// message-name filter triples. It never appears in oem.Metadata.Format,
// which the header decoder only ever sets to a concrete wire format.
const FormatAll = oem.WireFormat(0xFF)

// tag identifies a predicate already registered, so PushUnique can
// deduplicate registrations the way filter.cpp's vMyFilterFunctions does
// by comparing member-function pointers.
type tag int

const (
	tagTime tag = iota
	tagTimeStatus
	tagMessageID
	tagMessageName
	tagDecimation
)

type predicate struct {
	tag tag
	fn  func(oem.Metadata) bool
}

type messageIDFilter struct {
	id     uint32
	format oem.WireFormat
	source oem.MeasurementSource
}

type messageNameFilter struct {
	name   string
	format oem.WireFormat
	source oem.MeasurementSource
}

// Filter evaluates, in registration order, every predicate an operator has
// turned on for a candidate message's metadata. It is a plain struct with
// no internal concurrency; a pipeline owns at most one Filter and calls
// DoFiltering synchronously from Read().
type Filter struct {
	predicates []predicate

	timeStatusFilters []oem.TimeStatus
	invertTimeStatus  bool

	messageIDFilters []messageIDFilter
	invertMessageID  bool

	messageNameFilters []messageNameFilter
	invertMessageName  bool

	lowerWeek, lowerMSec uint32
	filterLowerTime      bool
	upperWeek, upperMSec uint32
	filterUpperTime      bool
	invertTime           bool

	decimationPeriodMS uint32
	decimate           bool
	invertDecimation   bool

	includeNMEA bool
}

// New returns a Filter with every predicate disabled — equivalent to
// filter.cpp's constructor, which calls ClearFilters().
func New() *Filter {
	f := &Filter{}
	f.ClearFilters()
	return f
}

func (f *Filter) pushUnique(t tag, fn func(oem.Metadata) bool) {
	for _, p := range f.predicates {
		if p.tag == t {
			return
		}
	}
	f.predicates = append(f.predicates, predicate{tag: t, fn: fn})
}

// SetIncludeLowerTimeBound sets the inclusive lower GPS-time bound, as a
// GPS week number and seconds-of-week.
func (f *Filter) SetIncludeLowerTimeBound(week uint32, seconds float64) {
	f.filterLowerTime = true
	f.lowerWeek = week
	f.lowerMSec = uint32(seconds * 1000.0)
	f.pushUnique(tagTime, f.filterTime)
}

// SetIncludeUpperTimeBound sets the inclusive upper GPS-time bound.
func (f *Filter) SetIncludeUpperTimeBound(week uint32, seconds float64) {
	f.filterUpperTime = true
	f.upperWeek = week
	f.upperMSec = uint32(seconds * 1000.0)
	f.pushUnique(tagTime, f.filterTime)
}

// InvertTimeFilter flips the time-bound predicate's included/excluded sense.
func (f *Filter) InvertTimeFilter(invert bool) { f.invertTime = invert }

// SetIncludeDecimation enables a decimation filter: only messages whose
// GPS millisecond-of-week is an exact multiple of periodSeconds pass.
func (f *Filter) SetIncludeDecimation(periodSeconds float64) {
	f.decimate = true
	f.decimationPeriodMS = uint32(periodSeconds * 1000.0)
	f.pushUnique(tagDecimation, f.filterDecimation)
}

// InvertDecimationFilter flips the decimation predicate's sense.
func (f *Filter) InvertDecimationFilter(invert bool) { f.invertDecimation = invert }

// IncludeTimeStatus adds one or more time-status values to the allow-list.
func (f *Filter) IncludeTimeStatus(statuses ...oem.TimeStatus) {
	f.timeStatusFilters = append(f.timeStatusFilters, statuses...)
	f.pushUnique(tagTimeStatus, f.filterTimeStatus)
}

// InvertTimeStatusFilter flips the time-status predicate's sense.
func (f *Filter) InvertTimeStatusFilter(invert bool) { f.invertTimeStatus = invert }

// IncludeMessageId adds one message-ID triple to the allow-list. format may
// be FormatAll to match the id+source pair across every wire format.
func (f *Filter) IncludeMessageId(id uint32, format oem.WireFormat, source oem.MeasurementSource) {
	f.messageIDFilters = append(f.messageIDFilters, messageIDFilter{id, format, source})
	f.pushUnique(tagMessageID, f.filterMessageID)
}

// InvertMessageIdFilter flips the message-ID predicate's sense.
func (f *Filter) InvertMessageIdFilter(invert bool) { f.invertMessageID = invert }

// IncludeMessageName adds one message-name triple to the allow-list.
func (f *Filter) IncludeMessageName(name string, format oem.WireFormat, source oem.MeasurementSource) {
	f.messageNameFilters = append(f.messageNameFilters, messageNameFilter{name, format, source})
	f.pushUnique(tagMessageName, f.filterMessage)
}

// InvertMessageNameFilter flips the message-name predicate's sense.
func (f *Filter) InvertMessageNameFilter(invert bool) { f.invertMessageName = invert }

// IncludeNMEAMessages gates whether NMEA-format frames pass DoFiltering at
// all; they never run through the registered predicates, only this switch.
func (f *Filter) IncludeNMEAMessages(include bool) { f.includeNMEA = include }

// ClearFilters resets every predicate and allow-list to its zero state.
func (f *Filter) ClearFilters() {
	f.timeStatusFilters = nil
	f.invertTimeStatus = false

	f.messageIDFilters = nil
	f.invertMessageID = false

	f.messageNameFilters = nil
	f.invertMessageName = false

	f.lowerWeek, f.lowerMSec = 0, 0
	f.upperWeek, f.upperMSec = 0, 0
	f.filterLowerTime, f.filterUpperTime, f.invertTime = false, false, false

	f.decimationPeriodMS = 0
	f.decimate, f.invertDecimation = false, false

	f.includeNMEA = false
	f.predicates = nil
}

func (f *Filter) filterTime(md oem.Metadata) bool {
	week := uint32(md.GPSWeek)
	ms := uint32(md.TimeMillis)

	if f.invertTime {
		aboveLower := week > f.lowerWeek || (week == f.lowerWeek && ms >= f.lowerMSec)
		belowUpper := week < f.upperWeek || (week == f.upperWeek && ms <= f.upperMSec)

		if f.filterLowerTime && f.filterUpperTime {
			return !(aboveLower && belowUpper)
		}
		return !((aboveLower && f.filterLowerTime) || (belowUpper && f.filterUpperTime))
	}

	belowLower := week < f.lowerWeek || (week == f.lowerWeek && ms < f.lowerMSec)
	aboveUpper := week > f.upperWeek || (week == f.upperWeek && ms > f.upperMSec)
	return !((f.filterLowerTime && belowLower) || (f.filterUpperTime && aboveUpper))
}

func (f *Filter) filterTimeStatus(md oem.Metadata) bool {
	if len(f.timeStatusFilters) == 0 {
		return true
	}
	found := false
	for _, s := range f.timeStatusFilters {
		if s == md.TimeStatus {
			found = true
			break
		}
	}
	return found != f.invertTimeStatus
}

func (f *Filter) filterMessageID(md oem.Metadata) bool {
	if len(f.messageIDFilters) == 0 {
		return true
	}
	id := uint32(md.MessageID)
	matched := false
	for _, e := range f.messageIDFilters {
		if id == e.id && e.format == FormatAll && e.source == md.MeasurementSource {
			matched = true
			break
		}
	}
	if !matched {
		for _, e := range f.messageIDFilters {
			if id == e.id && e.format == md.Format && e.source == md.MeasurementSource {
				matched = true
				break
			}
		}
	}
	return matched != f.invertMessageID
}

func (f *Filter) filterMessage(md oem.Metadata) bool {
	if len(f.messageNameFilters) == 0 {
		return true
	}
	matched := false
	for _, e := range f.messageNameFilters {
		if md.MessageName == e.name && e.format == FormatAll && e.source == md.MeasurementSource {
			matched = true
			break
		}
	}
	if !matched {
		for _, e := range f.messageNameFilters {
			if md.MessageName == e.name && e.format == md.Format && e.source == md.MeasurementSource {
				matched = true
				break
			}
		}
	}
	return matched != f.invertMessageName
}

func (f *Filter) filterDecimation(md oem.Metadata) bool {
	if !f.decimate {
		return true
	}
	remainderNonzero := uint32(md.TimeMillis)%f.decimationPeriodMS != 0
	return f.invertDecimation == remainderNonzero
}

// DoFiltering reports whether a candidate message should be surfaced by
// Read(). UNKNOWN-format frames are always rejected. NMEA-format frames
// are gated solely by IncludeNMEAMessages and never run through the
// registered predicates. Every other frame runs each registered predicate
// in turn, short-circuiting on the first rejection.
func (f *Filter) DoFiltering(md oem.Metadata) bool {
	if md.Format == oem.FormatUnknown {
		return false
	}
	if md.Format == oem.FormatNMEA {
		return f.includeNMEA
	}
	for _, p := range f.predicates {
		if !p.fn(md) {
			return false
		}
	}
	return true
}
