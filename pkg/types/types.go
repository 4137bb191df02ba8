package types

import (
	"padtrace/internal/pcie"
	"padtrace/internal/record"
)

// TraceRecord is one decoded capture record as emitted by the trace
// reader, carrying everything a renderer or exporter needs. Rendering
// itself lives elsewhere.
type TraceRecord struct {
	Desc    record.Descriptor
	Payload []byte     // all data_length payload bytes
	Valid   []byte     // valid prefix of Payload per the metadata offset
	DLLP    *pcie.DLLP // set when protocol decoding was requested and succeeded
	DeltaNS uint64     // nanoseconds since the previously emitted record
}

// TimestampParts splits the capture timestamp into whole seconds and
// the nanosecond remainder.
func (t *TraceRecord) TimestampParts() (secs, nanos uint64) {
	return t.Desc.TimestampNS / 1_000_000_000, t.Desc.TimestampNS % 1_000_000_000
}

// Upstream reports the capture direction.
func (t *TraceRecord) Upstream() bool {
	return t.Desc.Upstream()
}
