// Package trace drives the capture decode loop: it walks the record
// metadata stream and the record payload stream in lock step, applies
// filtering and protocol decoding, and yields one TraceRecord per
// surviving record.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"padtrace/internal/pcie"
	"padtrace/internal/record"
	"padtrace/pkg/types"
)

// RecordConsistencyError means a decoded record number did not match
// the expected running counter. The capture is corrupt or the decoder
// lost sync with the record stream; there is no reliable way to
// resynchronize this format, so decoding aborts.
type RecordConsistencyError struct {
	Expected uint32
	Got      uint32
}

func (e *RecordConsistencyError) Error() string {
	return fmt.Sprintf("record number mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Options controls per-record handling in the decode loop.
type Options struct {
	// FilterErrors drops records flagged with symbol or disparity
	// errors from the output. Their payload bytes are still consumed.
	FilterErrors bool
	// DecodeProtocol attempts DLLP/TLP decoding and drops records
	// whose payload is not a well-formed DLLP.
	DecodeProtocol bool
}

// Reader is the single owner of both capture cursors. The metadata
// stream and the payload stream must advance together: each record's
// payload is read in full even when the record is filtered out, since
// the next record's payload position is only defined by the cumulative
// data lengths consumed so far. Not safe for concurrent use.
type Reader struct {
	meta   io.Reader
	data   io.Reader
	layout record.Layout
	opts   Options

	next uint32
	last uint32
	done bool

	prevTS  uint64
	emitted bool

	counters Counters
}

// Counters are running totals of the decode loop's per-record
// dispositions.
type Counters struct {
	Read         uint64 // records decoded from the metadata stream
	Emitted      uint64 // records yielded to the caller
	Filtered     uint64 // records dropped for symbol/disparity errors
	NonDLLP      uint64 // records dropped because the payload is not a DLLP
	PayloadBytes uint64 // payload bytes consumed, filtered records included
}

// NewReader builds a Reader over the two capture cursors. meta must be
// positioned at the first record header and data at the first record's
// payload bytes; first and last are the header-declared record number
// bounds, inclusive.
func NewReader(meta, data io.Reader, layout record.Layout, first, last uint32, opts Options) *Reader {
	return &Reader{
		meta:   meta,
		data:   data,
		layout: layout,
		opts:   opts,
		next:   first,
		last:   last,
	}
}

// Next returns the next surviving record. It returns io.EOF after the
// last record number or the stream terminator, whichever comes first.
// Stream-level failures (truncation, record number mismatch) are
// returned as errors and end the run; once Next has returned any
// error it keeps returning io.EOF.
func (r *Reader) Next() (*types.TraceRecord, error) {
	for {
		if r.done || r.next > r.last {
			r.done = true
			return nil, io.EOF
		}

		desc, err := record.Decode(r.meta, r.layout)
		if err != nil {
			r.done = true
			return nil, fmt.Errorf("record %d: %w", r.next, err)
		}
		if desc.IsTerminator() {
			log.WithField("record", r.next).Debug("Terminator record, stopping")
			r.done = true
			return nil, io.EOF
		}
		if desc.Number != r.next {
			r.done = true
			return nil, &RecordConsistencyError{Expected: r.next, Got: desc.Number}
		}
		r.next++
		r.counters.Read++

		payload, err := r.readPayload(desc)
		if err != nil {
			r.done = true
			return nil, err
		}
		r.counters.PayloadBytes += uint64(len(payload))

		valid := payload
		if off := desc.ValidOffset(); off > 0 && int(off) < len(payload) {
			valid = payload[:off]
		}

		if r.opts.FilterErrors && (desc.HasSymbolError() || desc.HasDisparityError()) {
			log.WithFields(log.Fields{
				"record": desc.Number,
				"flags":  fmt.Sprintf("0x%08x", desc.Flags),
			}).Debug("Filtered record with link errors")
			r.counters.Filtered++
			continue
		}

		var dllp *pcie.DLLP
		if r.opts.DecodeProtocol {
			dllp, err = pcie.ParseDLLP(valid)
			if err != nil {
				if !errors.Is(err, pcie.ErrNotDLLP) {
					log.WithFields(log.Fields{
						"record": desc.Number,
						"error":  err,
					}).Debug("Skipping record with malformed DLLP")
				}
				r.counters.NonDLLP++
				continue
			}
		}

		rec := &types.TraceRecord{
			Desc:    *desc,
			Payload: payload,
			Valid:   valid,
			DLLP:    dllp,
		}
		if r.emitted && desc.TimestampNS > r.prevTS {
			rec.DeltaNS = desc.TimestampNS - r.prevTS
		}
		r.prevTS = desc.TimestampNS
		r.emitted = true
		r.counters.Emitted++
		return rec, nil
	}
}

// Counters returns the decode loop's running totals.
func (r *Reader) Counters() Counters {
	return r.counters
}

// readPayload consumes exactly data_length bytes from the payload
// cursor. This happens for every record, surviving or not, to keep the
// two streams aligned.
func (r *Reader) readPayload(desc *record.Descriptor) ([]byte, error) {
	payload := make([]byte, desc.DataLength)
	if _, err := io.ReadFull(r.data, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("record %d payload: %w", desc.Number, record.ErrTruncatedStream)
		}
		return nil, fmt.Errorf("record %d payload: %w", desc.Number, err)
	}
	return payload, nil
}

// Run drains the reader, passing each surviving record to emit.
// Cancellation is checked between records; the current record is
// always either fully decoded or not emitted at all.
func (r *Reader) Run(ctx context.Context, emit func(*types.TraceRecord) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}
