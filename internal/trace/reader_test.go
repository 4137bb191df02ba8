package trace

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padtrace/internal/pcie"
	"padtrace/internal/record"
	"padtrace/pkg/types"
)

// header builds one current-layout record header.
func header(number, dataLen uint32, timestampNS uint64, metadataInfo uint16, flags uint32) []byte {
	buf := make([]byte, 0, record.HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, number)
	buf = binary.LittleEndian.AppendUint32(buf, dataLen)
	buf = binary.LittleEndian.AppendUint32(buf, 0) // count hi
	buf = binary.LittleEndian.AppendUint32(buf, 1) // count lo
	buf = binary.LittleEndian.AppendUint32(buf, uint32(timestampNS>>32))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(timestampNS))
	buf = binary.LittleEndian.AppendUint16(buf, 0) // lfsr
	buf = binary.LittleEndian.AppendUint16(buf, metadataInfo)
	buf = binary.LittleEndian.AppendUint32(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, 0) // data offset hi
	buf = binary.LittleEndian.AppendUint32(buf, 0) // data offset lo
	return buf
}

// mrdFrame builds a DLLP-framed 32-bit memory read TLP.
func mrdFrame(addr uint32) []byte {
	buf := []byte{pcie.StartTag, 0x00, 0x01}
	hdr := make([]byte, 12)
	hdr[3] = 1 // length: 1 DWORD
	binary.BigEndian.PutUint32(hdr[8:12], addr)
	buf = append(buf, hdr...)
	buf = append(buf, 0, 0, 0, 0) // LCRC
	return append(buf, pcie.EndTag)
}

type stream struct {
	meta bytes.Buffer
	data bytes.Buffer
}

func (s *stream) add(number uint32, timestampNS uint64, metadataInfo uint16, flags uint32, payload []byte) {
	s.meta.Write(header(number, uint32(len(payload)), timestampNS, metadataInfo, flags))
	s.data.Write(payload)
}

func (s *stream) terminate() {
	s.meta.Write(make([]byte, record.HeaderSize))
}

func (s *stream) reader(first, last uint32, opts Options) *Reader {
	return NewReader(&s.meta, &s.data, record.LayoutCurrent, first, last, opts)
}

func collect(t *testing.T, r *Reader) []*types.TraceRecord {
	t.Helper()
	var out []*types.TraceRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestReaderSequence(t *testing.T) {
	var s stream
	s.add(10, 100, 0, 0, []byte{1})
	s.add(11, 200, 0, 0, []byte{2, 3})
	s.add(12, 300, 0, 0, []byte{4, 5, 6})

	out := collect(t, s.reader(10, 12, Options{}))
	require.Len(t, out, 3)
	for i, rec := range out {
		assert.Equal(t, uint32(10+i), rec.Desc.Number)
	}
	assert.Equal(t, []byte{1}, out[0].Payload)
	assert.Equal(t, []byte{4, 5, 6}, out[2].Payload)
}

func TestReaderTerminator(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, []byte{1})
	s.terminate()
	s.add(3, 300, 0, 0, []byte{3}) // never reached

	out := collect(t, s.reader(1, 3, Options{}))
	require.Len(t, out, 1)
	assert.Equal(t, uint32(1), out[0].Desc.Number)
}

func TestReaderConsistencyError(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, nil)
	s.add(5, 200, 0, 0, nil) // expected 2

	r := s.reader(1, 5, Options{})
	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	var cerr *RecordConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint32(2), cerr.Expected)
	assert.Equal(t, uint32(5), cerr.Got)

	// The reader is dead after a stream-level error.
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderTruncatedMetadata(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, nil)
	s.meta.Write([]byte{0x02, 0x00}) // partial second header

	r := s.reader(1, 2, Options{})
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, record.ErrTruncatedStream)
}

func TestReaderTruncatedPayload(t *testing.T) {
	var s stream
	s.meta.Write(header(1, 8, 100, 0, 0))
	s.data.Write([]byte{1, 2, 3}) // 5 bytes short

	_, err := s.reader(1, 1, Options{}).Next()
	assert.ErrorIs(t, err, record.ErrTruncatedStream)
}

func TestReaderValidPrefix(t *testing.T) {
	var s stream
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s.add(1, 100, 0, 0, payload)      // offset 0: all valid
	s.add(2, 200, 3, 0, payload)      // offset 3: prefix only
	s.add(3, 300, 0x8020, 0, payload) // offset past end: all valid

	out := collect(t, s.reader(1, 3, Options{}))
	require.Len(t, out, 3)
	assert.Equal(t, payload, out[0].Valid)
	assert.Equal(t, []byte{1, 2, 3}, out[1].Valid)
	assert.Equal(t, payload, out[1].Payload)
	assert.Equal(t, payload, out[2].Valid)
}

func TestReaderErrorFilteringKeepsStreamsAligned(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, []byte{0xaa})
	s.add(2, 200, 0, 1<<record.FlagBitSymbolError, []byte{0x01, 0x02, 0x03})
	s.add(3, 300, 0, 1<<record.FlagBitDisparityError, []byte{0x04})
	s.add(4, 400, 0, 0, []byte{0xbb, 0xcc})

	out := collect(t, s.reader(1, 4, Options{FilterErrors: true}))
	require.Len(t, out, 2)
	assert.Equal(t, uint32(1), out[0].Desc.Number)
	assert.Equal(t, uint32(4), out[1].Desc.Number)
	// Payloads of the filtered records were consumed, so record 4's
	// payload is intact.
	assert.Equal(t, []byte{0xbb, 0xcc}, out[1].Payload)
}

func TestReaderDelta(t *testing.T) {
	var s stream
	s.add(1, 1000, 0, 0, nil)
	s.add(2, 1450, 0, 0, nil)
	s.add(3, 1400, 0, 0, nil) // clock went backwards
	s.add(4, 2000, 0, 0, nil)

	out := collect(t, s.reader(1, 4, Options{}))
	require.Len(t, out, 4)
	assert.Equal(t, uint64(0), out[0].DeltaNS)
	assert.Equal(t, uint64(450), out[1].DeltaNS)
	assert.Equal(t, uint64(0), out[2].DeltaNS)
	assert.Equal(t, uint64(600), out[3].DeltaNS)
}

func TestReaderDeltaSkipsFilteredRecords(t *testing.T) {
	var s stream
	s.add(1, 1000, 0, 0, nil)
	s.add(2, 1500, 0, 1<<record.FlagBitSymbolError, nil)
	s.add(3, 1800, 0, 0, nil)

	out := collect(t, s.reader(1, 3, Options{FilterErrors: true}))
	require.Len(t, out, 2)
	// Delta is measured against the previously emitted record, which
	// here is record 1, not the filtered record 2.
	assert.Equal(t, uint64(800), out[1].DeltaNS)
}

func TestReaderProtocolDecode(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, []byte{0x11, 0x22})              // not a DLLP
	s.add(2, 200, 0, 1<<record.FlagBitSymbolError, nil)  // filtered
	s.add(3, 300, 0, 0, mrdFrame(0x1000))                // valid MRd

	r := s.reader(1, 3, Options{FilterErrors: true, DecodeProtocol: true})
	out := collect(t, r)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(3), out[0].Desc.Number)
	require.NotNil(t, out[0].DLLP)
	assert.Equal(t, "MRd", out[0].DLLP.TLP.Classify().Name)

	c := r.Counters()
	assert.Equal(t, uint64(3), c.Read)
	assert.Equal(t, uint64(1), c.Emitted)
	assert.Equal(t, uint64(1), c.Filtered)
	assert.Equal(t, uint64(1), c.NonDLLP)
}

func TestReaderMalformedDLLPSkipped(t *testing.T) {
	frame := mrdFrame(0x1000)
	frame[len(frame)-1] = 0x00 // break the end tag

	var s stream
	s.add(1, 100, 0, 0, frame)
	s.add(2, 200, 0, 0, mrdFrame(0x2000))

	out := collect(t, s.reader(1, 2, Options{DecodeProtocol: true}))
	require.Len(t, out, 1)
	assert.Equal(t, uint32(2), out[0].Desc.Number)
}

func TestReaderRunCancellation(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, nil)
	s.add(2, 200, 0, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r := s.reader(1, 2, Options{})

	count := 0
	err := r.Run(ctx, func(*types.TraceRecord) error {
		count++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}

func TestReaderRunComplete(t *testing.T) {
	var s stream
	s.add(1, 100, 0, 0, nil)
	s.add(2, 200, 0, 0, nil)

	var numbers []uint32
	err := s.reader(1, 2, Options{}).Run(context.Background(), func(rec *types.TraceRecord) error {
		numbers = append(numbers, rec.Desc.Number)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, numbers)
}
