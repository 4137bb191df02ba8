// Package pad reads the analyzer capture file container: the
// big-endian file header and the two file regions it points at (record
// metadata headers and record payload data).
package pad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"padtrace/internal/record"
)

// pcieModuleTypes lists the analyzer module types whose captures carry
// the PCIe record format this tool decodes.
var pcieModuleTypes = map[string]bool{
	"AGT_MODULE_ONEPORT_PCIEXPRESS_X8":        true,
	"AGT_MODULE_ONEPORT_PCIEXPRESS_X16":       true,
	"AGT_MODULE_ONEPORT_PCIEXPRESS_GEN2":      true,
	"AGT_MODULE_ONEPORT_PCIEXPRESS_GEN2_X16":  true,
	"AGT_MODULE_ONEPORT_PCIEXPRESS_MRIOV_X8":  true,
	"AGT_MODULE_ONEPORT_PCIEXPRESS_MRIOV_X16": true,
}

// CoarseTime is the wall-clock capture time stored in later-revision
// headers.
type CoarseTime struct {
	Hour     uint16
	Minute   uint16
	Millisec uint16
}

// IsZero reports whether the time block was left unset.
func (t CoarseTime) IsZero() bool {
	return t.Hour == 0 && t.Minute == 0 && t.Millisec == 0
}

// TimestampsNS are the capture-wide nanosecond timestamps from the
// header.
type TimestampsNS struct {
	First   uint64
	Last    uint64
	Stop    uint64
	Trigger uint64
}

// Header is the parsed capture file header. Both header revisions
// decode into this one shape; fields only present in the later
// revision are zero for legacy files.
type Header struct {
	ModuleType  string
	PortID      string
	RxOrTx      string
	Description string
	FormatCode  string

	TriggerRecordNumber uint32
	FirstRecordNumber   uint32
	LastRecordNumber    uint32
	RecordLen           uint32
	TimestampArraySize  uint32

	Timestamps   TimestampsNS
	GUID         string
	ChannelNames [2]string
	StartTime    CoarseTime
	StopTime     CoarseTime

	RecordsOffset    uint64
	RecordDataOffset uint64
	Start            string
}

// IsPCIeModule reports whether the capture came from a PCIe analyzer
// module.
func (h *Header) IsPCIeModule() bool {
	return pcieModuleTypes[h.ModuleType]
}

// headerReader decodes the header's big-endian primitives and
// u16-length-prefixed strings, remembering the first error.
type headerReader struct {
	r   io.Reader
	err error
}

func (hr *headerReader) read(buf []byte) {
	if hr.err != nil {
		return
	}
	if _, err := io.ReadFull(hr.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			hr.err = fmt.Errorf("capture header: %w", record.ErrTruncatedStream)
		} else {
			hr.err = fmt.Errorf("capture header: %w", err)
		}
	}
}

func (hr *headerReader) u16() uint16 {
	var buf [2]byte
	hr.read(buf[:])
	return binary.BigEndian.Uint16(buf[:])
}

func (hr *headerReader) u32() uint32 {
	var buf [4]byte
	hr.read(buf[:])
	return binary.BigEndian.Uint32(buf[:])
}

func (hr *headerReader) u64() uint64 {
	var buf [8]byte
	hr.read(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}

func (hr *headerReader) str() string {
	n := hr.u16()
	if hr.err != nil {
		return ""
	}
	buf := make([]byte, n)
	hr.read(buf)
	return string(buf)
}

func (hr *headerReader) coarseTime() CoarseTime {
	return CoarseTime{Hour: hr.u16(), Minute: hr.u16(), Millisec: hr.u16()}
}

// ParseHeader decodes a capture file header from r, which must be
// positioned at the start of the file. The layout tag selects the
// header revision, matching the record layout of the same file.
func ParseHeader(r io.Reader, layout record.Layout) (*Header, error) {
	switch layout {
	case record.LayoutLegacy:
		return parseLegacyHeader(r)
	case record.LayoutCurrent:
		return parseCurrentHeader(r)
	default:
		return nil, fmt.Errorf("unsupported capture layout %v", layout)
	}
}

func parseCurrentHeader(r io.Reader) (*Header, error) {
	hr := &headerReader{r: r}
	h := &Header{}

	h.ModuleType = hr.str()
	h.PortID = hr.str()
	h.RxOrTx = hr.str()
	h.Description = hr.str()
	h.FormatCode = hr.str()
	hr.u32() // unknown pair
	hr.u32()
	h.TriggerRecordNumber = hr.u32()
	hr.u32() // constant 3
	h.FirstRecordNumber = hr.u32()
	h.LastRecordNumber = hr.u32()
	h.RecordLen = hr.u32()
	h.TimestampArraySize = hr.u32()
	h.Timestamps.First = hr.u64()
	h.Timestamps.Last = hr.u64()
	h.Timestamps.Stop = hr.u64()
	h.Timestamps.Trigger = hr.u64()
	h.GUID = hr.str()
	h.ChannelNames[0] = hr.str()
	h.ChannelNames[1] = hr.str()
	h.StartTime = hr.coarseTime()
	h.StopTime = hr.coarseTime()
	h.RecordsOffset = hr.u64()
	h.RecordDataOffset = hr.u64()
	h.Start = hr.str()
	if hr.err != nil {
		return nil, hr.err
	}

	if h.RecordLen != record.HeaderSize {
		return nil, fmt.Errorf("capture header: record length %d, want %d", h.RecordLen, record.HeaderSize)
	}
	if h.TimestampArraySize != 8 {
		return nil, fmt.Errorf("capture header: timestamp array size %d, want 8", h.TimestampArraySize)
	}
	return h, nil
}

func parseLegacyHeader(r io.Reader) (*Header, error) {
	hr := &headerReader{r: r}
	h := &Header{}

	h.ModuleType = hr.str()
	h.PortID = hr.str()
	h.RxOrTx = hr.str()
	h.Description = hr.str()
	h.FormatCode = hr.str()
	for i := 0; i < 4; i++ {
		hr.u32()
	}
	h.FirstRecordNumber = hr.u32()
	h.LastRecordNumber = hr.u32()
	hr.u32()
	hr.u32()
	h.Timestamps.First = hr.u64()
	h.Timestamps.Last = hr.u64()
	h.Timestamps.Stop = hr.u64()
	h.Timestamps.Trigger = hr.u64()
	h.GUID = hr.str()
	h.ChannelNames[0] = hr.str()
	h.ChannelNames[1] = hr.str()
	for i := 0; i < 3; i++ {
		hr.u32()
	}
	h.RecordsOffset = hr.u64()
	h.RecordDataOffset = hr.u64()
	h.Start = hr.str()
	if hr.err != nil {
		return nil, hr.err
	}
	return h, nil
}
