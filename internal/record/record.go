// Package record decodes the fixed-width per-record headers of an
// Agilent/Keysight PCIe analyzer capture (.pad) file.
//
// Two header layouts exist in the wild. Both are 40 bytes of
// little-endian fields and both decode into the same Descriptor shape;
// they differ in field composition (notably whether the nanosecond
// timestamp is stored as one 64-bit field or as two 32-bit halves) and
// in which diagnostic fields they carry.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"padtrace/internal/bits"
)

// HeaderSize is the fixed on-disk size of one record header, shared by
// both layouts.
const HeaderSize = 40

// ErrTruncatedStream means fewer bytes remained than a fixed-width
// field required. It is fatal for the file being decoded.
var ErrTruncatedStream = errors.New("truncated capture stream")

// Layout selects which record header revision to decode.
type Layout int

const (
	// LayoutLegacy is the header written by early analyzer firmware:
	// the timestamp is a single 64-bit field and the diagnostic slots
	// are the unlabeled unk1/unk2/unk3 fields plus a byte counter.
	LayoutLegacy Layout = iota
	// LayoutCurrent is the later revision: timestamp, record count and
	// data offset are each stored as hi/lo 32-bit halves, and the
	// header carries an LFSR state word.
	LayoutCurrent
)

func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutCurrent:
		return "current"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout maps a configuration string to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "v1", "legacy":
		return LayoutLegacy, nil
	case "v2", "current":
		return LayoutCurrent, nil
	default:
		return 0, fmt.Errorf("unknown capture format %q (want v1 or v2)", s)
	}
}

// Flag bit positions within Descriptor.Flags. The remaining bits are
// reserved or diagnostic and are displayed raw.
const (
	FlagBitSymbolError    = 3
	FlagBitDisparityError = 11
	FlagBitUpstream       = 28
)

// Descriptor is one decoded record header. The shape is identical for
// both layouts; layout-specific diagnostic fields are zero when the
// other layout was decoded.
type Descriptor struct {
	Number       uint32
	TimestampNS  uint64
	DataLength   uint32
	MetadataInfo uint16
	Flags        uint32

	// Diagnostic fields, current layout.
	Count      uint64
	LFSR       uint16
	DataOffset uint64

	// Diagnostic fields, legacy layout.
	Unk1        uint32
	Unk2        uint32
	Unk3        [2]byte
	ByteCounter uint32
}

// IsTerminator reports whether this record is the stream terminator:
// an all-significant-zero record that ends the capture before
// last_record_number is reached.
func (d *Descriptor) IsTerminator() bool {
	return d.Number == 0 && d.TimestampNS == 0 && d.DataLength == 0
}

// ValidOffset returns the offset within the record payload at which
// valid data ends. Zero means the entire payload is valid.
func (d *Descriptor) ValidOffset() uint16 {
	return d.MetadataInfo & 0x7fff
}

// HasExtraMetadata reports whether the record carries extra metadata
// after the valid payload prefix.
func (d *Descriptor) HasExtraMetadata() bool {
	return d.MetadataInfo&0x8000 != 0
}

// HasSymbolError reports flag bit 3.
func (d *Descriptor) HasSymbolError() bool {
	return bits.Get(d.Flags, FlagBitSymbolError)
}

// HasDisparityError reports flag bit 11.
func (d *Descriptor) HasDisparityError() bool {
	return bits.Get(d.Flags, FlagBitDisparityError)
}

// Upstream reports the capture direction from flag bit 28: true for
// upstream (device to root complex), false for downstream.
func (d *Descriptor) Upstream() bool {
	return bits.Get(d.Flags, FlagBitUpstream)
}

// Decode reads and decodes one record header from r, which must be
// positioned at a record boundary in the metadata stream. The cursor
// is advanced exactly HeaderSize bytes on success.
func Decode(r io.Reader, layout Layout) (*Descriptor, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("record header: %w", ErrTruncatedStream)
		}
		return nil, fmt.Errorf("record header: %w", err)
	}

	switch layout {
	case LayoutLegacy:
		return decodeLegacy(buf[:]), nil
	case LayoutCurrent:
		return decodeCurrent(buf[:]), nil
	default:
		return nil, fmt.Errorf("unsupported record layout %v", layout)
	}
}

func decodeLegacy(buf []byte) *Descriptor {
	d := &Descriptor{
		Number:      binary.LittleEndian.Uint32(buf[0:4]),
		DataLength:  binary.LittleEndian.Uint32(buf[4:8]),
		Unk1:        binary.LittleEndian.Uint32(buf[8:12]),
		Unk2:        binary.LittleEndian.Uint32(buf[12:16]),
		TimestampNS: binary.LittleEndian.Uint64(buf[16:24]),
	}
	copy(d.Unk3[:], buf[24:26])
	d.MetadataInfo = binary.LittleEndian.Uint16(buf[26:28])
	d.Flags = binary.LittleEndian.Uint32(buf[28:32])
	d.ByteCounter = binary.LittleEndian.Uint32(buf[32:36])
	d.DataOffset = uint64(binary.LittleEndian.Uint32(buf[36:40]))
	return d
}

func decodeCurrent(buf []byte) *Descriptor {
	d := &Descriptor{
		Number:     binary.LittleEndian.Uint32(buf[0:4]),
		DataLength: binary.LittleEndian.Uint32(buf[4:8]),
	}
	countHi := binary.LittleEndian.Uint32(buf[8:12])
	countLo := binary.LittleEndian.Uint32(buf[12:16])
	d.Count = uint64(countHi)<<32 | uint64(countLo)
	tsHi := binary.LittleEndian.Uint32(buf[16:20])
	tsLo := binary.LittleEndian.Uint32(buf[20:24])
	d.TimestampNS = uint64(tsHi)<<32 | uint64(tsLo)
	d.LFSR = binary.LittleEndian.Uint16(buf[24:26])
	d.MetadataInfo = binary.LittleEndian.Uint16(buf[26:28])
	d.Flags = binary.LittleEndian.Uint32(buf[28:32])
	offHi := binary.LittleEndian.Uint32(buf[32:36])
	offLo := binary.LittleEndian.Uint32(buf[36:40])
	d.DataOffset = uint64(offHi)<<32 | uint64(offLo)
	return d
}
