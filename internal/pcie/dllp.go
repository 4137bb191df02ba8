package pcie

import (
	"encoding/binary"
	"errors"
	"fmt"

	"padtrace/internal/bits"
)

// Framing tag bytes delimiting a DLLP within a record payload.
const (
	StartTag = 0xFB
	EndTag   = 0xFD
)

var (
	// ErrNotDLLP means the payload does not begin with the DLLP start
	// tag; the record simply carries something else.
	ErrNotDLLP = errors.New("payload is not a DLLP")
	// ErrMalformedDLLP means the payload starts like a DLLP but cannot
	// be decoded completely, or its end tag is wrong. Local to the
	// record, never fatal for the capture.
	ErrMalformedDLLP = errors.New("malformed DLLP")
)

// DLLP is a data link layer packet framing one TLP.
type DLLP struct {
	TLPSequenceNumber uint16
	TLP               TLP
	LCRC              uint32
	EndTag            uint8
}

// tlpHeaderBase is the offset of the TLP header within the framed
// buffer: start tag plus the 2-byte sequence number.
const tlpHeaderBase = 3

// ParseDLLP decodes a DLLP from a record's valid payload. It returns
// ErrNotDLLP when the buffer is empty or does not start with the start
// tag, and ErrMalformedDLLP when decoding runs out of bytes or the end
// tag check fails. Partial decode state is never returned.
func ParseDLLP(buf []byte) (*DLLP, error) {
	if len(buf) == 0 || buf[0] != StartTag {
		return nil, ErrNotDLLP
	}
	if len(buf) < tlpHeaderBase {
		return nil, fmt.Errorf("%w: no room for TLP sequence number", ErrMalformedDLLP)
	}

	d := &DLLP{
		TLPSequenceNumber: binary.BigEndian.Uint16(buf[1:3]) & 0x0fff,
	}

	hdr := buf[tlpHeaderBase:]
	if len(hdr) < 12 {
		return nil, fmt.Errorf("%w: truncated TLP header", ErrMalformedDLLP)
	}
	d.TLP.Fmt = uint8(bits.Field(uint32(hdr[0]), 5, 3))
	d.TLP.Type = uint8(bits.Field(uint32(hdr[0]), 0, 5))
	d.TLP.Length = uint16(bits.Field(uint32(hdr[2]), 0, 2))<<8 | uint16(hdr[3])

	hdrLen := 12
	if d.TLP.Is64Bit() {
		hdrLen = 16
		if len(hdr) < hdrLen {
			return nil, fmt.Errorf("%w: truncated 4-DW TLP header", ErrMalformedDLLP)
		}
		d.TLP.Address = binary.BigEndian.Uint64(hdr[8:16])
	} else {
		d.TLP.Address = uint64(binary.BigEndian.Uint32(hdr[8:12]))
	}

	rest := hdr[hdrLen:]
	if d.TLP.HasData() {
		dw := int(d.TLP.Length)
		if dw == 0 {
			// Length 0 encodes the maximum payload of 1024 DWORDs.
			dw = 1024
		}
		dataLen := dw * 4
		if len(rest) < dataLen {
			return nil, fmt.Errorf("%w: truncated TLP data payload", ErrMalformedDLLP)
		}
		d.TLP.Data = append([]byte(nil), rest[:dataLen]...)
		rest = rest[dataLen:]
	}

	// LCRC plus the trailing end tag.
	if len(rest) < 5 {
		return nil, fmt.Errorf("%w: truncated LCRC", ErrMalformedDLLP)
	}
	d.LCRC = binary.BigEndian.Uint32(rest[0:4])
	d.EndTag = rest[4]
	if d.EndTag != EndTag {
		return nil, fmt.Errorf("%w: bad end tag 0x%02x", ErrMalformedDLLP, d.EndTag)
	}

	return d, nil
}
