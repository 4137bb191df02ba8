// Package export writes decoded capture records to a pcapng file so
// they can be inspected with standard packet tooling. Each packet is
// the record's raw payload prefixed by a fixed metadata prelude, on a
// user-defined link type.
package export

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"padtrace/internal/pad"
	"padtrace/pkg/types"
)

// LinkTypePadPCIe is DLT_USER11, the private link type used for PCIe
// analyzer records.
const LinkTypePadPCIe = layers.LinkType(158)

// preludeSize is the per-packet metadata prelude: record number (4),
// timestamp (8), lfsr (2), metadata info (2), flags (4), all
// little-endian.
const preludeSize = 20

// PcapngWriter writes trace records as pcapng enhanced packet blocks.
type PcapngWriter struct {
	ng *pcapgo.NgWriter
}

// NewPcapngWriter opens a pcapng stream for a capture. The capture
// header supplies the interface name and hardware description; only
// PCIe analyzer modules are supported.
func NewPcapngWriter(w io.Writer, header *pad.Header) (*PcapngWriter, error) {
	if !header.IsPCIeModule() {
		return nil, fmt.Errorf("unsupported analyzer module type %q", header.ModuleType)
	}

	intf := pcapgo.NgInterface{
		Name:                header.PortID,
		Description:         header.ModuleType,
		LinkType:            LinkTypePadPCIe,
		SnapLength:          0,
		TimestampResolution: 9, // nanoseconds
	}
	ng, err := pcapgo.NewNgWriterInterface(w, intf, pcapgo.NgWriterOptions{
		SectionInfo: pcapgo.NgSectionInfo{
			Hardware:    header.ModuleType,
			Application: "padtrace",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
	}
	return &PcapngWriter{ng: ng}, nil
}

// WriteRecord appends one record. The full payload is written, not the
// valid-prefix truncation, so the extra metadata bytes survive the
// round trip.
func (p *PcapngWriter) WriteRecord(rec *types.TraceRecord) error {
	data := make([]byte, 0, preludeSize+len(rec.Payload))
	data = binary.LittleEndian.AppendUint32(data, rec.Desc.Number)
	data = binary.LittleEndian.AppendUint64(data, rec.Desc.TimestampNS)
	data = binary.LittleEndian.AppendUint16(data, rec.Desc.LFSR)
	data = binary.LittleEndian.AppendUint16(data, rec.Desc.MetadataInfo)
	data = binary.LittleEndian.AppendUint32(data, rec.Desc.Flags)
	data = append(data, rec.Payload...)

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, int64(rec.Desc.TimestampNS)),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := p.ng.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write record %d: %w", rec.Desc.Number, err)
	}
	return nil
}

// Flush writes out any buffered blocks.
func (p *PcapngWriter) Flush() error {
	return p.ng.Flush()
}
