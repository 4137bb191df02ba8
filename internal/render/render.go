// Package render turns decoded trace records into the tool's text
// output lines.
package render

import (
	"encoding/hex"
	"fmt"
	"strings"

	"padtrace/internal/pcie"
	"padtrace/internal/record"
	"padtrace/pkg/types"
)

// Options selects what each output line shows.
type Options struct {
	DLLP   bool // show the DLLP envelope fields
	TLP    bool // show the decoded TLP
	Debug  bool // append the raw diagnostic header fields
	Layout record.Layout
}

// TLPString formats one TLP the way the analyzer vendor's tooling
// prints them.
func TLPString(t *pcie.TLP) string {
	c := t.Classify()
	if c.Name == "Inv" {
		return fmt.Sprintf("TLP: { Type: %s: %s }", c.Name, c.Description)
	}

	addr := fmt.Sprintf("0x%08x", t.MaskedAddress())
	if t.Is64Bit() {
		addr = fmt.Sprintf("0x%016x", t.MaskedAddress())
	}

	var data string
	if len(t.Data) > 0 {
		data = fmt.Sprintf(", Data: %s", hex.EncodeToString(t.Data))
	}
	return fmt.Sprintf("TLP: { Type: %s, Address: %s, Length: %d%s }", c.Name, addr, t.Length, data)
}

// DLLPString formats a DLLP envelope with its embedded TLP.
func DLLPString(d *pcie.DLLP) string {
	return fmt.Sprintf("DLLP: { TLP Seq. No.: %d, %s, LCRC: 0x%08x }",
		d.TLPSequenceNumber, TLPString(&d.TLP), d.LCRC)
}

func debugString(rec *types.TraceRecord, layout record.Layout) string {
	d := &rec.Desc
	metaFlag := 0
	if d.HasExtraMetadata() {
		metaFlag = 1
	}
	if layout == record.LayoutLegacy {
		return fmt.Sprintf(" (unk1: 0x%08x, unk2: 0x%08x, unk3: %s, bytes_valid: %d (%d), flags: 0x%08x, byte_counter: %d)",
			d.Unk1, d.Unk2, hex.EncodeToString(d.Unk3[:]),
			d.ValidOffset(), metaFlag, d.Flags, d.ByteCounter)
	}
	return fmt.Sprintf(" (count: %d, lfsr: 0x%04x, metadata_offset: %d (%d), flags: 0x%08x, data_offset: %d)",
		d.Count, d.LFSR, d.ValidOffset(), metaFlag, d.Flags, d.DataOffset)
}

// Record renders one emitted trace record as a single output line.
func Record(rec *types.TraceRecord, opts Options) string {
	direction := "DS"
	if rec.Upstream() {
		direction = "US"
	}

	var display string
	switch {
	case opts.DLLP && rec.DLLP != nil:
		display = DLLPString(rec.DLLP)
	case opts.TLP && rec.DLLP != nil:
		display = TLPString(&rec.DLLP.TLP)
	default:
		display = hex.EncodeToString(rec.Valid)
	}

	var sb strings.Builder
	secs, nanos := rec.TimestampParts()
	fmt.Fprintf(&sb, "%s Record %d @ %d.%09ds (+%dns)", direction, rec.Desc.Number, secs, nanos, rec.DeltaNS)
	if opts.Debug {
		sb.WriteString(debugString(rec, opts.Layout))
	}
	sb.WriteString(": ")
	sb.WriteString(display)
	return sb.String()
}
