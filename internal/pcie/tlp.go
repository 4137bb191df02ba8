// Package pcie decodes the PCIe link-layer framing found inside
// analyzer capture payloads: a DLLP envelope carrying one Transaction
// Layer Packet, delimited by fixed start and end tag bytes.
package pcie

import "fmt"

// TLP header format field values. The low bit selects 4-DW headers
// (64-bit addressing), the second bit selects a data payload.
const (
	Fmt3DWNoData   = 0b000
	Fmt4DWNoData   = 0b001
	Fmt3DWWithData = 0b010
	Fmt4DWWithData = 0b011
	FmtPrefix      = 0b100
)

// Address masks clearing the two low bits, which are reserved for
// other fields in the address DWORDs.
const (
	AddrMask32 = 0xFFFFFFFC
	AddrMask64 = 0xFFFFFFFFFFFFFFFC
)

// TLP is the transaction-layer packet recovered from a DLLP envelope.
type TLP struct {
	Fmt     uint8  // 3-bit format field
	Type    uint8  // 5-bit type field
	Length  uint16 // payload length in DWORDs
	Address uint64 // raw address field, unmasked
	Data    []byte // payload bytes for data-bearing formats, else nil
}

// Is64Bit reports whether the TLP uses 64-bit addressing (4-DW header).
func (t *TLP) Is64Bit() bool {
	return t.Fmt&1 != 0
}

// HasData reports whether the format carries a data payload.
func (t *TLP) HasData() bool {
	return t.Fmt&0b010 != 0
}

// MaskedAddress returns the address with the two low bits cleared,
// sized by the addressing mode.
func (t *TLP) MaskedAddress() uint64 {
	if t.Is64Bit() {
		return t.Address & AddrMask64
	}
	return t.Address & AddrMask32
}

// Classification is the symbolic category of a TLP. Name is "Unk" when
// no rule matched and "Inv" when the format field itself is outside
// the defined value set; Description carries diagnostic detail for the
// invalid case.
type Classification struct {
	Name        string
	Description string
}

// typeRule matches a (fmt, type) pair under a pair of masks. Rules
// overlap, so the table order is part of the classification: the first
// matching rule wins.
type typeRule struct {
	fmtMask   uint8
	fmtValue  uint8
	typeMask  uint8
	typeValue uint8
	name      string
}

var typeRules = []typeRule{
	{0b110, 0b000, 0b11111, 0b00000, "MRd"},
	{0b110, 0b000, 0b11111, 0b00001, "MRdLk"},
	{0b110, 0b010, 0b11111, 0b00000, "MWr"},
	{0b111, 0b000, 0b11111, 0b00010, "IORd"},
	{0b111, 0b010, 0b11111, 0b00010, "IOWr"},
	{0b111, 0b000, 0b11111, 0b00100, "CfgRd0"},
	{0b111, 0b010, 0b11111, 0b00100, "CfgWr0"},
	{0b111, 0b000, 0b11111, 0b00101, "CfgRd1"},
	{0b111, 0b010, 0b11111, 0b00101, "CfgWr1"},
	{0b111, 0b000, 0b11111, 0b11011, "TCfgRd"},
	{0b111, 0b010, 0b11111, 0b11011, "TCfgWr"},
	{0b111, 0b001, 0b11000, 0b10000, "Msg"},
	{0b111, 0b011, 0b11000, 0b10000, "MsgD"},
	{0b111, 0b000, 0b11111, 0b01010, "Cpl"},
	{0b111, 0b010, 0b11111, 0b01010, "CplD"},
	{0b111, 0b000, 0b11111, 0b01011, "CplLk"},
	{0b111, 0b010, 0b11111, 0b01011, "CplDLk"},
	{0b110, 0b010, 0b11111, 0b01100, "FetchAdd"},
	{0b110, 0b010, 0b11111, 0b01101, "Swap"},
	{0b110, 0b010, 0b11111, 0b01110, "CAS"},
	{0b111, 0b100, 0b10000, 0b00000, "LPrfx"},
	{0b111, 0b100, 0b10000, 0b10000, "EPrfx"},
}

// ClassifyFmtType resolves a raw (fmt, type) pair against the rule
// table. A format value outside the defined set bypasses the table and
// classifies as "Inv" with the offending bits in the description.
func ClassifyFmtType(fmtField, typeField uint8) Classification {
	if fmtField > FmtPrefix {
		return Classification{
			Name:        "Inv",
			Description: fmt.Sprintf("Invalid Fmt: 0b%03b", fmtField),
		}
	}
	for _, r := range typeRules {
		if fmtField&r.fmtMask == r.fmtValue && typeField&r.typeMask == r.typeValue {
			return Classification{Name: r.name}
		}
	}
	return Classification{Name: "Unk", Description: "Unknown"}
}

// Classify resolves the TLP's symbolic category.
func (t *TLP) Classify() Classification {
	return ClassifyFmtType(t.Fmt, t.Type)
}
