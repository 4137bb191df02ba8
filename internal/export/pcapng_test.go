package export

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padtrace/internal/pad"
	"padtrace/internal/record"
	"padtrace/pkg/types"
)

func pcieHeader() *pad.Header {
	return &pad.Header{
		ModuleType: "AGT_MODULE_ONEPORT_PCIEXPRESS_GEN2",
		PortID:     "Port A",
	}
}

func TestNewPcapngWriterRejectsNonPCIe(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewPcapngWriter(&buf, &pad.Header{ModuleType: "AGT_MODULE_SOMETHING_ELSE"})
	assert.ErrorContains(t, err, "unsupported analyzer module type")
}

func TestWriteAndReadBack(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewPcapngWriter(&buf, pcieHeader())
	require.NoError(t, err)

	rec := &types.TraceRecord{
		Desc: record.Descriptor{
			Number:       42,
			TimestampNS:  1_500_000_001,
			LFSR:         0xbeef,
			MetadataInfo: 0x8004,
			Flags:        1 << record.FlagBitUpstream,
		},
		Payload: []byte{0x01, 0x02, 0x03, 0x04},
	}
	require.NoError(t, w.WriteRecord(rec))
	require.NoError(t, w.Flush())

	r, err := pcapgo.NewNgReader(&buf, pcapgo.DefaultNgReaderOptions)
	require.NoError(t, err)
	assert.Equal(t, LinkTypePadPCIe, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	require.Len(t, data, preludeSize+4)

	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint64(1_500_000_001), binary.LittleEndian.Uint64(data[4:12]))
	assert.Equal(t, uint16(0xbeef), binary.LittleEndian.Uint16(data[12:14]))
	assert.Equal(t, uint16(0x8004), binary.LittleEndian.Uint16(data[14:16]))
	assert.Equal(t, uint32(1)<<record.FlagBitUpstream, binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data[preludeSize:])

	assert.Equal(t, int64(1_500_000_001), ci.Timestamp.UnixNano())
}

func TestWriteMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewPcapngWriter(&buf, pcieHeader())
	require.NoError(t, err)

	for i := uint32(1); i <= 3; i++ {
		rec := &types.TraceRecord{
			Desc:    record.Descriptor{Number: i, TimestampNS: uint64(i) * 1000},
			Payload: []byte{byte(i)},
		}
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Flush())

	r, err := pcapgo.NewNgReader(&buf, pcapgo.DefaultNgReaderOptions)
	require.NoError(t, err)

	for i := uint32(1); i <= 3; i++ {
		data, _, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.Equal(t, i, binary.LittleEndian.Uint32(data[0:4]))
	}
}
