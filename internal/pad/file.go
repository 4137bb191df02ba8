package pad

import (
	"bufio"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"padtrace/internal/record"
	"padtrace/internal/trace"
)

// File is an open capture file: the parsed header plus the two region
// cursors the trace reader consumes. The cursors are owned by the
// File and advance only through the trace reader; nothing else may
// read from them.
type File struct {
	Header *Header
	Layout record.Layout

	metaFile *os.File
	dataFile *os.File
	meta     *bufio.Reader
	data     *bufio.Reader
}

// Open opens a capture file, parses its header, and positions the
// metadata cursor at the first record header and the data cursor at
// the first record's payload.
func Open(path string, layout record.Layout) (*File, error) {
	metaFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	header, err := ParseHeader(bufio.NewReader(metaFile), layout)
	if err != nil {
		metaFile.Close()
		return nil, err
	}

	// Reopen for the header-derived seek positions: the bufio reader
	// used for header parsing has read past records_offset's worth of
	// buffered bytes.
	if _, err := metaFile.Seek(int64(header.RecordsOffset), io.SeekStart); err != nil {
		metaFile.Close()
		return nil, fmt.Errorf("failed to seek to record headers: %w", err)
	}

	dataFile, err := os.Open(path)
	if err != nil {
		metaFile.Close()
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	if _, err := dataFile.Seek(int64(header.RecordDataOffset), io.SeekStart); err != nil {
		metaFile.Close()
		dataFile.Close()
		return nil, fmt.Errorf("failed to seek to record data: %w", err)
	}

	log.WithFields(log.Fields{
		"module":       header.ModuleType,
		"port":         header.PortID,
		"first_record": header.FirstRecordNumber,
		"last_record":  header.LastRecordNumber,
		"format":       layout.String(),
	}).Debug("Opened capture file")

	return &File{
		Header:   header,
		Layout:   layout,
		metaFile: metaFile,
		dataFile: dataFile,
		meta:     bufio.NewReader(metaFile),
		data:     bufio.NewReader(dataFile),
	}, nil
}

// NewTraceReader builds the decode loop over this file's cursors. Call
// it at most once per File.
func (f *File) NewTraceReader(opts trace.Options) *trace.Reader {
	return trace.NewReader(f.meta, f.data, f.Layout,
		f.Header.FirstRecordNumber, f.Header.LastRecordNumber, opts)
}

// Close releases both file cursors.
func (f *File) Close() error {
	err := f.metaFile.Close()
	if cerr := f.dataFile.Close(); err == nil {
		err = cerr
	}
	return err
}
