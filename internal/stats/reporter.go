package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reporter outputs decode statistics to console and/or file.
type Reporter struct {
	collector  *Collector
	exportFile string
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, exportFile string) *Reporter {
	return &Reporter{
		collector:  collector,
		exportFile: exportFile,
	}
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	c := snap.Counters

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== Capture Statistics (decoded in %s) ===\n", snap.Duration().Round(time.Millisecond)))
	sb.WriteString("Records:\n")
	sb.WriteString(fmt.Sprintf("  %-24s %d\n", "Read:", c.Read))
	sb.WriteString(fmt.Sprintf("  %-24s %d\n", "Emitted:", c.Emitted))
	sb.WriteString(fmt.Sprintf("  %-24s %d\n", "Filtered (link errors):", c.Filtered))
	sb.WriteString(fmt.Sprintf("  %-24s %d\n", "Skipped (not a DLLP):", c.NonDLLP))
	sb.WriteString(fmt.Sprintf("  %-24s %d\n", "Payload bytes:", c.PayloadBytes))

	if len(snap.Classifications) > 0 {
		sb.WriteString("TLP types:\n")
		var total uint64
		for _, name := range r.collector.SortedClassifications() {
			count := snap.Classifications[name]
			sb.WriteString(fmt.Sprintf("  %-24s %d\n", name+":", count))
			total += count
		}
		sb.WriteString(fmt.Sprintf("  %-24s %d\n", "Total:", total))
	}

	if span := snap.CaptureSpanNS(); span > 0 {
		sb.WriteString(fmt.Sprintf("Capture span: %s\n", time.Duration(span)))
	}
	return sb.String()
}

// ExportJSON exports statistics to a JSON file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	snap := r.collector.Snapshot()
	export := map[string]interface{}{
		"start_time":   snap.StartTime.Format(time.RFC3339),
		"end_time":     snap.EndTime.Format(time.RFC3339),
		"duration_sec": snap.Duration().Seconds(),
		"records": map[string]interface{}{
			"read":          snap.Counters.Read,
			"emitted":       snap.Counters.Emitted,
			"filtered":      snap.Counters.Filtered,
			"non_dllp":      snap.Counters.NonDLLP,
			"payload_bytes": snap.Counters.PayloadBytes,
		},
		"tlp_types":       snap.Classifications,
		"capture_span_ns": snap.CaptureSpanNS(),
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}
