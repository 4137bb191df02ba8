package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"padtrace/internal/config"
	"padtrace/internal/export"
	"padtrace/internal/pad"
	"padtrace/internal/render"
	"padtrace/internal/stats"
	"padtrace/internal/trace"
	"padtrace/pkg/types"
)

var (
	version   = "1.0.0"
	cfgFile   string
	statsOnly bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "padtrace [flags] <capture.pad>",
		Short: "PCIe analyzer capture decoder - render PAD files as DLLP/TLP traces",
		Long: `A tool that decodes Protocol Analyzer Data (.pad) capture files produced by
Agilent/Keysight PCIe bus analyzers and renders their records as a
human-readable trace of data link and transaction layer packets.`,
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().String("pad", "", "The Protocol Analyzer Data (.pad) file")
	rootCmd.Flags().String("format", "", "Capture format revision (v1|v2)")
	rootCmd.Flags().BoolP("dllp", "l", false, "Display DLLP info")
	rootCmd.Flags().BoolP("tlp", "t", false, "Display TLP info")
	rootCmd.Flags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.Flags().BoolP("filter-errors", "e", false, "Filter out records with errors")
	rootCmd.Flags().String("export-pcapng", "", "Write surviving records to a pcapng file")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("stats-json", "", "Export statistics to a JSON file")
	rootCmd.Flags().BoolVar(&statsOnly, "stats-only", false, "Show TLP type statistics only, do not render records")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	// Load config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK if using CLI flags
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Bind CLI flags (override config file values)
	bindViperFlags(v, cmd)

	// The capture file may be given as a positional argument.
	if len(args) == 1 {
		v.Set("input.pad_file", args[0])
	}

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logging
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	f, err := pad.Open(cfg.Input.PadFile, cfg.Layout())
	if err != nil {
		return err
	}
	defer f.Close()

	log.WithFields(log.Fields{
		"module": f.Header.ModuleType,
		"port":   f.Header.PortID,
	}).Info("Capture file opened")

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	opts := trace.Options{
		FilterErrors:   cfg.Filter.Errors,
		DecodeProtocol: cfg.Display.DLLP || cfg.Display.TLP || statsOnly,
	}
	renderOpts := render.Options{
		DLLP:   cfg.Display.DLLP,
		TLP:    cfg.Display.TLP,
		Debug:  cfg.Display.Debug,
		Layout: cfg.Layout(),
	}

	var exporter *export.PcapngWriter
	if cfg.Export.PcapngFile != "" {
		out, err := os.Create(cfg.Export.PcapngFile)
		if err != nil {
			return fmt.Errorf("failed to create pcapng file: %w", err)
		}
		defer out.Close()

		exporter, err = export.NewPcapngWriter(out, f.Header)
		if err != nil {
			return err
		}
	}

	collector := stats.NewCollector()
	reader := f.NewTraceReader(opts)

	runErr := reader.Run(ctx, func(rec *types.TraceRecord) error {
		collector.RecordEmitted(rec)
		if exporter != nil {
			if err := exporter.WriteRecord(rec); err != nil {
				return err
			}
		}
		if !statsOnly {
			fmt.Println(render.Record(rec, renderOpts))
		}
		return nil
	})
	collector.SetCounters(reader.Counters())

	if exporter != nil {
		if err := exporter.Flush(); err != nil {
			return fmt.Errorf("failed to flush pcapng file: %w", err)
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			log.Info("Decode interrupted by shutdown")
		} else {
			return runErr
		}
	}

	if cfg.Stats.Enabled || statsOnly {
		reporter := stats.NewReporter(collector, cfg.Stats.ExportFile)
		reporter.PrintFinalReport()
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}

	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("pad") {
		val, _ := cmd.Flags().GetString("pad")
		v.Set("input.pad_file", val)
	}
	if cmd.Flags().Changed("format") {
		val, _ := cmd.Flags().GetString("format")
		v.Set("input.format", val)
	}
	if cmd.Flags().Changed("dllp") {
		val, _ := cmd.Flags().GetBool("dllp")
		v.Set("display.dllp", val)
	}
	if cmd.Flags().Changed("tlp") {
		val, _ := cmd.Flags().GetBool("tlp")
		v.Set("display.tlp", val)
	}
	if cmd.Flags().Changed("debug") {
		val, _ := cmd.Flags().GetBool("debug")
		v.Set("display.debug", val)
	}
	if cmd.Flags().Changed("filter-errors") {
		val, _ := cmd.Flags().GetBool("filter-errors")
		v.Set("filter.errors", val)
	}
	if cmd.Flags().Changed("export-pcapng") {
		val, _ := cmd.Flags().GetString("export-pcapng")
		v.Set("export.pcapng_file", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("stats-json") {
		val, _ := cmd.Flags().GetString("stats-json")
		v.Set("stats.export_file", val)
		v.Set("stats.enabled", true)
	}
}
