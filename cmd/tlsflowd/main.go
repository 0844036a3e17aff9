// Command tlsflowd runs the passive flow analyzer against an offline
// pcap file, emitting newline-delimited JSON flow records to stdout or
// a file. Flag/config layering follows the teacher's
// cmd/global-query/cmd pattern: cobra flags bound into a single viper
// instance.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tlsflow/tlsflow/pkg/config"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)

	var capErr *captureError
	if errors.As(err, &capErr) {
		os.Exit(2)
	}
	os.Exit(1)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tlsflowd",
		Short:         "Passive TLS-aware flow analyzer",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runEntrypoint,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a key=value configuration file")
	flags.String("input", "", "pcap file to read (required)")
	flags.String("output", "", "output file; empty means stdout")
	flags.Bool("output-compress", false, "zstd-compress the output stream")
	flags.Int("contexts", 4, "number of independent flow-table shards")
	flags.Bool("bidir", true, "store flows bidirectionally")
	flags.Bool("nat", false, "use NAT-resilient key normalization")
	flags.Int("idle-timeout-ms", 30000, "flow idle timeout, in milliseconds")
	flags.Int("preemptive-timeout", 0, "application-idle preemptive timeout, in milliseconds (0 disables)")
	flags.String("keyfile", "", "anonymization keyfile path (enables anonymization when set)")
	flags.String("anon-addrs-file", "", "subnet list to anonymize")
	flags.String("anon-http-file", "", "HTTP username list to anonymize")
	flags.String("verbosity", "info", "log level")
	flags.Bool("report-tls", true, "enable the TLS observer")
	flags.Bool("report-dns", false, "enable the DNS question/answer observer")
	flags.Bool("report-dist", false, "enable the byte-distribution observer")
	flags.Bool("report-entropy", false, "enable the byte-distribution observer (same as --report-dist; its output always includes entropy)")
	flags.Bool("report-http", false, "accepted for config compatibility; no HTTP observer is implemented")
	flags.Bool("report-wht", false, "accepted for config compatibility; no Walsh-Hadamard observer is implemented")
	flags.Bool("report-hd", false, "accepted for config compatibility; no header-dictionary observer is implemented")
	flags.Bool("report-exe", false, "accepted for config compatibility; no executable-section observer is implemented")

	_ = viper.BindPFlag(config.Input, flags.Lookup("input"))
	_ = viper.BindPFlag(config.Output, flags.Lookup("output"))
	_ = viper.BindPFlag(config.OutputCompress, flags.Lookup("output-compress"))
	_ = viper.BindPFlag(config.Contexts, flags.Lookup("contexts"))
	_ = viper.BindPFlag(config.Bidir, flags.Lookup("bidir"))
	_ = viper.BindPFlag(config.NAT, flags.Lookup("nat"))
	_ = viper.BindPFlag(config.IdleTimeoutMs, flags.Lookup("idle-timeout-ms"))
	_ = viper.BindPFlag(config.PreemptiveTimeout, flags.Lookup("preemptive-timeout"))
	_ = viper.BindPFlag(config.Keyfile, flags.Lookup("keyfile"))
	_ = viper.BindPFlag(config.AnonAddrsFile, flags.Lookup("anon-addrs-file"))
	_ = viper.BindPFlag(config.AnonHTTPFile, flags.Lookup("anon-http-file"))
	_ = viper.BindPFlag(config.Verbosity, flags.Lookup("verbosity"))
	_ = viper.BindPFlag(config.ReportTLS, flags.Lookup("report-tls"))
	_ = viper.BindPFlag(config.ReportDNS, flags.Lookup("report-dns"))
	_ = viper.BindPFlag(config.ReportDist, flags.Lookup("report-dist"))
	_ = viper.BindPFlag(config.ReportEntropy, flags.Lookup("report-entropy"))
	_ = viper.BindPFlag(config.ReportHTTP, flags.Lookup("report-http"))
	_ = viper.BindPFlag(config.ReportWHT, flags.Lookup("report-wht"))
	_ = viper.BindPFlag(config.ReportHD, flags.Lookup("report-hd"))
	_ = viper.BindPFlag(config.ReportExe, flags.Lookup("report-exe"))

	return root
}

func runEntrypoint(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Input == "" {
		return fmt.Errorf("tlsflowd: --input is required")
	}

	return run(cfg)
}
