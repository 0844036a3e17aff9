// Package config loads the engine's configuration record from a
// key=value file, environment variables, and CLI flags via
// spf13/viper, matching the teacher's cmd/global-query/cmd layering of
// viper over cobra flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Key names, matching spec.md §6's configuration table one-to-one.
const (
	Contexts = "contexts"

	Bidir = "bidir"
	NAT   = "nat"

	IdleTimeoutMs     = "idle_timeout_ms"
	PreemptiveTimeout = "preemptive_timeout"
	NumPkts           = "num_pkts"

	AnonAddrsFile = "anon_addrs_file"
	AnonHTTPFile  = "anon_http_file"
	Keyfile       = "keyfile"

	ReportTLS     = "report_tls"
	ReportDNS     = "report_dns"
	ReportHTTP    = "report_http"
	ReportEntropy = "report_entropy"
	ReportDist    = "report_dist"
	ReportWHT     = "report_wht"
	ReportHD      = "report_hd"
	ReportExe     = "report_exe"

	Verbosity = "verbosity"

	Input          = "input"
	Output         = "output"
	OutputCompress = "output_compress"
)

// Config is the fully resolved engine configuration, per spec.md §6.
type Config struct {
	Contexts int `mapstructure:"contexts"`

	Bidir bool `mapstructure:"bidir"`
	NAT   bool `mapstructure:"nat"`

	IdleTimeoutMs     int `mapstructure:"idle_timeout_ms"`
	PreemptiveTimeout int `mapstructure:"preemptive_timeout"`
	NumPkts           int `mapstructure:"num_pkts"`

	AnonAddrsFile string `mapstructure:"anon_addrs_file"`
	AnonHTTPFile  string `mapstructure:"anon_http_file"`
	Keyfile       string `mapstructure:"keyfile"`

	ReportTLS     bool `mapstructure:"report_tls"`
	ReportDNS     bool `mapstructure:"report_dns"`
	ReportHTTP    bool `mapstructure:"report_http"`
	ReportEntropy bool `mapstructure:"report_entropy"`
	ReportDist    bool `mapstructure:"report_dist"`
	ReportWHT     bool `mapstructure:"report_wht"`
	ReportHD      bool `mapstructure:"report_hd"`
	ReportExe     bool `mapstructure:"report_exe"`

	Verbosity string `mapstructure:"verbosity"`

	Input          string `mapstructure:"input"`
	Output         string `mapstructure:"output"`
	OutputCompress bool   `mapstructure:"output_compress"`
}

// SetDefaults installs every key's default value on v, so a freshly
// created viper.Viper behaves sanely with zero configuration supplied.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(Contexts, 4)
	v.SetDefault(Bidir, true)
	v.SetDefault(NAT, false)
	v.SetDefault(IdleTimeoutMs, 30000)
	v.SetDefault(PreemptiveTimeout, 0)
	v.SetDefault(NumPkts, 10)
	v.SetDefault(ReportTLS, true)
	v.SetDefault(ReportDNS, false)
	v.SetDefault(ReportHTTP, false)
	v.SetDefault(ReportEntropy, false)
	v.SetDefault(ReportDist, false)
	v.SetDefault(ReportWHT, false)
	v.SetDefault(ReportHD, false)
	v.SetDefault(ReportExe, false)
	v.SetDefault(Verbosity, "info")
	v.SetDefault(OutputCompress, false)
}

// Load resolves the Config from the package-level viper instance,
// into which the CLI layer has already bound cobra flags; Load installs
// the defaults itself via SetDefaults (matching the teacher's cmd/global-query/cmd layering:
// flags bound via viper.BindPFlag, then overlaid with an optional
// config file and environment). cfgFile, if non-empty, is read in
// before resolving.
func Load(cfgFile string) (*Config, error) {
	SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	viper.SetEnvPrefix("tlsflow")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if c.Contexts < 1 {
		return nil, fmt.Errorf("config: contexts must be >= 1, got %d", c.Contexts)
	}
	return &c, nil
}
