package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/ini.v1"

	"github.com/Travis-Britz/cfddns"
)

// Config holds everything the cfddns command needs for one run.
type Config struct {
	Token          string // Cloudflare API token; never logged
	KeyFile        string // file holding the token when Token is empty
	Zone           string
	Record         string
	IP             string // fixed address instead of discovery
	Interface      string // read the address from this interface instead of discovery
	Providers      []string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	DryRun         bool
	Verbose        bool
	ConfigFile     string
}

// Load builds the configuration from, in order of priority,
// command line flags, environment variables, an optional INI file and defaults.
//
// A .env file in the working directory is loaded into the environment first if it exists.
// Variables already present in the environment are not overridden by it.
func Load(args []string, stderr io.Writer) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("cfddns", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("token", "", "Cloudflare API token (env CLOUDFLARE_API_TOKEN)")
	fs.String("k", "", "Path to cloudflare API credentials file (env DDNS_KEY_FILE, default $HOME/.cloudflare)")
	fs.String("zone", "", "Name of the zone holding the record, e.g. example.com (env DDNS_ZONE)")
	fs.String("record", "", "Full name of the DNS record to update, e.g. home.example.com (env DDNS_RECORD)")
	fs.String("ip", "", "IP address to set instead of discovering it (env DDNS_IP)")
	fs.String("iface", "", "Use the address of this network interface instead of discovering it (env DDNS_INTERFACE)")
	fs.String("providers", "", "Comma separated public IP services, in priority order (env DDNS_PROVIDERS)")
	fs.String("connect-timeout", "", "Timeout for establishing connections (env DDNS_CONNECT_TIMEOUT, default 5s)")
	fs.String("timeout", "", "Timeout for each HTTP request (env DDNS_TIMEOUT, default 15s)")
	fs.Bool("n", false, "Dry run: report what would change without updating the record (env DDNS_DRY_RUN)")
	fs.Bool("v", false, "Enable verbose logging (env DDNS_VERBOSE)")
	fs.String("c", "", "Path to an INI configuration file (env DDNS_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	src := source{flags: map[string]string{}}
	fs.Visit(func(f *flag.Flag) {
		src.flags[f.Name] = f.Value.String()
	})

	cfg := &Config{ConfigFile: src.value("c", "DDNS_CONFIG", "", "", "")}
	if cfg.ConfigFile != "" {
		file, err := ini.Load(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load INI file: %w", err)
		}
		src.file = file
	}

	home, _ := os.UserHomeDir()
	cfg.Token = src.value("token", "CLOUDFLARE_API_TOKEN", "cloudflare", "token", "")
	cfg.KeyFile = src.value("k", "DDNS_KEY_FILE", "cloudflare", "key_file", filepath.Join(home, ".cloudflare"))
	cfg.Zone = strings.TrimSuffix(src.value("zone", "DDNS_ZONE", "ddns", "zone", ""), ".")
	cfg.Record = strings.TrimSuffix(src.value("record", "DDNS_RECORD", "ddns", "record", ""), ".")
	cfg.IP = src.value("ip", "DDNS_IP", "ddns", "ip", "")
	cfg.Interface = src.value("iface", "DDNS_INTERFACE", "ddns", "interface", "")
	cfg.Providers = splitList(src.value("providers", "DDNS_PROVIDERS", "ddns", "providers", strings.Join(cfddns.DefaultProviders, ",")))

	var err error
	if cfg.ConnectTimeout, err = src.duration("connect-timeout", "DDNS_CONNECT_TIMEOUT", "http", "connect_timeout", cfddns.DefaultConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = src.duration("timeout", "DDNS_TIMEOUT", "http", "timeout", cfddns.DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = src.bool("n", "DDNS_DRY_RUN", "ddns", "dry_run"); err != nil {
		return nil, err
	}
	if cfg.Verbose, err = src.bool("v", "DDNS_VERBOSE", "log", "verbose"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first problem that would make a run pointless.
func (c *Config) Validate() error {
	if c.Zone == "" {
		return errors.New("zone cannot be empty")
	}
	if c.Record == "" {
		return errors.New("record cannot be empty")
	}
	zone, record := strings.ToLower(c.Zone), strings.ToLower(c.Record)
	if record != zone && !strings.HasSuffix(record, "."+zone) {
		return fmt.Errorf("record %q is not inside zone %q", c.Record, c.Zone)
	}
	if c.IP != "" && c.Interface != "" {
		return errors.New("ip and interface cannot both be set")
	}
	if c.IP != "" {
		if _, err := netip.ParseAddr(c.IP); err != nil {
			return fmt.Errorf("invalid ip: %w", err)
		}
	}
	if c.IP == "" && c.Interface == "" && len(c.Providers) == 0 {
		return errors.New("at least one IP lookup service is required")
	}
	if c.ConnectTimeout <= 0 || c.Timeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// source resolves a setting with priority: flag > environment > INI file > default.
type source struct {
	flags map[string]string
	file  *ini.File
}

func (s source) value(flagName, envKey, section, key, defaultValue string) string {
	if value, ok := s.flags[flagName]; ok && value != "" {
		return value
	}
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if s.file != nil && key != "" {
		if value := s.file.Section(section).Key(key).String(); value != "" {
			return value
		}
	}
	return defaultValue
}

func (s source) duration(flagName, envKey, section, key string, defaultValue time.Duration) (time.Duration, error) {
	value := s.value(flagName, envKey, section, key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", flagName, err)
	}
	return d, nil
}

func (s source) bool(flagName, envKey, section, key string) (bool, error) {
	value := s.value(flagName, envKey, section, key, "false")
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", flagName, err)
	}
	return b, nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}
