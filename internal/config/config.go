// Package config assembles the mirror configuration from defaults, an optional YAML
// file, the environment and the command line, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	syncevent "github.com/ortelius/nvd-mirror/events/modules/sync"
	"github.com/ortelius/nvd-mirror/internal/nvd"
	"github.com/ortelius/nvd-mirror/model"
	"github.com/ortelius/nvd-mirror/util"
	"gopkg.in/yaml.v2"
)

// ErrHelp is returned by Load when -h or --help was requested
var ErrHelp = flag.ErrHelp

// Config is the complete configuration of a mirror run
type Config struct {
	Path string `yaml:"path"`

	// Mode selection, at most one may be set
	Resync  bool   `yaml:"-"`
	CVEID   string `yaml:"-"`
	MatchID string `yaml:"-"`

	APIURL         string        `yaml:"api_url"`
	RetryMax       uint64        `yaml:"retry_max"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	MetricsFile    string        `yaml:"metrics_file"`
	Trace          bool          `yaml:"trace"`

	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig selects where sync events are published. Events are disabled without brokers.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	APIKey    string   `yaml:"-"`
	APISecret string   `yaml:"-"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		APIURL:         nvd.DefaultBaseURL,
		RetryMax:       nvd.DefaultRetryMax,
		RetryInterval:  nvd.DefaultRetryInterval,
		RequestTimeout: nvd.DefaultRequestTimeout,
		LogLevel:       "info",
		Kafka:          KafkaConfig{Topic: syncevent.DefaultTopic},
	}
}

// Mode returns the sync mode selected by the flags
func (c Config) Mode() model.SyncMode {
	switch {
	case c.Resync:
		return model.ModeResync
	case util.IsNotEmpty(c.CVEID), util.IsNotEmpty(c.MatchID):
		return model.ModeSingle
	}
	return model.ModeIncremental
}

// Validate checks the fields a run cannot do without
func (c Config) Validate() error {
	if util.IsEmpty(c.Path) {
		return errors.New("repository PATH is required")
	}

	modes := 0
	for _, set := range []bool{c.Resync, util.IsNotEmpty(c.CVEID), util.IsNotEmpty(c.MatchID)} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("--resync, --cveid and --matchid are mutually exclusive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("retry interval must not be negative, got %s", c.RetryInterval)
	}
	if util.IsEmpty(c.APIURL) {
		return errors.New("NVD API url is empty")
	}
	return nil
}

// flags that consume the following argument as their value
var takesValue = map[string]bool{
	"config": true, "c": true, "cveid": true, "m": true, "matchid": true,
	"api-url": true, "retry-max": true, "retry-interval": true, "timeout": true,
	"log-level": true, "metrics-file": true,
}

// reorderArgs moves flags ahead of positional arguments, since the flag package stops
// at the first positional one and PATH may come first.
func reorderArgs(args []string) []string {
	var flagArgs, posArgs []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			posArgs = append(posArgs, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			posArgs = append(posArgs, arg)
			continue
		}

		flagArgs = append(flagArgs, arg)
		name := strings.TrimLeft(strings.SplitN(arg, "=", 2)[0], "-")
		if !strings.Contains(arg, "=") && takesValue[name] && i+1 < len(args) {
			flagArgs = append(flagArgs, args[i+1])
			i++
		}
	}
	return append(flagArgs, posArgs...)
}

// Load builds the configuration for args, the command line without the program name.
// Usage and parse errors are written to stderr.
func Load(args []string, stderr io.Writer) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("nvd-mirror", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: nvd-mirror [flags] PATH")
		fmt.Fprintln(fs.Output(), "Mirror the NVD CVE and CPE match criteria collections into PATH.")
		fmt.Fprintln(fs.Output(), "Without a mode flag an incremental sync of both collections is run.")
		fs.PrintDefaults()
	}

	configFile := fs.String("config", util.GetEnvDefault("NVD_MIRROR_CONFIG", ""), "YAML configuration file")
	var (
		resync, trace                 bool
		cveID, matchID                string
		apiURL, logLevel, metricsFile string
		retryMax                      uint64
		retryInterval, timeout        time.Duration
	)
	for _, name := range []string{"resync", "r"} {
		fs.BoolVar(&resync, name, false, "refetch both collections and reseed syncdate.json")
	}
	for _, name := range []string{"cveid", "c"} {
		fs.StringVar(&cveID, name, "", "sync a single CVE by identifier")
	}
	for _, name := range []string{"matchid", "m"} {
		fs.StringVar(&matchID, name, "", "sync a single CPE match criteria by identifier")
	}
	fs.StringVar(&apiURL, "api-url", "", "NVD API base url (NVD_API_URL)")
	fs.Uint64Var(&retryMax, "retry-max", 0, "retries per page request (NVD_RETRY_MAX)")
	fs.DurationVar(&retryInterval, "retry-interval", 0, "wait between retries (NVD_RETRY_INTERVAL)")
	fs.DurationVar(&timeout, "timeout", 0, "timeout of each HTTP request (NVD_REQUEST_TIMEOUT)")
	fs.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (NVD_LOG_LEVEL)")
	fs.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file (NVD_METRICS_FILE)")
	fs.BoolVar(&trace, "trace", false, "print OpenTelemetry spans to stderr (NVD_TRACE)")

	if err := fs.Parse(reorderArgs(args)); err != nil {
		return cfg, err
	}

	if util.IsNotEmpty(*configFile) {
		if err := cfg.loadFile(*configFile); err != nil {
			return cfg, err
		}
	}
	cfg.loadEnv()

	// Only flags present on the command line override the lower layers.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "resync", "r":
			cfg.Resync = resync
		case "cveid", "c":
			cfg.CVEID = strings.TrimSpace(cveID)
		case "matchid", "m":
			cfg.MatchID = strings.TrimSpace(matchID)
		case "api-url":
			cfg.APIURL = apiURL
		case "retry-max":
			cfg.RetryMax = retryMax
		case "retry-interval":
			cfg.RetryInterval = retryInterval
		case "timeout":
			cfg.RequestTimeout = timeout
		case "log-level":
			cfg.LogLevel = logLevel
		case "metrics-file":
			cfg.MetricsFile = metricsFile
		case "trace":
			cfg.Trace = trace
		}
	})

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Path = fs.Arg(0)
	default:
		return cfg, fmt.Errorf("expected a single PATH, got %q", fs.Args())
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.APIURL = util.GetEnvDefault("NVD_API_URL", c.APIURL)
	if n := util.GetEnvInt("NVD_RETRY_MAX", -1); n >= 0 {
		c.RetryMax = uint64(n)
	}
	c.RetryInterval = util.GetEnvDuration("NVD_RETRY_INTERVAL", c.RetryInterval)
	c.RequestTimeout = util.GetEnvDuration("NVD_REQUEST_TIMEOUT", c.RequestTimeout)
	c.LogLevel = util.GetEnvDefault("NVD_LOG_LEVEL", c.LogLevel)
	c.MetricsFile = util.GetEnvDefault("NVD_METRICS_FILE", c.MetricsFile)
	c.Trace = util.GetEnvBool("NVD_TRACE", c.Trace)

	if brokers, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = util.SplitList(brokers)
	}
	c.Kafka.Topic = util.GetEnvDefault("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.APIKey = util.GetEnvDefault("KAFKA_API_KEY", c.Kafka.APIKey)
	c.Kafka.APISecret = util.GetEnvDefault("KAFKA_API_SECRET", c.Kafka.APISecret)
}
