package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "HWSENTRY"
	DefaultLogLevel  = "info"

	defaultInterval        = 60
	defaultDatabase        = "/var/lib/hwsentry/hwsentry.db"
	defaultModelDir        = "/var/lib/hwsentry/models"
	defaultTrainingSamples = 300
	defaultTrainingTimeout = 300
	defaultRetentionDays   = 90
	defaultPIDFile         = "/run/hwsentry.pid"
	minTrainingSamples     = 50
	minRetentionDays       = 30
	configName             = "hwsentry"
	configType             = "toml"
	configEnvSuffix        = "_CONFIG"
)

type Config struct {
	Interval       int            `mapstructure:"interval"`
	LogLevel       string         `mapstructure:"log_level"`
	Database       string         `mapstructure:"database"`
	ModelDir       string         `mapstructure:"model_dir"`
	Training       TrainingConfig `mapstructure:"training"`
	RetentionDays  int            `mapstructure:"retention_days"`
	MetricsAddress string         `mapstructure:"metrics_address"`
	Sensors        SensorsConfig  `mapstructure:"sensors"`
	PIDFile        string         `mapstructure:"pid_file"`

	// Args are the positional command line arguments.
	Args []string `mapstructure:"-"`
}

type TrainingConfig struct {
	Samples int `mapstructure:"samples"`
	// Interval between automatic retrainings in seconds, 0 disables them.
	Interval int  `mapstructure:"interval"`
	OnStart  bool `mapstructure:"on_start"`
	Timeout  int  `mapstructure:"timeout"`
}

type SensorsConfig struct {
	GPU          bool `mapstructure:"gpu"`
	SimulateFans bool `mapstructure:"simulate_fans"`
}

func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

func (c TrainingConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

func (c TrainingConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"interval":          "interval",
	"log-level":         "log_level",
	"database":          "database",
	"model-dir":         "model_dir",
	"training-samples":  "training.samples",
	"training-interval": "training.interval",
	"train-on-start":    "training.on_start",
	"training-timeout":  "training.timeout",
	"retention-days":    "retention_days",
	"metrics-address":   "metrics_address",
	"gpu":               "sensors.gpu",
	"simulate-fans":     "sensors.simulate_fans",
	"pid-file":          "pid_file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("database", defaultDatabase)
	v.SetDefault("model_dir", defaultModelDir)
	v.SetDefault("training.samples", defaultTrainingSamples)
	v.SetDefault("training.interval", 0)
	v.SetDefault("training.on_start", false)
	v.SetDefault("training.timeout", defaultTrainingTimeout)
	v.SetDefault("retention_days", defaultRetentionDays)
	v.SetDefault("metrics_address", "")
	v.SetDefault("sensors.gpu", true)
	v.SetDefault("sensors.simulate_fans", false)
	v.SetDefault("pid_file", defaultPIDFile)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to configuration file")
	fs.Int("interval", defaultInterval, "Seconds between samples")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("database", defaultDatabase, "Path to the sqlite database")
	fs.String("model-dir", defaultModelDir, "Directory for trained model artifacts")
	fs.Int("training-samples", defaultTrainingSamples, "Number of recent samples used for training")
	fs.Int("training-interval", 0, "Seconds between automatic retrainings (0 disables)")
	fs.Bool("train-on-start", false, "Train a model on startup")
	fs.Int("training-timeout", defaultTrainingTimeout, "Training timeout in seconds")
	fs.Int("retention-days", defaultRetentionDays, "Days of samples kept by cleanup")
	fs.String("metrics-address", "", "Listen address for Prometheus metrics (empty disables)")
	fs.Bool("gpu", true, "Read NVIDIA GPU telemetry")
	fs.Bool("simulate-fans", false, "Use tagged synthetic fan readings when no fan sensor exists")
	fs.String("pid-file", defaultPIDFile, "Path to the PID file")
	return fs
}

// Load reads defaults, the configuration file, the environment and command
// line flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o *options) error {
	errFactory := errors.New()

	path := o.configPath
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + configEnvSuffix)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath("/etc/hwsentry")
	v.AddConfigPath("/etc")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Training.Samples < minTrainingSamples {
		return errFactory.WithData(errors.ErrInvalidSamples, c.Training.Samples)
	}
	if c.Training.Interval < 0 || c.Training.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Training)
	}
	if c.RetentionDays < minRetentionDays {
		return errFactory.WithData(errors.ErrInvalidRetention, c.RetentionDays)
	}
	if c.Database == "" || c.ModelDir == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "database and model_dir are required")
	}

	return nil
}
