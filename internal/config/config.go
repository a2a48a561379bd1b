package config

import (
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	AppName          = "cpufreqctl"
	EnvPrefix        = "CPUFREQCTL"
	DefaultLogLevel  = logger.LevelInfo
	DefaultListen    = "127.0.0.1:7878"
	settingsFileName = "settings.json"
	actionsFileName  = "trigger_actions.json"
	historyFileName  = "history.db"
)

// Config holds daemon options. They are fixed for the lifetime of the
// process; runtime-tunable values live in Store.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	Listen    string `mapstructure:"listen"`
	Settings  string `mapstructure:"settings"`
	Actions   string `mapstructure:"actions"`
	History   bool   `mapstructure:"history"`
	HistoryDB string `mapstructure:"history_db"`
	PIDFile   string `mapstructure:"pid_file"`
	Watch     bool   `mapstructure:"watch"`
}

// Load reads options from the config file, CPUFREQCTL_* environment
// variables and the given command line, in increasing order of precedence.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	flags := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flags.String("config", "", "Path to configuration file")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("listen", DefaultListen, "Control API listen address, empty disables it")
	flags.String("settings", "", "Path to the settings JSON file")
	flags.String("actions", "", "Path to the trigger actions JSON file")
	flags.Bool("history", true, "Record samples and alerts to sqlite")
	flags.String("history-db", "", "Path to the history database")
	flags.String("pid-file", "", "Path to the pid file")
	flags.Bool("watch", true, "Apply external edits of the settings file")

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"log_level":  "log-level",
		"listen":     "listen",
		"settings":   "settings",
		"actions":    "actions",
		"history":    "history",
		"history_db": "history-db",
		"pid_file":   "pid-file",
		"watch":      "watch",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	configPath, _ := flags.GetString("config")
	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("toml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, AppName))
		}
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks option values that cannot be repaired silently.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Settings == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "settings path is empty")
	}
	if c.Actions == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "actions path is empty")
	}
	if c.History && c.HistoryDB == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "history enabled without history_db")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(os.TempDir(), AppName)
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, AppName)
	}

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("settings", filepath.Join(dataDir, settingsFileName))
	v.SetDefault("actions", filepath.Join(dataDir, actionsFileName))
	v.SetDefault("history", true)
	v.SetDefault("history_db", filepath.Join(dataDir, historyFileName))
	v.SetDefault("pid_file", filepath.Join(os.TempDir(), AppName+".pid"))
	v.SetDefault("watch", true)
}
