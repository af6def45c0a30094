// Package config loads server settings from flags, an optional config file,
// an optional .env file and LUMEN_* environment variables, in that order of
// precedence (flags first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "LUMEN"

type Config struct {
	HTTPAddr string
	GRPCAddr string

	// DB
	Env      string // "dev" | "prod"
	DBPath   string // e.g. "./data/lumen.db"
	SeedFile string // optional YAML layout applied at startup

	Debug bool

	// Live sessions
	SessionHeartbeat time.Duration
	SessionIdle      time.Duration
	SessionOrigins   []string

	// Debouncer
	DebounceWindow time.Duration
	DebounceMaxAge time.Duration

	// Periodic jobs
	ShutdownInterval     time.Duration
	ShutdownTimezone     string // IANA name; empty means the host's local zone
	ConnectivityInterval time.Duration

	// History retention
	HistoryRetentionDays int // 0 = keep forever
	HistoryPruneInterval time.Duration

	// Optional transports; empty broker disables them.
	MQTTBroker   string
	MQTTTopic    string
	KafkaBrokers []string
	KafkaTopic   string

	// AuthTokens are "token=subject:role" entries. Empty disables auth.
	AuthTokens []string
}

// Argument is one configuration key with its default and flag help.
type Argument struct {
	Default any
	Help    string
}

// Arguments lists every key the server reads.
var Arguments = map[string]Argument{
	"http.addr":              {Default: ":8080", Help: "HTTP listen address"},
	"grpc.addr":              {Default: ":9090", Help: "gRPC health listen address (empty disables)"},
	"db.env":                 {Default: "dev", Help: "dev or prod; dev seeds a sample layout"},
	"db.path":                {Default: "./data/lumen.db", Help: "SQLite database path"},
	"seed.file":              {Default: "", Help: "YAML room layout applied at startup"},
	"debug":                  {Default: false, Help: "Log debug messages"},
	"session.heartbeat":      {Default: 30 * time.Second, Help: "Heartbeat interval on live sessions and for controllers"},
	"session.idle":           {Default: 90 * time.Second, Help: "Silence after which a session peer is reported idle"},
	"session.origins":        {Default: "", Help: "Comma-separated allowed browser origins for sessions"},
	"debounce.window":        {Default: 2 * time.Second, Help: "Coalescing window for device reports"},
	"debounce.max_age":       {Default: 60 * time.Second, Help: "Pending reports older than this are dropped"},
	"shutdown.interval":      {Default: time.Minute, Help: "Automatic shutdown evaluation interval"},
	"shutdown.timezone":      {Default: "", Help: "Time zone for work hours (IANA name)"},
	"connectivity.interval":  {Default: time.Minute, Help: "Connectivity sweep interval"},
	"history.retention_days": {Default: 90, Help: "Days of sensor history to keep (0 keeps all)"},
	"history.prune_interval": {Default: 6 * time.Hour, Help: "History retention sweep interval"},
	"mqtt.broker":            {Default: "", Help: "MQTT broker URL (empty disables the bridge)"},
	"mqtt.topic":             {Default: "lumen", Help: "MQTT topic prefix"},
	"kafka.brokers":          {Default: "", Help: "Comma-separated Kafka brokers (empty disables publishing)"},
	"kafka.topic":            {Default: "lumen.history", Help: "Kafka topic for sensor history"},
	"auth.tokens":            {Default: "", Help: "Comma-separated token=subject:role entries"},
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	for key, arg := range Arguments {
		v.SetDefault(key, arg.Default)
	}
}

// Init prepares v: defaults, environment binding, the optional .env file
// and the optional config file. A missing config file is only an error
// when it was named explicitly.
func Init(v *viper.Viper, configFile, envFile string) error {
	SetDefaults(v)

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("lumen")
	v.AddConfigPath("/etc/lumen/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load reads every key from v. Bad values fall back to their defaults the
// same way unknown environments fall back to dev.
func Load(v *viper.Viper) Config {
	env := strings.ToLower(strings.TrimSpace(v.GetString("db.env")))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: v.GetString("http.addr"),
		GRPCAddr: v.GetString("grpc.addr"),

		Env:      env,
		DBPath:   v.GetString("db.path"),
		SeedFile: strings.TrimSpace(v.GetString("seed.file")),

		Debug: v.GetBool("debug"),

		SessionHeartbeat: duration(v, "session.heartbeat"),
		SessionIdle:      duration(v, "session.idle"),
		SessionOrigins:   stringList(v, "session.origins"),

		DebounceWindow: duration(v, "debounce.window"),
		DebounceMaxAge: duration(v, "debounce.max_age"),

		ShutdownInterval:     duration(v, "shutdown.interval"),
		ShutdownTimezone:     strings.TrimSpace(v.GetString("shutdown.timezone")),
		ConnectivityInterval: duration(v, "connectivity.interval"),

		HistoryRetentionDays: nonNegativeInt(v, "history.retention_days"),
		HistoryPruneInterval: duration(v, "history.prune_interval"),

		MQTTBroker:   strings.TrimSpace(v.GetString("mqtt.broker")),
		MQTTTopic:    strings.TrimSpace(v.GetString("mqtt.topic")),
		KafkaBrokers: stringList(v, "kafka.brokers"),
		KafkaTopic:   strings.TrimSpace(v.GetString("kafka.topic")),

		AuthTokens: stringList(v, "auth.tokens"),
	}
}

// Location resolves ShutdownTimezone.
func (c Config) Location() (*time.Location, error) {
	if c.ShutdownTimezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.ShutdownTimezone)
}

func duration(v *viper.Viper, key string) time.Duration {
	d := v.GetDuration(key)
	if d <= 0 {
		if def, ok := Arguments[key].Default.(time.Duration); ok {
			return def
		}
	}
	return d
}

func nonNegativeInt(v *viper.Viper, key string) int {
	n := v.GetInt(key)
	if n < 0 {
		if def, ok := Arguments[key].Default.(int); ok {
			return def
		}
		return 0
	}
	return n
}

// stringList accepts either a YAML list or a comma-separated string, which
// is the only form an environment variable can carry.
func stringList(v *viper.Viper, key string) []string {
	switch val := v.Get(key).(type) {
	case []string:
		return splitCSV(strings.Join(val, ","))
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return splitCSV(strings.Join(parts, ","))
	default:
		return splitCSV(v.GetString(key))
	}
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
