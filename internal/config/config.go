// Package config loads the server configuration. Values come from a YAML
// file, OBSERVATORYD_* environment variables and defaults, in that order
// of increasing precedence for env over file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Server is the top-level configuration.
type Server struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	Threaded bool   `mapstructure:"threaded"`

	Gateway   Gateway   `mapstructure:"gateway"`
	Auth      Auth      `mapstructure:"auth"`
	Devices   Devices   `mapstructure:"devices"`
	DeviceHub DeviceHub `mapstructure:"devicehub"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	Solver    Solver    `mapstructure:"solver"`
}

// Gateway tunes the WebSocket endpoint.
type Gateway struct {
	MaxConnections int           `mapstructure:"maxConnections"`
	QueueLimit     int           `mapstructure:"queueLimit"`
	CallTimeout    time.Duration `mapstructure:"callTimeout"`
}

// Auth configures session authentication. An empty secret runs the
// server open.
type Auth struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"tokenTTL"`
	Users    []AuthUser    `mapstructure:"users"`
}

// AuthUser is one static account; Hash is bcrypt.
type AuthUser struct {
	Name string `mapstructure:"name"`
	Hash string `mapstructure:"hash"`
}

// Devices tunes the per-device managers.
type Devices struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ArtifactDir  string        `mapstructure:"artifactDir"`
	ProfileDir   string        `mapstructure:"profileDir"`
}

// DeviceHub configures the managed INDI server.
type DeviceHub struct {
	Enabled     bool   `mapstructure:"enabled"`
	DataDir     string `mapstructure:"dataDir"`
	FIFOPath    string `mapstructure:"fifoPath"`
	ConfigDir   string `mapstructure:"configDir"`
	ProfileDB   string `mapstructure:"profileDB"`
	ListenHost  string `mapstructure:"listenHost"`
	ListenPort  int    `mapstructure:"listenPort"`
	HealthEvery time.Duration `mapstructure:"healthInterval"`
}

// Telemetry configures the MQTT event mirror.
type Telemetry struct {
	BrokerURL   string `mapstructure:"brokerURL"`
	ClientID    string `mapstructure:"clientID"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topicPrefix"`
}

// Solver selects and configures the plate solver.
type Solver struct {
	// Mode is "online" or "offline".
	Mode   string `mapstructure:"mode"`
	APIKey string `mapstructure:"apiKey"`
	Binary string `mapstructure:"binary"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8600)
	v.SetDefault("debug", false)
	v.SetDefault("threaded", true)

	v.SetDefault("gateway.maxConnections", 10)
	v.SetDefault("gateway.queueLimit", 64)
	v.SetDefault("gateway.callTimeout", 30*time.Second)

	v.SetDefault("auth.tokenTTL", 24*time.Hour)

	v.SetDefault("devices.pollInterval", 250*time.Millisecond)
	v.SetDefault("devices.timeout", 30*time.Second)
	v.SetDefault("devices.artifactDir", "images")
	v.SetDefault("devices.profileDir", "config/deviceprofiles")

	v.SetDefault("devicehub.enabled", false)
	v.SetDefault("devicehub.dataDir", "/usr/share/indi")
	v.SetDefault("devicehub.fifoPath", "/tmp/indiFIFO")
	v.SetDefault("devicehub.configDir", "/tmp/indi")
	v.SetDefault("devicehub.profileDB", "config/indiweb/profiles.db")
	v.SetDefault("devicehub.listenHost", "0.0.0.0")
	v.SetDefault("devicehub.listenPort", 8624)
	v.SetDefault("devicehub.healthInterval", 10*time.Second)

	v.SetDefault("telemetry.topicPrefix", "observatory")

	v.SetDefault("solver.mode", "offline")
	v.SetDefault("solver.binary", "solve-field")
}

// Load reads the configuration. path may be empty, in which case the
// defaults plus environment variables apply.
func Load(path string) (*Server, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("OBSERVATORYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.PersistenceError, err, "reading config %s", path)
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "decoding config")
	}
	return &cfg, nil
}
