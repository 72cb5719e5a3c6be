package config

import (
	"time"

	"github.com/spf13/pflag"
)

type (
	// Config is the root configuration of the relay application.
	Config struct {
		Relay      Relay
		Monitoring Monitoring
		Storage    Storage
		Engagement Engagement
	}
	Relay struct {
		Debug   bool
		Server  Server
		Session Session
	}
	Server struct {
		Address string `fig:"address" default:":8000"`
		Https   bool
		Tls     Tls
	}
	Tls struct {
		Address   string
		Domain    string
		HttpsCert string
		HttpsKey  string
	}
	Session struct {
		// PingInterval keeps idle signal connections alive.
		PingInterval time.Duration `fig:"pinginterval" default:"48s"`
		// Origin restricts signal connections to one Origin header value;
		// empty allows all.
		Origin string
	}
	Monitoring struct {
		Port             int    `fig:"port" default:"6601"`
		URLPrefix        string `fig:"urlprefix"`
		MetricEnabled    bool   `fig:"metricenabled"`
		ProfilingEnabled bool   `fig:"profilingenabled"`
	}
	Storage struct {
		// Sqlite is a path to the database file; empty disables persistence.
		Sqlite string
	}
	Engagement struct {
		QueueSize    int           `fig:"queuesize" default:"256"`
		WriteTimeout time.Duration `fig:"writetimeout" default:"2s"`
	}
)

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

func (s Server) GetAddr() string {
	if s.Https && s.Tls.Address != "" {
		return s.Tls.Address
	}
	return s.Address
}

func NewConfig(path string) (Config, error) {
	var conf Config
	err := LoadConfig(&conf, path)
	return conf, err
}

func (c *Config) ParseFlags() {
	pflag.StringVarP(&c.Relay.Server.Address, "address", "a", c.Relay.Server.Address, "HTTP server address")
	pflag.BoolVarP(&c.Relay.Debug, "debug", "d", c.Relay.Debug, "Enable debug logging")
	pflag.StringVar(&c.Storage.Sqlite, "db", c.Storage.Sqlite, "Path to the sqlite database file")
	pflag.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	pflag.Parse()
}
