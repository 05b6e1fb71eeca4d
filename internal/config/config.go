// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/muster/internal/logger"
	"github.com/woozymasta/muster/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server     Server        `group:"Server Options" env-namespace:"MUSTER"`
	Match      Match         `group:"Match Options" namespace:"match" env-namespace:"MUSTER_MATCH"`
	RallyPoint RallyPoint    `group:"Rally Point Options" namespace:"rally" env-namespace:"MUSTER_RALLY"`
	Storage    Storage       `group:"Storage Options" namespace:"db" env-namespace:"MUSTER_DB"`
	GeoIP      GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"MUSTER_GEOIP"`
	RateLimit  RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"MUSTER_RATE_LIMIT"`
	Logger     logger.Config `group:"Logger Options" namespace:"log" env-namespace:"MUSTER_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address        string   `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken      string   `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Matchmaker API authentication token"`
	AllowedOrigins []string `long:"allowed-origin" env:"ALLOWED_ORIGINS" description:"Websocket Origin whitelist (empty allows any)" env-delim:","`
	MaxBodySize    int64    `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"16384"`
	TrustProxy     bool     `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// Match holds match acceptance configuration.
type Match struct {
	AcceptTimeout time.Duration `long:"accept-timeout" env:"ACCEPT_TIMEOUT" description:"Time clients are given to accept a proposed match" default:"10s"`
}

// RallyPoint holds rally-point server configuration.
type RallyPoint struct {
	// betteralign:ignore

	Servers        []string      `short:"r" long:"server" env:"SERVERS" description:"Rally-point server address as host:port, repeatable" env-delim:","`
	ResolveTimeout time.Duration `long:"resolve-timeout" env:"RESOLVE_TIMEOUT" description:"Deadline for resolving server addresses at startup" default:"15s"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Path        string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"muster.db"`
	PruneBefore time.Duration `long:"prune-before" description:"Delete match history older than the given duration and exit"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"muster.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
	Disabled bool          `long:"disabled" env:"DISABLED" description:"Disable client country detection"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	Count  int           `long:"count" env:"COUNT" description:"Per-IP limit: requests count" default:"16"`
	Window time.Duration `long:"window" env:"WINDOW" description:"Per-IP limit: window duration" default:"1m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if cfg.Server.AuthToken == "" {
		fmt.Fprintln(os.Stderr,
			"Required flag `-t, --auth-token' or environment variable `MUSTER_AUTH_TOKEN` was not specified!")
		os.Exit(1)
	}

	if len(cfg.RallyPoint.Servers) == 0 {
		fmt.Fprintln(os.Stderr,
			"At least one rally-point server must be configured with `-r, --rally-server' or `MUSTER_RALLY_SERVERS`!")
		os.Exit(1)
	}

	if cfg.Match.AcceptTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "Match accept timeout must be a positive duration!")
		os.Exit(1)
	}

	return &cfg
}
