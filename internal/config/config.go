package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/monkey1992/XyWebRTC/internal/engine"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServer   = "wss://localhost:8080/ws"
	DefaultRoom     = "OldPlace"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTLSMode  = TLSVerify
	DefaultListen   = ":8080"
	DefaultMaxPeers = 2
)

// TLSMode selects how the signaling client validates the server certificate.
type TLSMode string

const (
	// TLSVerify validates against the platform roots (or CAFile). Production default.
	TLSVerify TLSMode = "verify"

	// TLSInsecure skips certificate validation. Only for local signaling servers
	// with self-signed certificates.
	TLSInsecure TLSMode = "insecure"
)

var ErrInvalidTLSMode = errors.New("invalid tls mode")

// Config holds application configuration
type Config struct {
	// Server is the rendezvous websocket URL (ws:// or wss://)
	Server string `mapstructure:"server"`

	// Room joined when none is given on the command line
	Room string `mapstructure:"room"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun"`
	TURNServer string `mapstructure:"turn"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`

	// ForceRelay restricts ICE to TURN relays. Also enabled automatically
	// behind VPN or CGNAT interfaces when a TURN server is configured.
	ForceRelay bool `mapstructure:"force_relay"`

	TLSMode TLSMode `mapstructure:"tls_mode"`
	CAFile  string  `mapstructure:"ca_file"`

	// RecordDir receives one IVF file per remote video track. Empty discards video.
	RecordDir string `mapstructure:"record_dir"`

	// VideoFile is an optional IVF file looped into the local video track.
	VideoFile string `mapstructure:"video_file"`

	// Rendezvous server settings
	Listen   string `mapstructure:"listen"`
	MaxPeers int    `mapstructure:"max_peers"`
}

// Options carries command line overrides. Zero values mean "not set".
type Options struct {
	ConfigFile string

	Server     string
	Room       string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Insecure   bool
	CAFile     string
	RecordDir  string
	VideoFile  string
	Listen     string
	MaxPeers   int
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (XYWEBRTC_SERVER, XYWEBRTC_TURN_USER, ...)
// 3. Config file (Options.ConfigFile, or ./xywebrtc.yaml if present)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("xywebrtc")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", DefaultServer)
	v.SetDefault("room", DefaultRoom)
	v.SetDefault("stun", DefaultSTUN)
	v.SetDefault("turn", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("tls_mode", string(DefaultTLSMode))
	v.SetDefault("ca_file", "")
	v.SetDefault("record_dir", "")
	v.SetDefault("video_file", "")
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("max_peers", DefaultMaxPeers)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("xywebrtc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	setIf(v, "server", opts.Server)
	setIf(v, "room", opts.Room)
	setIf(v, "stun", opts.STUNServer)
	setIf(v, "turn", opts.TURNServer)
	setIf(v, "turn_user", opts.TURNUser)
	setIf(v, "turn_pass", opts.TURNPass)
	setIf(v, "ca_file", opts.CAFile)
	setIf(v, "record_dir", opts.RecordDir)
	setIf(v, "video_file", opts.VideoFile)
	setIf(v, "listen", opts.Listen)
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}
	if opts.Insecure {
		v.Set("tls_mode", string(TLSInsecure))
	}
	if opts.MaxPeers != 0 {
		v.Set("max_peers", opts.MaxPeers)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setIf(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// Validate checks the values a session cannot start without.
func (c *Config) Validate() error {
	switch c.TLSMode {
	case TLSVerify, TLSInsecure:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTLSMode, c.TLSMode)
	}

	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", c.Server)
	}

	if c.Room == "" {
		return errors.New("room name cannot be empty")
	}
	if c.MaxPeers < 0 {
		return fmt.Errorf("max peers must be >= 0, got %d", c.MaxPeers)
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers builds the ICE server list handed to every connection.
func (c *Config) ICEServers() []engine.ICEServer {
	var servers []engine.ICEServer
	if stun := c.GetSTUNServers(); stun != nil {
		servers = append(servers, engine.ICEServer{URLs: stun})
	}
	if turn := c.GetTURNServers(); turn != nil {
		user, pass := c.GetTURNCredentials()
		servers = append(servers, engine.ICEServer{URLs: turn, Username: user, Credential: pass})
	}
	return servers
}
