package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where the service looks for its config file
const DefaultPath = "/etc/captivelog/config.toml"

// Duration wraps time.Duration so it can be written as "5s" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type PortalConfig struct {
	HTTPAddr  string   `toml:"http_addr"`
	Title     string   `toml:"title"`
	ReadSize  int      `toml:"read_size"`
	IOTimeout Duration `toml:"io_timeout"`
}

type DNSConfig struct {
	Addr      string  `toml:"addr"`
	TTL       uint32  `toml:"ttl"`
	RateQPS   float64 `toml:"rate_qps"`
	RateBurst int     `toml:"rate_burst"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type APConfig struct {
	Enabled    bool   `toml:"enabled"`
	SSID       string `toml:"ssid"`
	Passphrase string `toml:"passphrase"`
	Interface  string `toml:"interface"`
	Channel    int    `toml:"channel"`
	IP         string `toml:"ip"`
	DHCP       bool   `toml:"dhcp"`
}

type IndicatorConfig struct {
	// GPIOPin < 0 disables the indicator
	GPIOPin  int    `toml:"gpio_pin"`
	GPIORoot string `toml:"gpio_root"`
}

type SupervisorConfig struct {
	RestartDelay Duration `toml:"restart_delay"`
	PollInterval Duration `toml:"poll_interval"`
}

// Config is the whole service configuration
type Config struct {
	Log        LogConfig        `toml:"log"`
	Portal     PortalConfig     `toml:"portal"`
	DNS        DNSConfig        `toml:"dns"`
	Store      StoreConfig      `toml:"store"`
	AP         APConfig         `toml:"ap"`
	Indicator  IndicatorConfig  `toml:"indicator"`
	Supervisor SupervisorConfig `toml:"supervisor"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Portal: PortalConfig{
			HTTPAddr:  "0.0.0.0:80",
			Title:     "Guest Log",
			ReadSize:  1024,
			IOTimeout: Duration{5 * time.Second},
		},
		DNS: DNSConfig{
			Addr: "0.0.0.0:53",
			TTL:  60,
		},
		Store: StoreConfig{Path: "/var/lib/captivelog/guest.txt"},
		AP: APConfig{
			Enabled: false,
			SSID:    "CaptivePortal",
			Channel: 6,
			IP:      "192.168.4.1",
			DHCP:    true,
		},
		Indicator: IndicatorConfig{GPIOPin: -1},
		Supervisor: SupervisorConfig{
			RestartDelay: Duration{3 * time.Second},
			PollInterval: Duration{500 * time.Millisecond},
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	return cfg, nil
}

// Save writes cfg to path as TOML, creating the directory if needed
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// PortOf returns the port of a host:port address, or 0 when addr has none
func PortOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}

// Validate reports the first setting that cannot work
func (c Config) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp4", c.Portal.HTTPAddr); err != nil {
		return fmt.Errorf("portal.http_addr: %w", err)
	}
	if _, err := net.ResolveUDPAddr("udp4", c.DNS.Addr); err != nil {
		return fmt.Errorf("dns.addr: %w", err)
	}
	if c.Portal.ReadSize < 16 || c.Portal.ReadSize > 65536 {
		return fmt.Errorf("portal.read_size must be between 16 and 65536, got %d", c.Portal.ReadSize)
	}
	if c.Portal.IOTimeout.Duration <= 0 {
		return fmt.Errorf("portal.io_timeout must be positive")
	}
	if c.DNS.TTL == 0 {
		return fmt.Errorf("dns.ttl must be positive")
	}
	if c.DNS.RateQPS < 0 {
		return fmt.Errorf("dns.rate_qps must not be negative")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if ip := net.ParseIP(c.AP.IP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("ap.ip must be an IPv4 address, got %q", c.AP.IP)
	}
	if c.AP.Enabled {
		if c.AP.SSID == "" {
			return fmt.Errorf("ap.ssid is required")
		}
		if c.AP.Channel < 1 || c.AP.Channel > 14 {
			return fmt.Errorf("ap.channel must be between 1 and 14, got %d", c.AP.Channel)
		}
		if n := len(c.AP.Passphrase); n != 0 && (n < 8 || n > 63) {
			return fmt.Errorf("ap.passphrase must be 8 to 63 characters")
		}
	}
	if c.Supervisor.RestartDelay.Duration < 0 {
		return fmt.Errorf("supervisor.restart_delay must not be negative")
	}
	return nil
}
