package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"captivelog/config"
	"captivelog/indicator"
	"captivelog/service"
	"captivelog/utils"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	configPath    = flag.String("config", config.DefaultPath, "Path to the TOML config file")
	debug         = flag.Bool("debug", false, "Debug logging")
	logFile       = flag.String("log", "", "Log file")
	enableAP      = flag.Bool("ap", false, "Create a WiFi access point (requires root)")
	ssid          = flag.String("ssid", "", "SSID of the wireless network")
	passphrase    = flag.String("passphrase", "", "WPA2 passphrase (open network if empty)")
	wifiInterface = flag.String("interface", "", "Name of the wireless interface to use (auto-detect if empty)")
	channel       = flag.Int("channel", 0, "WiFi channel (1-14)")
	portalIP      = flag.String("ip", "", "IP address for the captive portal")
	httpPort      = flag.Int("http-port", 0, "Port for the HTTP portal")
	dnsPort       = flag.Int("dns-port", 0, "Port for the DNS responder")
	storePath     = flag.String("store", "", "File the guest log is kept in")
)

// askToStopProcess prompts the user if they want to stop a conflicting process
func askToStopProcess(info *utils.PortInfo) bool {
	fmt.Printf("Port %s/%d is already in use by %s (PID %d). Do you want to stop it? [y/N]: ",
		info.Network, info.Port, info.ProcessName, info.PID)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func stopProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}

// checkPorts makes sure the portal ports are free. On a terminal the user is
// offered to stop whoever holds them.
func checkPorts(cfg config.Config) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	checks := []struct {
		network string
		port    int
	}{
		{"tcp", config.PortOf(cfg.Portal.HTTPAddr)},
		{"udp", config.PortOf(cfg.DNS.Addr)},
	}

	for _, check := range checks {
		if check.port == 0 {
			continue
		}
		info, err := utils.IsPortInUse(check.network, check.port)
		if err != nil {
			log.Warnf("Could not check if port %d is in use: %v", check.port, err)
			continue
		}
		if info == nil {
			continue
		}
		if info.PID == 0 {
			return fmt.Errorf("port %s/%d is already in use by an unknown process", info.Network, info.Port)
		}
		if !interactive || !askToStopProcess(info) {
			return fmt.Errorf("port %s/%d is required but already in use by %s (PID %d)",
				info.Network, info.Port, info.ProcessName, info.PID)
		}

		log.Infof("Stopping process %s (PID %d)...", info.ProcessName, info.PID)
		if err := stopProcess(info.PID); err != nil {
			return fmt.Errorf("failed to stop process %s (PID %d): %v", info.ProcessName, info.PID, err)
		}
		log.Infof("Waiting for port %d to be released...", info.Port)
		time.Sleep(2 * time.Second)
	}
	return nil
}

func withPort(addr string, port int) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// applyFlags overrides config values with the flags given on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			if *debug {
				cfg.Log.Level = "debug"
			}
		case "log":
			cfg.Log.File = *logFile
		case "ap":
			cfg.AP.Enabled = *enableAP
		case "ssid":
			cfg.AP.SSID = *ssid
		case "passphrase":
			cfg.AP.Passphrase = *passphrase
		case "interface":
			cfg.AP.Interface = *wifiInterface
		case "channel":
			cfg.AP.Channel = *channel
		case "ip":
			cfg.AP.IP = *portalIP
		case "http-port":
			cfg.Portal.HTTPAddr = withPort(cfg.Portal.HTTPAddr, *httpPort)
		case "dns-port":
			cfg.DNS.Addr = withPort(cfg.DNS.Addr, *dnsPort)
		case "store":
			cfg.Store.Path = *storePath
		}
	})
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg)
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.Log.Level, err)
	}
	log.SetLevel(level)

	if cfg.Log.File != "" {
		output, err := os.OpenFile(cfg.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("Failed to log to file %s: %v", cfg.Log.File, err)
		}
		log.SetOutput(output)
	}
}

func newIndicator(cfg config.Config) indicator.Indicator {
	if cfg.Indicator.GPIOPin < 0 {
		return indicator.Nop{}
	}
	gpio, err := indicator.NewGPIO(cfg.Indicator.GPIORoot, cfg.Indicator.GPIOPin)
	if err != nil {
		log.Warnf("Indicator: GPIO %d unavailable, continuing without it: %v", cfg.Indicator.GPIOPin, err)
		return indicator.Nop{}
	}
	return gpio
}

// watchSignals turns SIGHUP into a reload and SIGINT/SIGTERM into shutdown
func watchSignals(cancel context.CancelFunc, reload chan<- struct{}) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range c {
		if sig == syscall.SIGHUP {
			log.Info("Received HUP signal, reloading config")
			select {
			case reload <- struct{}{}:
			default:
			}
			continue
		}
		log.Infof("Received signal %s, shutting down", sig)
		cancel()
		return
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	setupLogging(cfg)
	log.Info("Starting captivelog")

	// creating an access point and binding privileged ports need root
	if cfg.AP.Enabled && os.Geteuid() != 0 {
		log.Fatalf("This program must be run as root to create an access point (sudo)")
	}

	log.Info("Checking if required ports are available...")
	if err := checkPorts(cfg); err != nil {
		log.Fatalf("Port conflict: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan struct{}, 1)
	go watchSignals(cancel, reload)
	go func() {
		if err := config.Watch(ctx, *configPath, reload); err != nil {
			log.Warnf("Config: Not watching %s for changes: %v", *configPath, err)
		}
	}()

	supervisor, err := service.New(service.Options{
		Load:      loadConfig,
		Indicator: newIndicator(cfg),
		Reload:    reload,
	})
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("Captive portal is running at http://%s", cfg.AP.IP)
	log.Info("Press Ctrl+C to stop")
	if err := supervisor.Supervise(ctx); err != nil {
		log.Fatalf("Failed to start portal: %v", err)
	}
	log.Info("Shutdown complete")
}
