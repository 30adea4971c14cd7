package wireless

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"captivelog/netfilter"

	log "github.com/sirupsen/logrus"
)

// AccessPoint brings up the network clients join and reports the address the
// portal answers with
type AccessPoint interface {
	Activate(ctx context.Context) (net.IP, error)
	Deactivate()
}

// Static is an AccessPoint for hosts whose network is already configured
type Static struct {
	IP net.IP
}

func (s Static) Activate(ctx context.Context) (net.IP, error) {
	ip := s.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("static address %v is not IPv4", s.IP)
	}
	return ip, nil
}

func (Static) Deactivate() {}

// Settings describes the access point to create
type Settings struct {
	SSID       string
	Passphrase string // empty for an open network
	Interface  string // auto-detected when empty
	Channel    int
	IP         net.IP
	DHCP       bool
	DNSPort    int // local port DNS traffic is redirected to
	HTTPPort   int // local port HTTP traffic is redirected to
}

// AP is a WiFi access point run through wpa_supplicant, with an optional
// built-in DHCP server and firewall rules steering DNS and HTTP to the portal
type AP struct {
	settings             Settings
	interfaceName        string
	wpaSupplicantProcess *exec.Cmd          // Process handle for wpa_supplicant
	dhcpServer           *DHCPServer        // DHCP server for IP assignment
	iptablesManager      *netfilter.Manager // Manager for firewall/NAT rules
	temporaryFiles       []string           // List of temp files to clean up on exit
	mu                   sync.Mutex
}

// NewAP creates a new wireless access point instance with the specified parameters
func NewAP(settings Settings) *AP {
	return &AP{
		settings:        settings,
		iptablesManager: netfilter.NewManager(),
	}
}

// Activate configures the interface, starts the AP and its DHCP server and
// installs the redirect rules. On failure everything already set up is torn
// down again.
func (ap *AP) Activate(ctx context.Context) (net.IP, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	ip := ap.settings.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("access point address %v is not IPv4", ap.settings.IP)
	}

	ap.interfaceName = ap.settings.Interface
	if ap.interfaceName == "" {
		iface, err := FindWirelessInterface(sysClassNet)
		if err != nil {
			return nil, fmt.Errorf("no suitable wireless interface found: %w", err)
		}
		ap.interfaceName = iface
		log.Infof("AP: Using wireless interface %s", iface)
	}

	if err := ConfigureInterface(ap.interfaceName, ip); err != nil {
		return nil, fmt.Errorf("failed to configure interface: %w", err)
	}

	if err := ap.setupWPASupplicant(ctx); err != nil {
		ap.cleanup()
		return nil, fmt.Errorf("failed to setup wpa_supplicant: %w", err)
	}

	if ap.settings.DHCP {
		if err := ap.setupDHCPServer(ctx, ip); err != nil {
			ap.cleanup()
			return nil, fmt.Errorf("failed to setup DHCP server: %w", err)
		}
	}

	if err := ap.configureRedirects(ip); err != nil {
		ap.cleanup()
		return nil, fmt.Errorf("failed to configure redirects: %w", err)
	}

	log.Infof("AP: '%s' active on %s (channel %d, address %s)",
		ap.settings.SSID, ap.interfaceName, ap.settings.Channel, ip)
	return ip, nil
}

// Deactivate stops everything Activate started
func (ap *AP) Deactivate() {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.cleanup()
}

// cleanup terminates all running processes and restores network configuration
func (ap *AP) cleanup() {
	if ap.wpaSupplicantProcess != nil && ap.wpaSupplicantProcess.Process != nil {
		log.Info("AP: Stopping wpa_supplicant")
		ap.wpaSupplicantProcess.Process.Kill()
		ap.wpaSupplicantProcess.Wait()
		ap.wpaSupplicantProcess = nil
	}

	if ap.dhcpServer != nil {
		log.Info("AP: Stopping DHCP server")
		ap.dhcpServer.Stop()
		ap.dhcpServer = nil
	}

	log.Info("AP: Removing iptables rules")
	ap.iptablesManager.RemoveAllRules()

	for _, file := range ap.temporaryFiles {
		os.Remove(file)
	}
	ap.temporaryFiles = nil

	if ap.interfaceName != "" {
		ResetInterface(ap.interfaceName)
	}
}

func (ap *AP) setupWPASupplicant(ctx context.Context) error {
	configPath := fmt.Sprintf("/tmp/captivelog-wpa-%s.conf", ap.interfaceName)
	process, err := StartWPASupplicant(ctx, WPASupplicantConfig{
		SSID:          ap.settings.SSID,
		Passphrase:    ap.settings.Passphrase,
		InterfaceName: ap.interfaceName,
		Channel:       ap.settings.Channel,
		ConfigPath:    configPath,
	})
	ap.temporaryFiles = append(ap.temporaryFiles, configPath)
	if err != nil {
		return err
	}
	ap.wpaSupplicantProcess = process
	return nil
}

func (ap *AP) setupDHCPServer(ctx context.Context, ip net.IP) error {
	server, err := NewDHCPServer(DHCPServerConfig{
		InterfaceName: ap.interfaceName,
		ServerIP:      ip,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	ap.dhcpServer = server
	return nil
}

// configureRedirects accepts DHCP on the AP interface and sends every DNS and
// HTTP packet arriving there to the portal, whatever its destination
func (ap *AP) configureRedirects(ip net.IP) error {
	iface := ap.interfaceName
	m := ap.iptablesManager

	for _, port := range []int{67, 68} {
		if err := m.AddRule(netfilter.Rule{
			Table:       "filter",
			Chain:       "INPUT",
			Protocol:    "udp",
			InInterface: iface,
			DestPort:    port,
			Target:      "ACCEPT",
		}); err != nil {
			return fmt.Errorf("failed to add DHCP rule: %w", err)
		}
	}

	dnsPort := ap.settings.DNSPort
	if dnsPort == 0 {
		dnsPort = 53
	}
	httpPort := ap.settings.HTTPPort
	if httpPort == 0 {
		httpPort = 80
	}

	if err := m.RedirectToHost(iface, "udp", 53, ip.String(), dnsPort); err != nil {
		return fmt.Errorf("failed to redirect DNS traffic: %w", err)
	}
	if err := m.RedirectToHost(iface, "tcp", 80, ip.String(), httpPort); err != nil {
		return fmt.Errorf("failed to redirect HTTP traffic: %w", err)
	}

	if err := m.AddRule(netfilter.Rule{
		Table:       "filter",
		Chain:       "FORWARD",
		InInterface: iface,
		Target:      "DROP",
	}); err != nil {
		log.Warnf("AP: Failed to block forwarding from %s: %v", iface, err)
	}

	return nil
}
