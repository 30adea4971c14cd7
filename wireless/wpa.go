package wireless

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// WPASupplicantConfig contains the configuration for the wpa_supplicant
type WPASupplicantConfig struct {
	SSID          string
	Passphrase    string
	InterfaceName string
	Channel       int
	ConfigPath    string
}

// channelFrequency converts a 2.4GHz channel number to its centre frequency
func channelFrequency(channel int) int {
	if channel == 14 {
		return 2484
	}
	return 2412 + (channel-1)*5
}

// Render produces the wpa_supplicant configuration for AP mode (mode=2)
func (c WPASupplicantConfig) Render() string {
	var b strings.Builder
	b.WriteString("ctrl_interface=/var/run/wpa_supplicant\n")
	b.WriteString("ap_scan=2\n\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "    ssid=\"%s\"\n", c.SSID)
	b.WriteString("    mode=2\n")
	fmt.Fprintf(&b, "    frequency=%d\n", channelFrequency(c.Channel))
	if c.Passphrase == "" {
		b.WriteString("    key_mgmt=NONE\n")
	} else {
		b.WriteString("    key_mgmt=WPA-PSK\n")
		b.WriteString("    proto=RSN WPA\n")
		b.WriteString("    pairwise=CCMP TKIP\n")
		b.WriteString("    group=CCMP TKIP\n")
		fmt.Fprintf(&b, "    psk=\"%s\"\n", c.Passphrase)
	}
	b.WriteString("}\n")
	return b.String()
}

// StartWPASupplicant writes the config file and starts wpa_supplicant with
// the nl80211 driver. The returned process keeps running until killed.
func StartWPASupplicant(ctx context.Context, config WPASupplicantConfig) (*exec.Cmd, error) {
	if _, err := exec.LookPath("wpa_supplicant"); err != nil {
		return nil, fmt.Errorf("wpa_supplicant is not installed: %w", err)
	}

	if err := os.WriteFile(config.ConfigPath, []byte(config.Render()), 0600); err != nil {
		return nil, fmt.Errorf("failed to write wpa_supplicant config: %w", err)
	}

	cmd := exec.Command("wpa_supplicant", "-i", config.InterfaceName, "-c", config.ConfigPath, "-D", "nl80211")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get wpa_supplicant stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start wpa_supplicant: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			log.WithField("process", "wpa_supplicant").Debug(scanner.Text())
		}
	}()

	// give wpa_supplicant time to bring the AP up
	select {
	case <-ctx.Done():
		cmd.Process.Kill()
		cmd.Wait()
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
	}

	return cmd, nil
}
