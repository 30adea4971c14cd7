package wireless

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const sysClassNet = "/sys/class/net"

// FindWirelessInterface picks a wireless interface under root (normally
// /sys/class/net), preferring one that is not already up
func FindWirelessInterface(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	var busy string
	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, name, "wireless")); err != nil {
			continue
		}

		state, _ := os.ReadFile(filepath.Join(root, name, "operstate"))
		if strings.TrimSpace(string(state)) != "up" {
			return name, nil
		}
		if busy == "" {
			busy = name
		}
	}

	if busy != "" {
		log.Warnf("AP: Only wireless interface %s is already up, taking it over", busy)
		return busy, nil
	}
	return "", fmt.Errorf("no wireless interface under %s", root)
}

// ConfigureInterface assigns ip/24 to the interface and brings it up
func ConfigureInterface(interfaceName string, ip net.IP) error {
	steps := [][]string{
		{"ip", "link", "set", interfaceName, "down"},
		{"ip", "addr", "flush", "dev", interfaceName},
		{"ip", "addr", "add", ip.String() + "/24", "dev", interfaceName},
		{"ip", "link", "set", interfaceName, "up"},
	}
	for _, step := range steps {
		if err := run(step[0], step[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// ResetInterface takes the interface down and removes its addresses
func ResetInterface(interfaceName string) {
	if err := run("ip", "link", "set", interfaceName, "down"); err != nil {
		log.Warnf("AP: %v", err)
	}
	if err := run("ip", "addr", "flush", "dev", interfaceName); err != nil {
		log.Warnf("AP: %v", err)
	}
}

func run(name string, args ...string) error {
	log.Debugf("AP: Running %s %s", name, strings.Join(args, " "))
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}
