package indicator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Indicator is a status light switched on while a client is being served
type Indicator interface {
	On()
	Off()
}

// Nop is an Indicator with no hardware behind it
type Nop struct{}

func (Nop) On()  {}
func (Nop) Off() {}

// DefaultGPIORoot is where the kernel exposes the sysfs GPIO interface
const DefaultGPIORoot = "/sys/class/gpio"

// GPIO drives an output pin through the sysfs GPIO interface
type GPIO struct {
	Pin  int
	root string
}

// NewGPIO exports pin under root, sets it as an output and switches it off
func NewGPIO(root string, pin int) (*GPIO, error) {
	if root == "" {
		root = DefaultGPIORoot
	}
	g := &GPIO{Pin: pin, root: root}

	if _, err := os.Stat(g.pinDir()); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(pin)), 0200); err != nil {
			return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
		}
		// udev needs a moment to fix permissions on the new pin directory
		time.Sleep(100 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(g.pinDir(), "direction"), []byte("out"), 0644); err != nil {
		return nil, fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}

	g.Off()
	return g, nil
}

func (g *GPIO) pinDir() string {
	return filepath.Join(g.root, "gpio"+strconv.Itoa(g.Pin))
}

func (g *GPIO) set(value string) {
	if err := os.WriteFile(filepath.Join(g.pinDir(), "value"), []byte(value), 0644); err != nil {
		log.Warnf("Indicator: Failed to write gpio %d: %v", g.Pin, err)
	}
}

// On drives the pin high
func (g *GPIO) On() { g.set("1") }

// Off drives the pin low
func (g *GPIO) Off() { g.set("0") }
