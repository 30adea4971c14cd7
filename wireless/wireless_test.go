package wireless

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

type WirelessSuite struct{}

var _ = check.Suite(&WirelessSuite{})

func (s *WirelessSuite) TestStatic(c *check.C) {
	ip, err := Static{IP: net.ParseIP("192.168.4.1")}.Activate(context.Background())
	c.Assert(err, check.IsNil)
	c.Check(ip.String(), check.Equals, "192.168.4.1")
	c.Check(len(ip), check.Equals, net.IPv4len)

	_, err = Static{IP: net.ParseIP("::1")}.Activate(context.Background())
	c.Check(err, check.NotNil)

	var ap AccessPoint = Static{}
	ap.Deactivate()
}

func (s *WirelessSuite) TestWPAConfigOpen(c *check.C) {
	conf := WPASupplicantConfig{SSID: "CaptivePortal", Channel: 6}.Render()
	c.Check(strings.Contains(conf, `ssid="CaptivePortal"`), check.Equals, true)
	c.Check(strings.Contains(conf, "mode=2"), check.Equals, true)
	c.Check(strings.Contains(conf, "frequency=2437"), check.Equals, true)
	c.Check(strings.Contains(conf, "key_mgmt=NONE"), check.Equals, true)
	c.Check(strings.Contains(conf, "psk="), check.Equals, false)
}

func (s *WirelessSuite) TestWPAConfigProtected(c *check.C) {
	conf := WPASupplicantConfig{SSID: "Sam_Ap", Passphrase: "12345678", Channel: 1}.Render()
	c.Check(strings.Contains(conf, "key_mgmt=WPA-PSK"), check.Equals, true)
	c.Check(strings.Contains(conf, `psk="12345678"`), check.Equals, true)
	c.Check(strings.Contains(conf, "frequency=2412"), check.Equals, true)
}

func (s *WirelessSuite) TestChannelFrequency(c *check.C) {
	c.Check(channelFrequency(1), check.Equals, 2412)
	c.Check(channelFrequency(11), check.Equals, 2462)
	c.Check(channelFrequency(14), check.Equals, 2484)
}

func makeIface(c *check.C, root, name string, wireless bool, state string) {
	dir := filepath.Join(root, name)
	c.Assert(os.MkdirAll(dir, 0755), check.IsNil)
	if wireless {
		c.Assert(os.MkdirAll(filepath.Join(dir, "wireless"), 0755), check.IsNil)
	}
	c.Assert(os.WriteFile(filepath.Join(dir, "operstate"), []byte(state+"\n"), 0644), check.IsNil)
}

func (s *WirelessSuite) TestFindWirelessInterface(c *check.C) {
	root := c.MkDir()
	makeIface(c, root, "lo", false, "unknown")
	makeIface(c, root, "eth0", false, "up")
	makeIface(c, root, "wlan0", true, "up")
	makeIface(c, root, "wlan1", true, "down")

	name, err := FindWirelessInterface(root)
	c.Assert(err, check.IsNil)
	c.Check(name, check.Equals, "wlan1")
}

func (s *WirelessSuite) TestFindWirelessInterfaceBusyFallback(c *check.C) {
	root := c.MkDir()
	makeIface(c, root, "wlan0", true, "up")

	name, err := FindWirelessInterface(root)
	c.Assert(err, check.IsNil)
	c.Check(name, check.Equals, "wlan0")
}

func (s *WirelessSuite) TestFindWirelessInterfaceNone(c *check.C) {
	root := c.MkDir()
	makeIface(c, root, "eth0", false, "up")

	_, err := FindWirelessInterface(root)
	c.Check(err, check.NotNil)
}
