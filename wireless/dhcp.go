package wireless

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

const (
	dhcpServerPort = 67
	dhcpClientPort = 68

	poolStart = 100
	poolEnd   = 250

	defaultLeaseDuration = 24 * time.Hour
)

// DHCPServerConfig contains configuration for the DHCP server
type DHCPServerConfig struct {
	InterfaceName string
	ServerIP      net.IP
	LeaseDuration time.Duration
}

// DHCPServer hands out addresses from ServerIP's /24 and points clients at
// ServerIP for both routing and DNS
type DHCPServer struct {
	config   DHCPServerConfig
	serverIP net.IP
	mask     net.IPMask
	leases   *leasePool

	conn    *ipv4.PacketConn
	ifIndex int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDHCPServer creates a new DHCP server instance
func NewDHCPServer(config DHCPServerConfig) (*DHCPServer, error) {
	serverIP := config.ServerIP.To4()
	if serverIP == nil {
		return nil, fmt.Errorf("DHCP server address %v is not IPv4", config.ServerIP)
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	return &DHCPServer{
		config:   config,
		serverIP: serverIP,
		mask:     net.CIDRMask(24, 32),
		leases:   newLeasePool(serverIP),
	}, nil
}

// Start binds port 67 on the configured interface and serves in the background
func (s *DHCPServer) Start(ctx context.Context) error {
	iface, err := net.InterfaceByName(s.config.InterfaceName)
	if err != nil {
		return fmt.Errorf("unknown interface %s: %w", s.config.InterfaceName, err)
	}

	pc, err := listenDHCP(ctx, s.config.InterfaceName)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", dhcpServerPort, err)
	}

	s.conn = ipv4.NewPacketConn(pc)
	if err := s.conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		log.Debugf("DHCP: Interface control messages unavailable: %v", err)
	}
	s.ifIndex = iface.Index

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.serve(ctx)

	log.Infof("DHCP: Server listening on %s port %d", s.config.InterfaceName, dhcpServerPort)
	return nil
}

// Stop terminates the DHCP server and waits for it to finish
func (s *DHCPServer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.conn.Close()
	<-s.done
}

func (s *DHCPServer) serve(ctx context.Context) {
	defer close(s.done)
	buffer := make([]byte, 1500)
	broadcast := &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpClientPort}

	for {
		n, cm, _, err := s.conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("DHCP: Error reading from UDP: %v", err)
			continue
		}
		if cm != nil && cm.IfIndex != 0 && cm.IfIndex != s.ifIndex {
			continue
		}

		reply, err := s.handlePacket(buffer[:n])
		if err != nil {
			log.Debugf("DHCP: Ignoring packet: %v", err)
			continue
		}
		if reply == nil {
			continue
		}

		if _, err := s.conn.WriteTo(reply, nil, broadcast); err != nil {
			log.Warnf("DHCP: Error sending response: %v", err)
		}
	}
}

// handlePacket decodes a client packet and returns the encoded reply, or nil
// when the packet needs no answer
func (s *DHCPServer) handlePacket(data []byte) ([]byte, error) {
	req := &layers.DHCPv4{}
	if err := req.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	if req.Operation != layers.DHCPOpRequest {
		return nil, errors.New("not a BOOTREQUEST")
	}

	reply := s.reply(req)
	if reply == nil {
		return nil, nil
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, reply); err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return buf.Bytes(), nil
}

// reply implements the DISCOVER/OFFER and REQUEST/ACK|NAK exchanges
func (s *DHCPServer) reply(req *layers.DHCPv4) *layers.DHCPv4 {
	mac := req.ClientHWAddr.String()

	switch messageType(req) {
	case layers.DHCPMsgTypeDiscover:
		ip, err := s.leases.offer(mac)
		if err != nil {
			log.Warnf("DHCP: No address for %s: %v", mac, err)
			return nil
		}
		log.Infof("DHCP: Offering %s to %s", ip, mac)
		return s.build(req, layers.DHCPMsgTypeOffer, ip)

	case layers.DHCPMsgTypeRequest:
		if id := optionIP(req, layers.DHCPOptServerID); id != nil && !id.Equal(s.serverIP) {
			// the client picked another server
			return nil
		}
		requested := optionIP(req, layers.DHCPOptRequestIP)
		if requested == nil {
			requested = req.ClientIP.To4()
		}
		if !s.leases.confirm(mac, requested) {
			log.Infof("DHCP: Refusing %v to %s", requested, mac)
			return s.build(req, layers.DHCPMsgTypeNak, nil)
		}
		log.Infof("DHCP: Acknowledging %s to %s", requested, mac)
		return s.build(req, layers.DHCPMsgTypeAck, requested)

	case layers.DHCPMsgTypeRelease:
		s.leases.release(mac)
		log.Infof("DHCP: %s released its lease", mac)
	}
	return nil
}

func (s *DHCPServer) build(req *layers.DHCPv4, msgType layers.DHCPMsgType, yiaddr net.IP) *layers.DHCPv4 {
	reply := &layers.DHCPv4{
		Operation:    layers.DHCPOpReply,
		HardwareType: layers.LinkTypeEthernet,
		Xid:          req.Xid,
		Flags:        req.Flags,
		ClientIP:     net.IPv4zero,
		YourClientIP: net.IPv4zero,
		NextServerIP: s.serverIP,
		RelayAgentIP: req.RelayAgentIP,
		ClientHWAddr: req.ClientHWAddr,
	}
	reply.Options = append(reply.Options,
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(msgType)}),
		layers.NewDHCPOption(layers.DHCPOptServerID, s.serverIP),
	)
	if msgType == layers.DHCPMsgTypeNak {
		return reply
	}

	reply.YourClientIP = yiaddr
	lease := make([]byte, 4)
	binary.BigEndian.PutUint32(lease, uint32(s.config.LeaseDuration/time.Second))
	broadcast := net.IP{yiaddr[0], yiaddr[1], yiaddr[2], 255}

	reply.Options = append(reply.Options,
		layers.NewDHCPOption(layers.DHCPOptLeaseTime, lease),
		layers.NewDHCPOption(layers.DHCPOptSubnetMask, s.mask),
		layers.NewDHCPOption(layers.DHCPOptRouter, s.serverIP),
		layers.NewDHCPOption(layers.DHCPOptDNS, s.serverIP),
		layers.NewDHCPOption(layers.DHCPOptBroadcastAddr, broadcast),
	)
	return reply
}

func messageType(req *layers.DHCPv4) layers.DHCPMsgType {
	for _, opt := range req.Options {
		if opt.Type == layers.DHCPOptMessageType && len(opt.Data) == 1 {
			return layers.DHCPMsgType(opt.Data[0])
		}
	}
	return layers.DHCPMsgTypeUnspecified
}

func optionIP(req *layers.DHCPv4, code layers.DHCPOpt) net.IP {
	for _, opt := range req.Options {
		if opt.Type == code && len(opt.Data) == 4 {
			return net.IP(opt.Data).To4()
		}
	}
	return nil
}

// leasePool assigns .100 to .250 of the server's /24, one address per MAC
type leasePool struct {
	mu     sync.Mutex
	prefix net.IP
	byMAC  map[string]net.IP
	inUse  map[byte]string
}

func newLeasePool(serverIP net.IP) *leasePool {
	return &leasePool{
		prefix: net.IP{serverIP[0], serverIP[1], serverIP[2], 0},
		byMAC:  make(map[string]net.IP),
		inUse:  map[byte]string{serverIP[3]: "server"},
	}
}

func (p *leasePool) offer(mac string) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.byMAC[mac]; ok {
		return ip, nil
	}
	for host := poolStart; host <= poolEnd; host++ {
		if _, taken := p.inUse[byte(host)]; taken {
			continue
		}
		ip := net.IP{p.prefix[0], p.prefix[1], p.prefix[2], byte(host)}
		p.byMAC[mac] = ip
		p.inUse[byte(host)] = mac
		return ip, nil
	}
	return nil, errors.New("address pool exhausted")
}

// confirm accepts a request for ip if it is free or already held by mac
func (p *leasePool) confirm(mac string, ip net.IP) bool {
	// decoded addresses alias the read buffer
	ip = append(net.IP(nil), ip.To4()...)
	if len(ip) != net.IPv4len || !ip.Mask(net.CIDRMask(24, 32)).Equal(p.prefix) {
		return false
	}
	host := ip[3]
	if int(host) < poolStart || int(host) > poolEnd {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if owner, taken := p.inUse[host]; taken && owner != mac {
		return false
	}
	if old, ok := p.byMAC[mac]; ok && !old.Equal(ip) {
		delete(p.inUse, old[3])
	}
	p.byMAC[mac] = ip
	p.inUse[host] = mac
	return true
}

func (p *leasePool) release(mac string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.byMAC[mac]; ok {
		delete(p.inUse, ip[3])
		delete(p.byMAC, mac)
	}
}
