//go:build !linux

package wireless

import (
	"context"
	"errors"
	"net"
)

func listenDHCP(ctx context.Context, interfaceName string) (net.PacketConn, error) {
	return nil, errors.New("the built-in DHCP server is only supported on Linux")
}
