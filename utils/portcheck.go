package utils

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// DefaultProcRoot is where the kernel exposes process and socket tables
const DefaultProcRoot = "/proc"

// PortInfo describes a port somebody else is listening on. PID is 0 when the
// owner could not be determined.
type PortInfo struct {
	Network     string
	Port        int
	ProcessName string
	PID         int
}

// PortChecker finds out whether ports are free and who holds them if not
type PortChecker struct {
	ProcRoot string
}

// IsPortInUse reports whether port can be bound on network ("tcp" or "udp").
// When the port is taken the returned PortInfo names the owning process if
// it can be found.
func IsPortInUse(network string, port int) (*PortInfo, error) {
	return PortChecker{ProcRoot: DefaultProcRoot}.Check(network, port)
}

// Check is IsPortInUse with the checker's proc root
func (pc PortChecker) Check(network string, port int) (*PortInfo, error) {
	var err error
	switch network {
	case "tcp":
		var ln net.Listener
		if ln, err = net.Listen("tcp4", fmt.Sprintf(":%d", port)); err == nil {
			ln.Close()
		}
	case "udp":
		var conn net.PacketConn
		if conn, err = net.ListenPacket("udp4", fmt.Sprintf(":%d", port)); err == nil {
			conn.Close()
		}
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}

	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		// permission problems and the like are for the real bind to report
		log.Debugf("Port check for %s/%d inconclusive: %v", network, port, err)
		return nil, nil
	}

	info := &PortInfo{Network: network, Port: port, ProcessName: "unknown"}
	pid, name, ferr := pc.findOwner(network, port)
	if ferr != nil {
		log.Debugf("Could not find owner of %s/%d: %v", network, port, ferr)
		return info, nil
	}
	if pid != 0 {
		info.PID, info.ProcessName = pid, name
	}
	return info, nil
}

// findOwner looks the port up in <proc>/net/{proto,proto6} and maps the
// socket inode back to a process
func (pc PortChecker) findOwner(network string, port int) (int, string, error) {
	var lastErr error
	for _, table := range []string{network, network + "6"} {
		inodes, err := pc.socketInodes(table, port)
		if err != nil {
			lastErr = err
			continue
		}
		for _, inode := range inodes {
			pid, name, err := pc.findProcessByInode(inode)
			if err != nil {
				return 0, "", err
			}
			if pid != 0 {
				return pid, name, nil
			}
		}
	}
	return 0, "", lastErr
}

// socketInodes returns the inodes of sockets in a /proc/net table whose
// local port is port
func (pc PortChecker) socketInodes(table string, port int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(pc.ProcRoot, "net", table))
	if err != nil {
		return nil, err
	}

	var inodes []string
	lines := strings.Split(string(data), "\n")
	// first line is a header
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		// local address is hex IP:port, e.g. 0100007F:0050
		_, hexPort, ok := strings.Cut(fields[1], ":")
		if !ok {
			continue
		}
		p, err := strconv.ParseInt(hexPort, 16, 32)
		if err != nil || int(p) != port {
			continue
		}
		if fields[9] != "0" {
			inodes = append(inodes, fields[9])
		}
	}
	return inodes, nil
}

// findProcessByInode scans <proc>/<pid>/fd for a link to socket:[inode]
func (pc PortChecker) findProcessByInode(inode string) (int, string, error) {
	procDirs, err := os.ReadDir(pc.ProcRoot)
	if err != nil {
		return 0, "", err
	}

	target := "socket:[" + inode + "]"
	for _, dir := range procDirs {
		pid, err := strconv.Atoi(dir.Name())
		if err != nil {
			continue
		}

		fdPath := filepath.Join(pc.ProcRoot, dir.Name(), "fd")
		fds, err := os.ReadDir(fdPath)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdPath, fd.Name()))
			if err != nil || link != target {
				continue
			}
			return pid, pc.processName(dir.Name()), nil
		}
	}
	return 0, "", nil
}

func (pc PortChecker) processName(pid string) string {
	cmdline, err := os.ReadFile(filepath.Join(pc.ProcRoot, pid, "cmdline"))
	if err != nil {
		return "unknown"
	}
	exe, _, _ := strings.Cut(string(cmdline), "\x00")
	if exe == "" {
		return "unknown"
	}
	return filepath.Base(exe)
}
