package dns

import (
	"net"
)

// Responder answers every question of a query with a single IPv4 address
type Responder struct {
	ip  net.IP // 4-byte form of the address handed out for every name
	ttl uint32
}

// question marks where a question starts and ends inside a query
type question struct {
	nameOffset int
	end        int
}
