package dns

// DNS packet constants
const (
	// DNS header offsets
	headerIDOffset      = 0
	headerFlagsOffset   = 2
	headerQDCountOffset = 4
	headerANCountOffset = 6
	headerNSCountOffset = 8
	headerARCountOffset = 10
	headerSize          = 12

	// MaxDatagramSize is the largest query read from the wire
	MaxDatagramSize = 512

	// Response flags: QR, RD and RA set, opcode QUERY, rcode NOERROR
	responseFlags = 0x8180

	// Name compression
	pointerMask = 0xC0

	typeA   = 1 // IPv4 address record
	classIN = 1 // Internet class
	rdLenA  = 4 // RDATA length of an A record

	// pointer + type + class + TTL + RDLENGTH + RDATA
	answerSize = 2 + 2 + 2 + 4 + 2 + rdLenA

	// DefaultTTL is the answer TTL in seconds
	DefaultTTL = 60
)
