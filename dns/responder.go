package dns

import (
	"encoding/binary"
	"net"

	log "github.com/sirupsen/logrus"
)

// NewResponder creates a responder that resolves every name to ip. A zero
// ttl selects DefaultTTL.
func NewResponder(ip net.IP, ttl uint32) *Responder {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	v4 := ip.To4()
	if v4 == nil {
		log.Warnf("DNS: %v is not an IPv4 address, answering with 0.0.0.0", ip)
		v4 = net.IPv4zero.To4()
	}
	return &Responder{ip: v4, ttl: ttl}
}

// IP returns the address placed in every answer
func (r *Responder) IP() net.IP {
	return r.ip
}

// Respond builds the answer datagram for query. It returns nil when the
// datagram is too short to carry a header. It never panics on malformed input.
func (r *Responder) Respond(query []byte) []byte {
	if len(query) < headerSize {
		log.Debugf("DNS: Request too short (%d bytes), minimum is %d bytes", len(query), headerSize)
		return nil
	}

	qdCount := int(binary.BigEndian.Uint16(query[headerQDCountOffset : headerQDCountOffset+2]))

	// Zero questions: echo the ID with empty sections
	if qdCount == 0 {
		response := make([]byte, headerSize)
		r.writeHeader(response, query, 0, 0)
		return response
	}

	questions, err := splitQuestions(query, qdCount)
	if err != nil {
		// Echo everything after the header and point one answer at offset 12
		log.Debugf("DNS: Could not delimit question section: %v", err)
		return r.build(query, query[headerSize:], []question{{nameOffset: headerSize}}, qdCount)
	}

	section := query[headerSize:questions[len(questions)-1].end]
	return r.build(query, section, questions, qdCount)
}

// build lays out header, echoed question section and one A answer per
// question. QDCOUNT is copied from the query; ANCOUNT is the answers written.
func (r *Responder) build(query, section []byte, questions []question, qdCount int) []byte {
	response := make([]byte, headerSize, headerSize+len(section)+len(questions)*answerSize)
	r.writeHeader(response, query, qdCount, len(questions))
	response = append(response, section...)

	for _, q := range questions {
		var answer [answerSize]byte
		// Pointer back to the question name
		binary.BigEndian.PutUint16(answer[0:2], uint16(pointerMask)<<8|uint16(q.nameOffset))
		binary.BigEndian.PutUint16(answer[2:4], typeA)
		binary.BigEndian.PutUint16(answer[4:6], classIN)
		binary.BigEndian.PutUint32(answer[6:10], r.ttl)
		binary.BigEndian.PutUint16(answer[10:12], rdLenA)
		copy(answer[12:16], r.ip)
		response = append(response, answer[:]...)
	}

	return response
}

func (r *Responder) writeHeader(response, query []byte, qdCount, anCount int) {
	copy(response[headerIDOffset:headerIDOffset+2], query[headerIDOffset:headerIDOffset+2])
	binary.BigEndian.PutUint16(response[headerFlagsOffset:headerFlagsOffset+2], responseFlags)
	binary.BigEndian.PutUint16(response[headerQDCountOffset:headerQDCountOffset+2], uint16(qdCount))
	binary.BigEndian.PutUint16(response[headerANCountOffset:headerANCountOffset+2], uint16(anCount))
	binary.BigEndian.PutUint16(response[headerNSCountOffset:headerNSCountOffset+2], 0)
	binary.BigEndian.PutUint16(response[headerARCountOffset:headerARCountOffset+2], 0)
}
