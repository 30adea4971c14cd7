package dns

import (
	"strings"

	mdns "github.com/miekg/dns"
)

// Describe decodes the first question of query for logging. ok is false when
// the datagram is not a parseable DNS message or has no question.
func Describe(query []byte) (name, qtype string, ok bool) {
	msg := new(mdns.Msg)
	if err := msg.Unpack(query); err != nil || len(msg.Question) == 0 {
		return "", "", false
	}
	q := msg.Question[0]
	return strings.TrimSuffix(q.Name, "."), mdns.Type(q.Qtype).String(), true
}
