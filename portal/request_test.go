package portal

import (
	"errors"
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type RequestSuite struct{}

var _ = check.Suite(&RequestSuite{})

func (s *RequestSuite) TestSubmit(c *check.C) {
	req, err := ParseRequest([]byte("GET /submit?log_text=hello+world HTTP/1.1\r\nHost: 192.168.4.1\r\n\r\n"))
	c.Assert(err, check.IsNil)
	c.Check(req.Method, check.Equals, "GET")
	c.Check(req.Path, check.Equals, "/submit")
	c.Check(req.Proto, check.Equals, "HTTP/1.1")
	c.Check(req.Query.Get("log_text"), check.Equals, "hello world")
}

func (s *RequestSuite) TestPercentDecoding(c *check.C) {
	req, err := ParseRequest([]byte("GET /submit?log_text=caf%C3%A9+%26+more&x=1 HTTP/1.1\r\n\r\n"))
	c.Assert(err, check.IsNil)
	c.Check(req.Query.Get("log_text"), check.Equals, "café & more")
	c.Check(req.Query.Get("x"), check.Equals, "1")
}

func (s *RequestSuite) TestInvalidEscapeFallsBack(c *check.C) {
	req, err := ParseRequest([]byte("GET /submit?log_text=100%+sure HTTP/1.1\r\n\r\n"))
	c.Assert(err, check.IsNil)
	c.Check(req.Query.Get("log_text"), check.Equals, "100% sure")
}

func (s *RequestSuite) TestBareLineFeeds(c *check.C) {
	req, err := ParseRequest([]byte("GET /clear HTTP/1.0\nHost: x\n\n"))
	c.Assert(err, check.IsNil)
	c.Check(req.Path, check.Equals, "/clear")
	c.Check(req.Query, check.HasLen, 0)
}

func (s *RequestSuite) TestAbsoluteForm(c *check.C) {
	req, err := ParseRequest([]byte("GET http://captive.apple.com/hotspot-detect.html?a=b HTTP/1.1\r\n\r\n"))
	c.Assert(err, check.IsNil)
	c.Check(req.Path, check.Equals, "/hotspot-detect.html")
	c.Check(req.Query.Get("a"), check.Equals, "b")
}

func (s *RequestSuite) TestTruncatedHeaders(c *check.C) {
	req, err := ParseRequest([]byte("GET / HTTP/1.1\r\nUser-Agent: something very lo"))
	c.Assert(err, check.IsNil)
	c.Check(req.Path, check.Equals, "/")
}

func (s *RequestSuite) TestMalformed(c *check.C) {
	for _, raw := range []string{
		"",
		"\r\n",
		"GET",
		"GET /submit?log_text=cut-off-by-the-buff",
		"GET / SPDY/3\r\n",
		"\x00\x01\x02 binary junk",
		"GET * HTTP/1.1\r\n",
	} {
		req, err := ParseRequest([]byte(raw))
		c.Check(req, check.IsNil, check.Commentf("raw %q", raw))
		c.Check(errors.Is(err, ErrMalformedRequest), check.Equals, true, check.Commentf("raw %q", raw))
	}
}
