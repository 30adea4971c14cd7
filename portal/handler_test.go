package portal

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/check.v1"
)

type memStore struct {
	lines     []string
	failWrite bool
	failRead  bool
	clears    int
}

func (m *memStore) Append(line string) error {
	if m.failWrite {
		return errors.New("disk full")
	}
	m.lines = append(m.lines, line)
	return nil
}

func (m *memStore) ReadAll() ([]string, error) {
	if m.failRead {
		return nil, errors.New("io error")
	}
	return append([]string{}, m.lines...), nil
}

func (m *memStore) Clear() error {
	m.clears++
	m.lines = nil
	return nil
}

type HandlerSuite struct {
	store   *memStore
	handler *Handler
}

var _ = check.Suite(&HandlerSuite{})

func (s *HandlerSuite) SetUpTest(c *check.C) {
	s.store = &memStore{}
	s.handler = NewHandler(s.store, NewTemplateManager("Guest Log"))
}

// do sends raw through the handler and parses the result with net/http
func (s *HandlerSuite) do(c *check.C, raw string) (*http.Response, string) {
	out := s.handler.Handle([]byte(raw))
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(out)), nil)
	c.Assert(err, check.IsNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, check.IsNil)
	return resp, string(body)
}

func (s *HandlerSuite) TestRenderOnly(c *check.C) {
	s.store.lines = []string{"first", "second"}

	resp, body := s.do(c, "GET / HTTP/1.1\r\n\r\n")
	c.Check(resp.StatusCode, check.Equals, http.StatusOK)
	c.Check(resp.Header.Get("Content-Type"), check.Equals, "text/html; charset=utf-8")
	c.Check(int(resp.ContentLength), check.Equals, len(body))
	c.Check(strings.Contains(body, "first<br>second"), check.Equals, true)
	c.Check(s.store.lines, check.DeepEquals, []string{"first", "second"})
}

func (s *HandlerSuite) TestSubmitAppends(c *check.C) {
	_, body := s.do(c, "GET /submit?log_text=hello+world HTTP/1.1\r\n\r\n")
	c.Check(s.store.lines, check.DeepEquals, []string{"hello world"})
	c.Check(strings.Contains(body, "hello world"), check.Equals, true)
}

func (s *HandlerSuite) TestSubmitWithoutText(c *check.C) {
	s.do(c, "GET /submit HTTP/1.1\r\n\r\n")
	s.do(c, "GET /submit?other=1 HTTP/1.1\r\n\r\n")
	c.Check(s.store.lines, check.HasLen, 0)
}

func (s *HandlerSuite) TestSubmitEmptyTextAppendsEmptyLine(c *check.C) {
	s.do(c, "GET /submit?log_text= HTTP/1.1\r\n\r\n")
	c.Check(s.store.lines, check.DeepEquals, []string{""})

	action, text := Decide(&Request{Path: "/submit", Query: url.Values{"log_text": {""}}})
	c.Check(action, check.Equals, ActionAppend)
	c.Check(text, check.Equals, "")
}

func (s *HandlerSuite) TestClear(c *check.C) {
	s.store.lines = []string{"a", "b"}

	_, body := s.do(c, "GET /clear HTTP/1.1\r\n\r\n")
	c.Check(s.store.clears, check.Equals, 1)
	c.Check(s.store.lines, check.HasLen, 0)
	c.Check(strings.Contains(body, `<div id="fileContent"></div>`), check.Equals, true)
}

func (s *HandlerSuite) TestOtherPathsRenderOnly(c *check.C) {
	for _, path := range []string{"/generate_204", "/hotspot-detect.html", "/favicon.ico", "/clearly-not", "/submitted"} {
		s.do(c, "GET "+path+" HTTP/1.1\r\n\r\n")
	}
	// prefix rule: /clearly-not and /submitted still match the prefixes
	c.Check(s.store.clears, check.Equals, 1)
	c.Check(s.store.lines, check.HasLen, 0)
}

func (s *HandlerSuite) TestMalformedRendersPage(c *check.C) {
	s.store.lines = []string{"kept"}

	for _, raw := range []string{"", "garbage", "\x16\x03\x01\x02\x00"} {
		resp, body := s.do(c, raw)
		c.Check(resp.StatusCode, check.Equals, http.StatusOK)
		c.Check(strings.Contains(body, "kept"), check.Equals, true)
	}
	c.Check(s.store.lines, check.DeepEquals, []string{"kept"})
}

func (s *HandlerSuite) TestEscapesHTML(c *check.C) {
	_, body := s.do(c, "GET /submit?log_text=%3Cscript%3Ealert(1)%3C%2Fscript%3E HTTP/1.1\r\n\r\n")
	c.Check(s.store.lines, check.DeepEquals, []string{"<script>alert(1)</script>"})
	c.Check(strings.Contains(body, "<script>alert(1)"), check.Equals, false)
	c.Check(strings.Contains(body, "&lt;script&gt;alert(1)&lt;/script&gt;"), check.Equals, true)
}

func (s *HandlerSuite) TestStoreFailuresStillRender(c *check.C) {
	s.store.failWrite = true
	resp, _ := s.do(c, "GET /submit?log_text=x HTTP/1.1\r\n\r\n")
	c.Check(resp.StatusCode, check.Equals, http.StatusOK)

	s.store.failRead = true
	resp, body := s.do(c, "GET / HTTP/1.1\r\n\r\n")
	c.Check(resp.StatusCode, check.Equals, http.StatusOK)
	c.Check(strings.Contains(body, "Guest Log"), check.Equals, true)
}

func (s *HandlerSuite) TestDecide(c *check.C) {
	for _, tc := range []struct {
		raw    string
		action Action
		text   string
	}{
		{"GET /submit?log_text=a+b HTTP/1.1", ActionAppend, "a b"},
		{"POST /submit?log_text=x HTTP/1.1", ActionAppend, "x"},
		{"GET /clear?now=1 HTTP/1.1", ActionClear, ""},
		{"GET /index.html HTTP/1.1", ActionRender, ""},
	} {
		req, err := ParseRequest([]byte(tc.raw))
		c.Assert(err, check.IsNil)
		action, text := Decide(req)
		c.Check(action, check.Equals, tc.action, check.Commentf("%s", tc.raw))
		c.Check(text, check.Equals, tc.text)
	}

	action, _ := Decide(nil)
	c.Check(action, check.Equals, ActionRender)
	c.Check(ActionAppend.String(), check.Equals, "append")
}
