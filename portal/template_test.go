package portal

import (
	"strings"

	"gopkg.in/check.v1"
)

type TemplateSuite struct{}

var _ = check.Suite(&TemplateSuite{})

func (s *TemplateSuite) TestRenderJoinsInOrder(c *check.C) {
	tm := NewTemplateManager("Sam.txt File")
	body, err := tm.Render([]string{"one", "two", "three"})
	c.Assert(err, check.IsNil)
	c.Check(strings.Contains(body, "<title>Sam.txt File</title>"), check.Equals, true)
	c.Check(strings.Contains(body, `<div id="fileContent">one<br>two<br>three</div>`), check.Equals, true)
}

func (s *TemplateSuite) TestRenderEmpty(c *check.C) {
	tm := NewTemplateManager("Guest Log")
	body, err := tm.Render(nil)
	c.Assert(err, check.IsNil)
	c.Check(strings.Contains(body, `<div id="fileContent"></div>`), check.Equals, true)
	c.Check(strings.Contains(body, `action="/submit"`), check.Equals, true)
	c.Check(strings.Contains(body, `name="log_text"`), check.Equals, true)
	c.Check(strings.Contains(body, `fetch('/clear')`), check.Equals, true)
}
