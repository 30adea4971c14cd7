package dns

import (
	"gopkg.in/check.v1"
)

type LimiterSuite struct{}

var _ = check.Suite(&LimiterSuite{})

func (s *LimiterSuite) TestDisabled(c *check.C) {
	l := NewLimiter(0, 10)
	c.Check(l, check.IsNil)
	for i := 0; i < 100; i++ {
		c.Assert(l.Allow("10.0.0.2"), check.Equals, true)
	}
}

func (s *LimiterSuite) TestBurstThenReject(c *check.C) {
	l := NewLimiter(0.001, 2)
	c.Check(l.Allow("10.0.0.2"), check.Equals, true)
	c.Check(l.Allow("10.0.0.2"), check.Equals, true)
	c.Check(l.Allow("10.0.0.2"), check.Equals, false)
}

func (s *LimiterSuite) TestClientsIndependent(c *check.C) {
	l := NewLimiter(0.001, 1)
	c.Check(l.Allow("10.0.0.2"), check.Equals, true)
	c.Check(l.Allow("10.0.0.2"), check.Equals, false)
	c.Check(l.Allow("10.0.0.3"), check.Equals, true)
}
