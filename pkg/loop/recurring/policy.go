package recurring

import (
	"fmt"
	"strings"
	"time"

	"github.com/elderproject/elder-worker/pkg/loop"
)

// ParsePolicy reads "forever[:COOLDOWN]" or "backlog".
func ParsePolicy(s string) (Policy, error) {
	typ, param, ok := strings.Cut(s, ":")
	switch typ {
	case "forever":
		if !ok || param == "" {
			return Forever(0), nil
		}
		period, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf(`failed to parse %s as "forever:COOLDOWN": %w`, s, err)
		}
		if period < 0 {
			return nil, fmt.Errorf("cooldown should not be negative: %s", s)
		}
		return Forever(period), nil
	case "backlog":
		if ok {
			return nil, fmt.Errorf("backlog policy does not take parameters: %s", s)
		}
		return Backlog(), nil
	}
	return nil, fmt.Errorf("unknown policy name: %s (should be one of -- forever|backlog)", typ)
}

// Policy decides the next step of a loop from the outcome of a tick.
type Policy interface {
	// Next receives whether the tick did something and may have left backlog.
	Next(updated bool, err error) loop.Next
	String() string
}

// Forever ticks every cooldown, whatever the tick did.
//
// Backlog left by a tick waits for the next one, so that the cooldown bounds
// how often the loop hits the database and what it runs.
func Forever(cooldown time.Duration) Policy {
	return forever(cooldown)
}

type forever time.Duration

func (f forever) String() string {
	return fmt.Sprintf("forever:%s", time.Duration(f).String())
}

func (f forever) Next(bool, error) loop.Next {
	return loop.Continue(time.Duration(f))
}

// Cooldown returns the cooldown of a Forever policy, and false for others.
func Cooldown(p Policy) (time.Duration, bool) {
	if f, ok := p.(forever); ok {
		return time.Duration(f), true
	}
	return 0, false
}

// Backlog ticks again at once while there is backlog, otherwise breaks.
func Backlog() Policy {
	return backlog
}

type backlogPolicy struct{}

func (backlogPolicy) String() string {
	return "backlog"
}

func (backlogPolicy) Next(updated bool, _ error) loop.Next {
	if updated {
		return loop.Continue(0)
	}
	return loop.Break(nil)
}

var backlog = backlogPolicy{}
