package domain

import (
	"errors"
	"fmt"
	"strings"
)

// LoopType names a scheduling loop of the worker.
type LoopType string

const (
	DiscoveryLoop LoopType = "discovery"
	ConnectorLoop LoopType = "connectors"
)

func (lt LoopType) String() string {
	return string(lt)
}

func (lt LoopType) IsKnown() bool {
	switch lt {
	case DiscoveryLoop, ConnectorLoop:
		return true
	default:
		return false
	}
}

func AsLoopType(s string) (LoopType, error) {
	l := LoopType(s)
	if l.IsKnown() {
		return l, nil
	}
	return l, fmt.Errorf(`%w: "%s"`, ErrUnknownLoopType, s)
}

var ErrUnknownLoopType = errors.New("unknown loop type")

// LoopSet is a set of loops, written as "discovery,connectors".
type LoopSet map[LoopType]struct{}

func AllLoops() LoopSet {
	return LoopSet{DiscoveryLoop: {}, ConnectorLoop: {}}
}

func AsLoopSet(s string) (LoopSet, error) {
	set := LoopSet{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lt, err := AsLoopType(item)
		if err != nil {
			return nil, err
		}
		set[lt] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: no loops in %q", ErrUnknownLoopType, s)
	}
	return set, nil
}

func (ls LoopSet) Has(lt LoopType) bool {
	_, ok := ls[lt]
	return ok
}

func (ls LoopSet) String() string {
	names := []string{}
	for _, lt := range []LoopType{DiscoveryLoop, ConnectorLoop} {
		if ls.Has(lt) {
			names = append(names, lt.String())
		}
	}
	return strings.Join(names, ",")
}
