package thingmsg

import (
	"errors"
	"fmt"
	"strings"
)

// ThingID identifies an addressable entity, usually "<namespace>:<name>".
type ThingID string

// FeatureID identifies a sub-component of a thing.
type FeatureID string

// Direction tells whether a message travels to a thing (its inbox) or
// originates from it (its outbox).
type Direction int

const (
	// DirectionUnset means the sender did not choose a direction.
	DirectionUnset Direction = iota
	// DirectionTo addresses the inbox of a thing or feature.
	DirectionTo
	// DirectionFrom marks a message emitted by a thing or feature.
	DirectionFrom
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionTo:
		return "to"
	case DirectionFrom:
		return "from"
	default:
		return "unset"
	}
}

// ParseDirection parses "to"/"inbox" and "from"/"outbox".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "to", "inbox":
		return DirectionTo, nil
	case "from", "outbox":
		return DirectionFrom, nil
	case "", "unset":
		return DirectionUnset, nil
	default:
		return DirectionUnset, fmt.Errorf("unknown direction %q", s)
	}
}

// Address locates a message: nowhere in particular (global), a thing, or a
// feature of a thing.
type Address struct {
	Thing   ThingID
	Feature FeatureID
}

// ThingAddress returns the address of a thing.
func ThingAddress(id ThingID) Address {
	return Address{Thing: id}
}

// FeatureAddress returns the address of a feature of a thing.
func FeatureAddress(id ThingID, feature FeatureID) Address {
	return Address{Thing: id, Feature: feature}
}

// IsGlobal reports whether the address names no thing at all.
func (a Address) IsGlobal() bool {
	return a.Thing == "" && a.Feature == ""
}

// Validate checks that a feature is never addressed without its thing.
func (a Address) Validate() error {
	if a.Feature != "" && a.Thing == "" {
		return fmt.Errorf("feature %q addressed without a thing", a.Feature)
	}
	return nil
}

func (a Address) String() string {
	switch {
	case a.IsGlobal():
		return "*"
	case a.Feature == "":
		return string(a.Thing)
	default:
		return string(a.Thing) + "/features/" + string(a.Feature)
	}
}

// Level is the granularity of a registration scope.
type Level int

const (
	LevelGlobal Level = iota
	LevelThing
	LevelFeature
)

func (l Level) String() string {
	switch l {
	case LevelThing:
		return "thing"
	case LevelFeature:
		return "feature"
	default:
		return "global"
	}
}

// Scope is the address range a registration listens to.
//
// A global scope receives every message. A thing scope receives messages
// addressed to the thing and to any of its features. A feature scope only
// receives messages addressed to that exact feature.
type Scope struct {
	level Level
	addr  Address
}

// Global returns the scope matching every address.
func Global() Scope {
	return Scope{}
}

// ForThing returns a scope covering a thing and all of its features.
func ForThing(id ThingID) Scope {
	return Scope{level: LevelThing, addr: ThingAddress(id)}
}

// ForFeature returns a scope covering a single feature of a thing.
func ForFeature(id ThingID, feature FeatureID) Scope {
	return Scope{level: LevelFeature, addr: FeatureAddress(id, feature)}
}

// Address returns the address the scope is anchored at.
func (s Scope) Address() Address {
	return s.addr
}

// Level returns the granularity of the scope.
func (s Scope) Level() Level {
	return s.level
}

// Validate checks that a thing scope names its thing and a feature scope
// names both the thing and the feature. An empty id never widens a scope.
func (s Scope) Validate() error {
	switch s.level {
	case LevelGlobal:
		return nil
	case LevelThing:
		if s.addr.Thing == "" {
			return errors.New("thing scope with empty thing id")
		}
	case LevelFeature:
		if s.addr.Thing == "" || s.addr.Feature == "" {
			return fmt.Errorf("feature scope needs thing and feature, got %q", s.addr)
		}
	default:
		return fmt.Errorf("unknown scope level %d", s.level)
	}
	return nil
}

// Contains reports whether addr falls inside the scope.
func (s Scope) Contains(addr Address) bool {
	switch s.Level() {
	case LevelGlobal:
		return true
	case LevelThing:
		return addr.Thing == s.addr.Thing
	default:
		return addr.Thing == s.addr.Thing && addr.Feature == s.addr.Feature
	}
}

func (s Scope) String() string {
	return s.Level().String() + ":" + s.addr.String()
}
