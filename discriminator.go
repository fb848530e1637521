package thingmsg

// Matcher is a predicate over inbound messages. Registrations always match
// on scope and subject; matchers attached with WithFilter narrow that further.
type Matcher interface {
	Match(msg InboundMessage) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(msg InboundMessage) bool

// Match implements Matcher.
func (f MatcherFunc) Match(msg InboundMessage) bool { return f(msg) }

// SubjectIs matches messages whose subject satisfies p.
func SubjectIs(p SubjectPattern) Matcher {
	return MatcherFunc(func(msg InboundMessage) bool {
		return p.Matches(msg.Subject)
	})
}

// InScope matches messages addressed inside s.
func InScope(s Scope) Matcher {
	return MatcherFunc(func(msg InboundMessage) bool {
		return s.Contains(msg.Address)
	})
}

// HasDirection matches messages sent in direction d.
func HasDirection(d Direction) Matcher {
	return MatcherFunc(func(msg InboundMessage) bool {
		return msg.Direction == d
	})
}

// ContentTypeIs matches messages declared with the media type ct; parameters
// such as charset are ignored.
func ContentTypeIs(ct string) Matcher {
	want := mediaType(ct)
	return MatcherFunc(func(msg InboundMessage) bool {
		return mediaType(msg.ContentType) == want
	})
}

// PayloadHasFields matches payloads in which every path exists. Payloads
// are read with the inspector InspectorFor picks for their content type;
// those it cannot inspect never match.
func PayloadHasFields(paths ...string) Matcher {
	return payloadMatcher{check: func(v View) bool {
		for _, p := range paths {
			if !v.HasField(p) {
				return false
			}
		}
		return true
	}}
}

// PayloadFieldEquals matches payloads where path holds the string value.
func PayloadFieldEquals(path, value string) Matcher {
	return payloadMatcher{check: func(v View) bool {
		s, ok := v.GetString(path)
		return ok && s == value
	}}
}

type payloadMatcher struct {
	check func(View) bool
}

func (m payloadMatcher) Match(msg InboundMessage) bool {
	if !msg.HasPayload() {
		return false
	}
	in, ok := InspectorFor(msg.ContentType)
	if !ok {
		return false
	}
	v, err := in.Inspect(msg.Payload)
	if err != nil {
		return false
	}
	return m.check(v)
}

// And matches when every matcher matches.
func And(ms ...Matcher) Matcher {
	return MatcherFunc(func(msg InboundMessage) bool {
		for _, m := range ms {
			if !m.Match(msg) {
				return false
			}
		}
		return true
	})
}

// Or matches when any matcher matches.
func Or(ms ...Matcher) Matcher {
	return MatcherFunc(func(msg InboundMessage) bool {
		for _, m := range ms {
			if m.Match(msg) {
				return true
			}
		}
		return false
	})
}

// Not inverts m.
func Not(m Matcher) Matcher {
	return MatcherFunc(func(msg InboundMessage) bool {
		return !m.Match(msg)
	})
}
