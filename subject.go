package thingmsg

// Wildcard is the subject token that matches every subject.
const Wildcard = "*"

// SubjectPattern selects messages by subject: either one literal subject or
// every subject. There is no partial or glob matching.
type SubjectPattern struct {
	literal string
	any     bool
}

// AnySubject returns the pattern matching every subject.
func AnySubject() SubjectPattern {
	return SubjectPattern{any: true}
}

// Subject returns a pattern matching exactly the given subject.
//
// Subject("*") is the literal subject "*"; use AnySubject or
// ParseSubjectPattern for the wildcard.
func Subject(s string) SubjectPattern {
	return SubjectPattern{literal: s}
}

// ParseSubjectPattern treats "*" as the wildcard and anything else as a literal.
func ParseSubjectPattern(s string) SubjectPattern {
	if s == Wildcard {
		return AnySubject()
	}
	return Subject(s)
}

// IsWildcard reports whether the pattern matches every subject.
func (p SubjectPattern) IsWildcard() bool {
	return p.any
}

// Matches reports whether subject satisfies the pattern.
func (p SubjectPattern) Matches(subject string) bool {
	return p.any || p.literal == subject
}

func (p SubjectPattern) String() string {
	if p.any {
		return Wildcard
	}
	return p.literal
}

// Matches reports whether a registration with the given scope and subject
// pattern receives a message with the given address and subject.
func Matches(scope Scope, pattern SubjectPattern, addr Address, subject string) bool {
	return scope.Contains(addr) && pattern.Matches(subject)
}
