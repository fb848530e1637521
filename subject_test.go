package thingmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	house := ThingAddress("org.acme:house-1")
	smoke := FeatureAddress("org.acme:house-1", "smoke")
	other := ThingAddress("org.acme:house-2")

	tests := map[string]struct {
		scope   Scope
		pattern SubjectPattern
		addr    Address
		subject string
		want    bool
	}{
		"global wildcard matches thing":        {Global(), AnySubject(), house, "anything", true},
		"global wildcard matches feature":      {Global(), AnySubject(), smoke, "x", true},
		"global wildcard matches no address":   {Global(), AnySubject(), Address{}, "x", true},
		"global literal matches subject":       {Global(), Subject("ping"), house, "ping", true},
		"global literal rejects other subject": {Global(), Subject("ping"), house, "pong", false},
		"thing scope matches the thing":        {ForThing("org.acme:house-1"), AnySubject(), house, "x", true},
		"thing scope matches its feature":      {ForThing("org.acme:house-1"), AnySubject(), smoke, "x", true},
		"thing scope rejects other thing":      {ForThing("org.acme:house-1"), AnySubject(), other, "x", false},
		"thing scope rejects global message":   {ForThing("org.acme:house-1"), AnySubject(), Address{}, "x", false},
		"feature scope matches the feature":    {ForFeature("org.acme:house-1", "smoke"), AnySubject(), smoke, "x", true},
		"feature scope rejects the bare thing": {ForFeature("org.acme:house-1", "smoke"), AnySubject(), house, "x", false},
		"feature scope rejects other feature":  {ForFeature("org.acme:house-1", "heat"), AnySubject(), smoke, "x", false},
		"literal is case sensitive":            {Global(), Subject("Ping"), house, "ping", false},
		"literal star is not a wildcard":       {Global(), Subject("*"), house, "ping", false},
		"literal star matches star":            {Global(), Subject("*"), house, "*", true},
		"empty literal matches empty subject":  {Global(), Subject(""), house, "", true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.scope, tt.pattern, tt.addr, tt.subject))
		})
	}
}

func TestParseSubjectPattern(t *testing.T) {
	assert.True(t, ParseSubjectPattern("*").IsWildcard())
	assert.False(t, ParseSubjectPattern("a*").IsWildcard())
	assert.Equal(t, "*", AnySubject().String())
	assert.Equal(t, "alarm", ParseSubjectPattern("alarm").String())
}

func TestScope(t *testing.T) {
	t.Run("levels", func(t *testing.T) {
		assert.Equal(t, LevelGlobal, Global().Level())
		assert.Equal(t, LevelThing, ForThing("t").Level())
		assert.Equal(t, LevelFeature, ForFeature("t", "f").Level())
	})

	t.Run("strings", func(t *testing.T) {
		assert.Equal(t, "global:*", Global().String())
		assert.Equal(t, "thing:org.acme:house-1", ForThing("org.acme:house-1").String())
		assert.Equal(t, "feature:t/features/f", ForFeature("t", "f").String())
	})
}

func TestAddressValidate(t *testing.T) {
	assert.NoError(t, Address{}.Validate())
	assert.NoError(t, ThingAddress("t").Validate())
	assert.NoError(t, FeatureAddress("t", "f").Validate())
	assert.Error(t, Address{Feature: "f"}.Validate())
}

func TestScopeValidate(t *testing.T) {
	assert.NoError(t, Global().Validate())
	assert.NoError(t, ForThing("t").Validate())
	assert.NoError(t, ForFeature("t", "f").Validate())
	assert.Error(t, ForThing("").Validate())
	assert.Error(t, ForFeature("", "f").Validate())
	assert.Error(t, ForFeature("t", "").Validate())

	t.Run("empty thing id does not widen to global", func(t *testing.T) {
		s := ForThing("")
		assert.Equal(t, LevelThing, s.Level())
		assert.False(t, s.Contains(ThingAddress("other")))
	})
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"to":     DirectionTo,
		"inbox":  DirectionTo,
		"FROM":   DirectionFrom,
		"outbox": DirectionFrom,
		"":       DirectionUnset,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDirection(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}
