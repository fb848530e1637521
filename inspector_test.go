package thingmsg

import (
	"testing"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type JSONInspectorSuite struct {
	suite.Suite
	inspector Inspector
}

func (s *JSONInspectorSuite) SetupTest() {
	s.inspector = JSONInspector()
}

func TestJSONInspectorSuite(t *testing.T) {
	suite.Run(t, new(JSONInspectorSuite))
}

func (s *JSONInspectorSuite) TestInspectsValidJSON() {
	view, err := s.inspector.Inspect([]byte(`{"level": "critical"}`))

	s.Require().NoError(err)
	s.Assert().NotNil(view)
}

func (s *JSONInspectorSuite) TestRejectsInvalidJSON() {
	_, err := s.inspector.Inspect([]byte(`{level: critical}`))

	s.Assert().ErrorIs(err, ErrInvalidJSON)
}

func (s *JSONInspectorSuite) TestRejectsEmptyInput() {
	_, err := s.inspector.Inspect(nil)

	s.Assert().ErrorIs(err, ErrInvalidJSON)
}

type JSONViewSuite struct {
	suite.Suite
	view View
}

func (s *JSONViewSuite) SetupTest() {
	raw := []byte(`{
		"level": "critical",
		"room": {"name": "kitchen", "floor": 1},
		"sensors": [{"id": "s1", "armed": true}],
		"reading": 41.5
	}`)

	var err error
	s.view, err = JSONInspector().Inspect(raw)
	s.Require().NoError(err)
}

func TestJSONViewSuite(t *testing.T) {
	suite.Run(t, new(JSONViewSuite))
}

func (s *JSONViewSuite) TestHasField() {
	tests := map[string]struct {
		path   string
		exists bool
	}{
		"top level":        {"level", true},
		"nested":           {"room.name", true},
		"array element":    {"sensors.0.id", true},
		"missing":          {"battery", false},
		"missing nested":   {"room.door", false},
		"index past array": {"sensors.3", false},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			s.Assert().Equal(tt.exists, s.view.HasField(tt.path))
		})
	}
}

func (s *JSONViewSuite) TestGetString() {
	v, ok := s.view.GetString("room.name")
	s.Require().True(ok)
	s.Assert().Equal("kitchen", v)

	_, ok = s.view.GetString("room.floor")
	s.Assert().False(ok, "numbers are not strings")

	_, ok = s.view.GetString("sensors.0.armed")
	s.Assert().False(ok, "booleans are not strings")

	_, ok = s.view.GetString("missing")
	s.Assert().False(ok)
}

func (s *JSONViewSuite) TestGetBytesKeepsEncoding() {
	v, ok := s.view.GetBytes("level")
	s.Require().True(ok)
	s.Assert().Equal(`"critical"`, string(v))

	v, ok = s.view.GetBytes("reading")
	s.Require().True(ok)
	s.Assert().Equal("41.5", string(v))

	v, ok = s.view.GetBytes("room")
	s.Require().True(ok)
	s.Assert().Equal(`{"name": "kitchen", "floor": 1}`, string(v))

	_, ok = s.view.GetBytes("missing")
	s.Assert().False(ok)
}

func (s *JSONViewSuite) TestGet() {
	s.Assert().Equal(int64(1), s.view.Get("room.floor").Int())
	s.Assert().True(s.view.Get("sensors.0.armed").Bool())
	s.Assert().False(s.view.Get("missing").Exists())
}

func TestCBORInspector(t *testing.T) {
	raw, err := cbor.Marshal(map[string]any{
		"level": "critical",
		"room":  map[string]any{"name": "kitchen", "floor": 1},
	})
	require.NoError(t, err)

	view, err := CBORInspector().Inspect(raw)
	require.NoError(t, err)

	level, ok := view.GetString("level")
	assert.True(t, ok)
	assert.Equal(t, "critical", level)
	assert.True(t, view.HasField("room.name"))
	assert.Equal(t, int64(1), view.Get("room.floor").Int())

	t.Run("invalid input", func(t *testing.T) {
		_, err := CBORInspector().Inspect([]byte{0xff, 0x00})
		assert.ErrorIs(t, err, ErrInvalidCBOR)
	})
}

func TestInspectorFor(t *testing.T) {
	tests := map[string]struct {
		contentType string
		want        Inspector
	}{
		"json":           {ContentTypeJSON, JSONInspector()},
		"json parameter": {"application/json; charset=utf-8", JSONInspector()},
		"vendor json":    {"application/vnd.example.user+json", JSONInspector()},
		"undeclared":     {"", JSONInspector()},
		"cbor":           {ContentTypeCBOR, CBORInspector()},
		"vendor cbor":    {"application/vnd.example.reading+cbor", CBORInspector()},
		"text":           {ContentTypeText, nil},
		"binary":         {ContentTypeBinary, nil},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := InspectorFor(tt.contentType)
			assert.Equal(t, tt.want != nil, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
