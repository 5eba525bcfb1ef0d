package xhub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indentCodec writes indented JSON; any JSON codec must interoperate with the default one.
type indentCodec struct{ JSONCodec }

func (indentCodec) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

func (indentCodec) Name() string { return "json-indent" }

func TestCodecRegistry(t *testing.T) {
	c, err := NewCodec(DefaultCodec)
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = NewCodec("nope")
	assert.ErrorContains(t, err, "nope")

	require.NoError(t, RegisterCodec("json-indent", func() Codec { return indentCodec{} }))
	assert.ErrorIs(t, RegisterCodec("json-indent", func() Codec { return indentCodec{} }), ErrDuplicateIdentifier)
	assert.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
	assert.Error(t, RegisterCodec("empty", nil))
	assert.Contains(t, Codecs(), "json-indent")

	ic, err := NewCodec("json-indent")
	require.NoError(t, err)
	env := Envelope{ID: "1", Origin: "A", EventID: "e", Payload: MustPayload(map[string]int{"a": 1})}
	text, err := EncodeEnvelope(ic, env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(JSONCodec{}, text)
	require.NoError(t, err)
	assert.True(t, env.Equal(got))
}
