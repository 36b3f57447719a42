package httpstages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_DecodesObject(t *testing.T) {
	step := ParseJSON()
	out, err := step(context.Background(), []byte(`{"a":1,"b":"x"}`), nil)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok, "expected map, got %T", out)
	assert.Equal(t, float64(1), m["a"])
	assert.Equal(t, "x", m["b"])
}

func TestParseJSON_StringInput(t *testing.T) {
	step := ParseJSON()
	out, err := step(context.Background(), `[1,2]`, nil)
	require.NoError(t, err)

	sl, ok := out.([]any)
	require.True(t, ok, "expected slice, got %T", out)
	assert.Len(t, sl, 2)
}

func TestParseJSON_RejectsUnsupportedInputType(t *testing.T) {
	step := ParseJSON()
	_, err := step(context.Background(), 42, nil)
	require.Error(t, err)
}

func TestParseJSONTo_DecodesIntoStruct(t *testing.T) {
	type payload struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	step := ParseJSONTo[payload]()
	out, err := step(context.Background(), []byte(`{"a":1,"b":"x"}`), nil)
	require.NoError(t, err)

	ptr, ok := out.(*payload)
	require.True(t, ok, "expected *payload, got %T", out)
	assert.Equal(t, payload{A: 1, B: "x"}, *ptr)
}
