package serde

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestString(t *testing.T) {
	b, err := String.Serializer("hello")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	s, err := String.Deserializer(b)
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestInt64(t *testing.T) {
	tests := []struct {
		name  string
		input int64
	}{
		{name: "zero", input: 0},
		{name: "positive", input: 42},
		{name: "negative", input: -42},
		{name: "max", input: 1<<63 - 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Int64.Serializer(tc.input)
			assert.NoError(t, err)
			assert.Equal(t, 8, len(b))

			got, err := Int64.Deserializer(b)
			assert.NoError(t, err)
			assert.Equal(t, tc.input, got)
		})
	}
}

func TestInt64RejectsWrongLength(t *testing.T) {
	_, err := Int64.Deserializer([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestInt32RejectsWrongLength(t *testing.T) {
	_, err := Int32.Deserializer(make([]byte, 8))
	assert.Error(t, err)
}

func TestJSON(t *testing.T) {
	type payload struct {
		ID   string `json:"id"`
		Size int    `json:"size"`
	}

	s := JSON[payload]()
	b, err := s.Serializer(payload{ID: "123", Size: 7})
	assert.NoError(t, err)

	got, err := s.Deserializer(b)
	assert.NoError(t, err)
	assert.Equal(t, payload{ID: "123", Size: 7}, got)
}

func TestJSONRejectsGarbage(t *testing.T) {
	_, err := JSONDeserializer[map[string]string]()([]byte("{not json"))
	assert.Error(t, err)
}
