package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/concierge/internal/model"
)

func TestStripNULPayload(t *testing.T) {
	in := map[string]any{
		"na\x00me": "Bloom\x00 Studio",
		"n":        float64(3),
		"nested": map[string]any{
			"list":  []any{"a\x00", map[string]any{"k": "\x00v"}, true},
			"typed": []string{"x\x00y"},
			"flat":  map[string]string{"\x00a": "b\x00"},
		},
	}
	got := StripNULPayload(in)

	assert.Equal(t, map[string]any{
		"name": "Bloom Studio",
		"n":    float64(3),
		"nested": map[string]any{
			"list":  []any{"a", map[string]any{"k": "v"}, true},
			"typed": []string{"xy"},
			"flat":  map[string]string{"a": "b"},
		},
	}, got)
	assert.Equal(t, "Bloom\x00 Studio", in["na\x00me"], "input is untouched")
	assert.Nil(t, StripNULPayload(nil))
}

func TestStripNULMessages(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	in := []model.Message{
		model.TextMessage(model.RoleUser, "hi\x00 there", at),
		{Role: model.RoleModel, Parts: []model.Part{{Text: "a\x00"}, {Text: "b"}}, At: at},
	}
	got := StripNULMessages(in)

	assert.Equal(t, "hi there", got[0].Text())
	assert.Equal(t, "ab", got[1].Text())
	assert.Equal(t, at, got[1].At)
	assert.Equal(t, "hi\x00 there", in[0].Text(), "input is untouched")
	assert.Nil(t, StripNULMessages(nil))
}
