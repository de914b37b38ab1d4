package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/concierge/internal/model"
)

func TestChatRequestValidate_HappyPath(t *testing.T) {
	assert.NoError(t, model.ChatRequest{Message: "we run a yoga studio"}.Validate())
}

func TestChatRequestValidate_Blank(t *testing.T) {
	for _, msg := range []string{"", "   ", "\n\t"} {
		err := model.ChatRequest{Message: msg}.Validate()
		require.Error(t, err, "expected error for %q", msg)
		assert.Contains(t, err.Error(), "message is required")
	}
}

func TestChatRequestValidate_AtExactMax(t *testing.T) {
	r := model.ChatRequest{Message: strings.Repeat("x", model.MaxChatMessageLen)}
	assert.NoError(t, r.Validate(), "at the limit should pass")
}

func TestChatRequestValidate_OverMax(t *testing.T) {
	r := model.ChatRequest{Message: strings.Repeat("x", model.MaxChatMessageLen+1)}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum length")
}
