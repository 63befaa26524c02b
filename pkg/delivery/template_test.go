package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

func TestResolveTemplate_NoTemplateIDPassesInlineContentThrough(t *testing.T) {
	req := &models.EnqueueMessageRequest{Subject: "hi", Body: "plain body"}
	subject, html, text, body, err := resolveTemplate(nil, req)
	require.NoError(t, err)
	assert.Equal(t, "hi", subject)
	assert.Empty(t, html)
	assert.Empty(t, text)
	assert.Equal(t, "plain body", body)
}

func TestResolveTemplate_SubstitutesVariables(t *testing.T) {
	store := NewMemoryTemplateStore(&Template{
		ID:      "welcome",
		Subject: "Welcome, {{name}}",
		Text:    "Hi {{name}}, your code is {{code}}.",
	})
	req := &models.EnqueueMessageRequest{
		TemplateID: "welcome",
		Variables:  map[string]any{"name": "Ada", "code": 4242},
	}

	subject, _, text, _, err := resolveTemplate(store, req)
	require.NoError(t, err)
	assert.Equal(t, "Welcome, Ada", subject)
	assert.Equal(t, "Hi Ada, your code is 4242.", text)
}

func TestResolveTemplate_MissingVariableErrors(t *testing.T) {
	store := NewMemoryTemplateStore(&Template{ID: "otp", Text: "Your code: {{code}}"})
	req := &models.EnqueueMessageRequest{TemplateID: "otp", Variables: map[string]any{}}

	_, _, _, _, err := resolveTemplate(store, req)
	require.Error(t, err)
	var missing *ErrMissingVariables
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"code"}, missing.Names)
}

func TestResolveTemplate_UnknownTemplateID(t *testing.T) {
	store := NewMemoryTemplateStore()
	req := &models.EnqueueMessageRequest{TemplateID: "missing"}
	_, _, _, _, err := resolveTemplate(store, req)
	require.ErrorIs(t, err, ErrTemplateNotFound)
}
