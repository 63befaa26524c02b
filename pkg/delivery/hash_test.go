package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

func TestRequestHash_StableAcrossMapOrdering(t *testing.T) {
	req1 := &models.EnqueueMessageRequest{
		To: "+15555550100", Channel: models.ChannelSMS,
		Variables: map[string]any{"a": 1, "b": 2, "c": 3},
	}
	req2 := &models.EnqueueMessageRequest{
		To: "+15555550100", Channel: models.ChannelSMS,
		Variables: map[string]any{"c": 3, "a": 1, "b": 2},
	}

	h1, err := requestHash(req1)
	require.NoError(t, err)
	h2, err := requestHash(req2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestRequestHash_DiffersOnContentChange(t *testing.T) {
	base := &models.EnqueueMessageRequest{To: "a@example.com", Subject: "hello"}
	changed := &models.EnqueueMessageRequest{To: "a@example.com", Subject: "goodbye"}

	h1, err := requestHash(base)
	require.NoError(t, err)
	h2, err := requestHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
