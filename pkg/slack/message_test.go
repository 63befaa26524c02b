package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

func TestBuildNotificationMessage_CallFailed(t *testing.T) {
	n := &models.Notification{
		CallID:   "call-1",
		Kind:     models.KindCallFailed,
		Priority: models.PriorityUrgent,
		Payload:  map[string]any{"reason": "ring_timeout"},
	}
	blocks := BuildNotificationMessage(n, "https://dash.example.com")

	require.Len(t, blocks, 3)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
	assert.Contains(t, header.Text.Text, "Call Failed")
	assert.Contains(t, header.Text.Text, "urgent")

	detail := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "ring_timeout")

	action := blocks[2].(*goslack.ActionBlock)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "View Call", btn.Text.Text)
	assert.Contains(t, btn.URL, "https://dash.example.com/calls/call-1")
}

func TestBuildNotificationMessage_CallCompletedNoPayload(t *testing.T) {
	n := &models.Notification{
		CallID:   "call-2",
		Kind:     models.KindCallCompleted,
		Priority: models.PriorityNormal,
	}
	blocks := BuildNotificationMessage(n, "https://dash.example.com")

	require.Len(t, blocks, 2)
	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Call Completed")
}

func TestBuildNotificationMessage_UnknownKindFallsBackToBell(t *testing.T) {
	n := &models.Notification{
		CallID:   "call-3",
		Kind:     models.NotificationKind("custom_event"),
		Priority: models.PriorityLow,
	}
	blocks := BuildNotificationMessage(n, "https://dash.example.com")

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":bell:")
	assert.Contains(t, header.Text.Text, "custom_event")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result), "result should be valid UTF-8")
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
