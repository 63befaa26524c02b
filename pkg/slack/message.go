package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

const maxBlockTextLength = 2900

var kindEmoji = map[models.NotificationKind]string{
	models.KindCallFailed:     ":x:",
	models.KindCallCompleted:  ":white_check_mark:",
	models.KindCallTranscript: ":speech_balloon:",
}

var kindLabel = map[models.NotificationKind]string{
	models.KindCallFailed:     "Call Failed",
	models.KindCallCompleted:  "Call Completed",
	models.KindCallTranscript: "Call Transcript",
}

func callURL(callID, dashboardURL string) string {
	return fmt.Sprintf("%s/calls/%s", dashboardURL, callID)
}

// BuildNotificationMessage renders one Notification as Block Kit blocks
// for posting to the fan-out channel.
func BuildNotificationMessage(n *models.Notification, dashboardURL string) []goslack.Block {
	emoji := kindEmoji[n.Kind]
	if emoji == "" {
		emoji = ":bell:"
	}
	label := kindLabel[n.Kind]
	if label == "" {
		label = string(n.Kind)
	}

	headerText := fmt.Sprintf("%s *%s* (%s)", emoji, label, n.Priority)
	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))

	if detail := payloadDetail(n); detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(detail), false, false),
			nil, nil,
		))
	}

	url := callURL(n.CallID, dashboardURL)
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Call", false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// payloadDetail pulls the most relevant free-text field out of a
// notification's payload, if any was attached at fan-out time (§4.6).
func payloadDetail(n *models.Notification) string {
	for _, key := range []string{"reason", "message", "summary"} {
		if v, ok := n.Payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func truncateForSlack(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBlockTextLength {
		return text
	}
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
