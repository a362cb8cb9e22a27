package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	slackmdgo "github.com/snormore/slackmd/slackgo"
	"github.com/slack-go/slack"

	"github.com/malbeclabs/buddyup/internal/retry"
)

// SlackNotifier posts MPC events to an operator Slack channel, formatted as
// Slack-flavored markdown via slackmd. It's the one concrete Notifier this
// repo ships with; email/push remain named-interface-only per spec §1.
type SlackNotifier struct {
	api       *slack.Client
	channelID string
	log       *slog.Logger
	retryCfg  retry.Config
}

func NewSlackNotifier(botToken, channelID string, log *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:       slack.New(botToken),
		channelID: channelID,
		log:       log,
		retryCfg:  retry.DefaultConfig(),
	}
}

func (s *SlackNotifier) Emit(ctx context.Context, event Event) error {
	text := formatEvent(event)
	err := retry.Do(ctx, s.retryCfg, isSlackRetryable, func() error {
		_, postErr := slackmdgo.Post(ctx, s.api, s.channelID, text, slackmdgo.WithFallbackText(string(event.Name)))
		return postErr
	})
	if err != nil {
		// Log the failure and return it to the caller; the notification is
		// not re-sent, and nothing already committed by the caller is undone.
		s.log.Warn("slack notify failed", "event", event.Name, "error", err)
		return err
	}
	return nil
}

func formatEvent(event Event) string {
	var pretty map[string]any
	_ = json.Unmarshal(event.Payload, &pretty)

	md := fmt.Sprintf("*%s*\n", event.Name)
	for k, v := range pretty {
		md += fmt.Sprintf("- `%s`: %v\n", k, v)
	}
	return md
}

func isSlackRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate-limited and server-side errors are worth a retry; malformed
	// requests or auth failures are not.
	switch err.Error() {
	case "rate_limited", "internal_error", "service_unavailable":
		return true
	default:
		return false
	}
}
