// Package slack delivers alert notifications to Slack via incoming webhooks.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/slack-go/slack"

	"github.com/Mikeedozie/PAMS/internal/alerting"
)

const (
	maxDescriptionLen = 2000
	httpTimeout       = 10 * time.Second
)

// Notifier posts notification requests to a Slack webhook. It satisfies
// alerting.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts req to the configured webhook. A non-2xx reply is an error so
// the caller can retry on its next pass.
func (n *Notifier) Notify(ctx context.Context, req *alerting.NotificationRequest) error {
	if n.webhookURL == "" {
		return nil
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, buildMessage(req)); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	n.logger.Info(ctx, "slack notification sent",
		"alert_id", req.AlertID,
		"escalation_level", req.EscalationLevel,
		"recipients", req.RecipientsHint,
	)
	return nil
}

func buildMessage(r *alerting.NotificationRequest) *slack.WebhookMessage {
	return &slack.WebhookMessage{
		Text: headerText(r),
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, headerText(r), true, false)),
			slack.NewDividerBlock(),
			fieldsBlock(r),
			descriptionBlock(r),
			slack.NewDividerBlock(),
			contextBlock(r),
		}},
	}
}

func headerText(r *alerting.NotificationRequest) string {
	verb := "New"
	if r.EscalationLevel > 0 {
		verb = fmt.Sprintf("Escalated (L%d)", r.EscalationLevel)
	}
	return fmt.Sprintf("%s %s %s alert: product %d %s", severityEmoji(r.Severity), verb, r.Tier, r.ProductID, r.Category)
}

func fieldsBlock(r *alerting.NotificationRequest) *slack.SectionBlock {
	field := func(label, value string) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s:* %s", label, value), false, false)
	}
	fields := []*slack.TextBlockObject{
		field("Severity", r.Severity.String()),
		field("Priority", r.Tier.String()),
		field("Category", r.Category.String()),
		field("Escalation", fmt.Sprintf("level %d", r.EscalationLevel)),
		field("Notify", r.RecipientsHint),
		field("SLA deadline", r.SLADeadline.UTC().Format("2006-01-02 15:04 UTC")),
	}
	return slack.NewSectionBlock(nil, fields, nil)
}

func descriptionBlock(r *alerting.NotificationRequest) *slack.SectionBlock {
	text := truncate(r.Description, maxDescriptionLen)
	if text == "" {
		text = "_No description._"
	}
	return slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, "*Description*\n\n"+text, false, false),
		nil, nil,
	)
}

func contextBlock(r *alerting.NotificationRequest) *slack.ContextBlock {
	return slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("pams • alert %s", r.AlertID), false, false),
	)
}

func severityEmoji(s alerting.Severity) string {
	switch s {
	case alerting.SeverityCritical:
		return "\U0001f534" // red circle
	case alerting.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case alerting.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	case alerting.SeverityLow, alerting.SeverityUnknown:
		return "\U0001f7e2" // green circle
	}
	return "\U0001f7e2"
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
