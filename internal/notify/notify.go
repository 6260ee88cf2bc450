// Package notify tells a human reviewer that a drafted email awaits approval.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
)

// Notifier delivers approval requests to a reviewer.
type Notifier interface {
	NotifyApproval(ctx context.Context, a model.Approval) error
}

// New returns a Slack notifier when webhookURL is set and a LogNotifier
// otherwise.
func New(webhookURL, publicBaseURL string) Notifier {
	if webhookURL == "" {
		zap.L().Warn("notify: slack webhook not configured, approval requests will only be logged")
		return LogNotifier{}
	}
	return NewSlack(webhookURL, publicBaseURL)
}

// LogNotifier writes approval requests to the log.
type LogNotifier struct{}

// NotifyApproval implements Notifier.
func (LogNotifier) NotifyApproval(_ context.Context, a model.Approval) error {
	zap.L().Info("notify: approval pending",
		zap.String("approval_id", a.ID),
		zap.String("lead", a.Lead.Email),
		zap.String("category", string(a.Qualification.Category)),
	)
	return nil
}

// Slack posts approval requests to a Slack incoming webhook.
type Slack struct {
	webhookURL    string
	publicBaseURL string
	client        *http.Client
}

// NewSlack creates a Slack notifier. publicBaseURL is used to link the
// approval endpoints in the message.
func NewSlack(webhookURL, publicBaseURL string) *Slack {
	return &Slack{
		webhookURL:    webhookURL,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NotifyApproval implements Notifier.
func (s *Slack) NotifyApproval(ctx context.Context, a model.Approval) error {
	payload, err := json.Marshal(s.message(a))
	if err != nil {
		return eris.Wrap(err, "notify: marshal slack message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: slack request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: slack webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("notify: approval request sent", zap.String("approval_id", a.ID))
	return nil
}

func (s *Slack) message(a model.Approval) slackMessage {
	summary := fmt.Sprintf("*New %s lead:* %s <%s>", a.Qualification.Category, a.Lead.Name, a.Lead.Email)
	if a.Lead.Company != "" {
		summary += " at " + a.Lead.Company
	}

	endpoint := fmt.Sprintf("%s/api/approvals/%s", s.publicBaseURL, a.ID)
	actions := fmt.Sprintf("Approve: `POST %s/approve`\nReject: `POST %s/reject`", endpoint, endpoint)

	section := func(text string) slackBlock {
		return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}}
	}

	return slackMessage{
		Text: summary,
		Blocks: []slackBlock{
			section(summary + "\n_" + a.Qualification.Reason + "_"),
			section("*Research*\n" + clip(a.Research, 2500)),
			section("*Draft email*\n```" + clip(a.Email, 2500) + "```"),
			section(actions),
		},
	}
}

// clip keeps s within Slack's section text limit.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
