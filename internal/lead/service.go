package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/notify"
	"github.com/sells-group/lead-intake/pkg/anthropic"
	"github.com/sells-group/lead-intake/pkg/exa"
)

const (
	defaultModel      = "claude-haiku-4-5-20251001"
	defaultMaxTokens  = 1024
	researchResults   = 5
	processingTimeout = 5 * time.Minute
)

// ApprovalCreator persists drafted emails for human review.
type ApprovalCreator interface {
	Create(ctx context.Context, a model.Approval) (*model.Approval, error)
}

// Result is the outcome of processing one lead.
type Result struct {
	Lead          model.Lead          `json:"lead"`
	Research      string              `json:"research"`
	Qualification model.Qualification `json:"qualification"`
	Approval      *model.Approval     `json:"approval,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithSearch enables web search during research.
func WithSearch(c exa.Client) Option {
	return func(s *Service) { s.search = c }
}

// WithModel overrides the model and token limit used for every step.
func WithModel(model string, maxTokens int64) Option {
	return func(s *Service) {
		if model != "" {
			s.model = model
		}
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
	}
}

// Service runs research, qualification and email drafting for leads.
type Service struct {
	llm       anthropic.Client
	search    exa.Client
	approvals ApprovalCreator
	notifier  notify.Notifier
	model     string
	maxTokens int64

	wg sync.WaitGroup
}

// NewService creates a lead workflow. search is optional; without it the
// research brief is written from the form submission alone.
func NewService(llm anthropic.Client, approvals ApprovalCreator, notifier notify.Notifier, opts ...Option) *Service {
	s := &Service{
		llm:       llm,
		approvals: approvals,
		notifier:  notifier,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit processes l in the background. The work outlives ctx's
// cancellation but keeps its values. Call Wait to drain in-flight leads.
func (s *Service) Submit(ctx context.Context, l model.Lead) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processingTimeout)
		defer cancel()

		if _, err := s.Process(ctx, l); err != nil {
			zap.L().Error("lead: processing failed", zap.String("email", l.Email), zap.Error(err))
		}
	}()
}

// Wait blocks until every submitted lead has finished processing.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Process researches and qualifies l. Leads that need outreach get a
// drafted email stored as a pending approval and a reviewer notification.
func (s *Service) Process(ctx context.Context, l model.Lead) (*Result, error) {
	log := zap.L().With(zap.String("email", l.Email))

	research, err := s.Research(ctx, l)
	if err != nil {
		return nil, err
	}

	q, err := s.Qualify(ctx, l, research)
	if err != nil {
		return nil, err
	}
	log.Info("lead: qualified", zap.String("category", string(q.Category)), zap.String("reason", q.Reason))

	res := &Result{Lead: l, Research: research, Qualification: q}
	if !q.Category.NeedsOutreach() {
		return res, nil
	}

	email, err := s.DraftEmail(ctx, l, research, q)
	if err != nil {
		return nil, err
	}

	a, err := s.approvals.Create(ctx, model.Approval{
		Lead:          l,
		Research:      research,
		Email:         email,
		Qualification: q,
	})
	if err != nil {
		return nil, eris.Wrap(err, "lead: create approval")
	}
	res.Approval = a

	if err := s.notifier.NotifyApproval(ctx, *a); err != nil {
		log.Warn("lead: approval notification failed", zap.String("approval_id", a.ID), zap.Error(err))
	}
	return res, nil
}

// Research writes a short brief about the lead. A failed web search
// degrades to a brief based on the submission alone.
func (s *Service) Research(ctx context.Context, l model.Lead) (string, error) {
	snippets := "(none)"
	if s.search != nil {
		found, err := s.searchLead(ctx, l)
		if err != nil {
			zap.L().Warn("lead: web search failed, continuing without it", zap.String("email", l.Email), zap.Error(err))
		} else if found != "" {
			snippets = found
		}
	}

	prompt := fmt.Sprintf(researchUserPrompt, l.Name, l.Email, orUnknown(l.Company), l.Message, snippets)
	return s.ask(ctx, "research", researchSystemPrompt, prompt)
}

func (s *Service) searchLead(ctx context.Context, l model.Lead) (string, error) {
	query := researchQuery(l)
	if query == "" {
		return "", nil
	}

	resp, err := s.search.Search(ctx, exa.SearchRequest{
		Query:      query,
		NumResults: researchResults,
		Type:       "auto",
		Contents: &exa.Contents{
			Summary: &exa.SummaryOptions{Query: "What does this company do?"},
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, r := range resp.Results {
		text := r.Summary
		if text == "" {
			text = r.Text
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, text)
	}
	return strings.TrimSpace(b.String()), nil
}

// researchQuery prefers the company name and falls back to the email
// domain. Free-mail domains are not searched.
func researchQuery(l model.Lead) string {
	if l.Company != "" {
		return l.Company
	}
	at := strings.LastIndex(l.Email, "@")
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(l.Email[at+1:])
	if freeMail[domain] {
		return ""
	}
	return domain
}

var freeMail = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
	"icloud.com":  true,
	"aol.com":     true,
	"proton.me":   true,
}

// Qualify classifies the lead. A response that is not valid JSON or names
// an unknown category is an error.
func (s *Service) Qualify(ctx context.Context, l model.Lead, research string) (model.Qualification, error) {
	prompt := fmt.Sprintf(qualifyUserPrompt, l.Name, l.Email, orUnknown(l.Company), l.Message, research)
	text, err := s.ask(ctx, "qualify", qualifySystemPrompt, prompt)
	if err != nil {
		return model.Qualification{}, err
	}

	var q model.Qualification
	if err := json.Unmarshal([]byte(cleanJSON(text)), &q); err != nil {
		return model.Qualification{}, eris.Wrap(err, "lead: parse qualification")
	}
	q.Category = model.QualificationCategory(strings.ToUpper(strings.TrimSpace(string(q.Category))))
	if !q.Category.Valid() {
		return model.Qualification{}, eris.Errorf("lead: unknown qualification category %q", q.Category)
	}
	return q, nil
}

// DraftEmail writes a first-touch email for the lead.
func (s *Service) DraftEmail(ctx context.Context, l model.Lead, research string, q model.Qualification) (string, error) {
	prompt := fmt.Sprintf(emailUserPrompt, l.Name, l.Email, orUnknown(l.Company), q.Category, q.Reason, l.Message, research)
	return s.ask(ctx, "draft_email", emailSystemPrompt, prompt)
}

func (s *Service) ask(ctx context.Context, step, system, prompt string) (string, error) {
	resp, err := s.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", eris.Wrapf(err, "lead: %s", step)
	}
	resp.Usage.LogCost(s.model, step)

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", eris.Errorf("lead: %s: empty response", step)
	}
	return text, nil
}

func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON pulls a JSON object out of text that may carry markdown fences
// or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func orUnknown(s string) string {
	if s == "" {
		return "(not provided)"
	}
	return s
}
