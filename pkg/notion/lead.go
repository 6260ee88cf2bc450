package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
)

// Lead database property names.
const (
	PropName     = "Name"
	PropEmail    = "Email"
	PropPhone    = "Phone"
	PropCompany  = "Company"
	PropCategory = "Category"
	PropStatus   = "Status"
	PropReason   = "Reason"
	PropMessage  = "Message"
	PropDraft    = "Email Draft"
	PropDecided  = "Decided"
)

// maxRichText is Notion's limit on a single rich text content string.
const maxRichText = 2000

// RecordLead upserts the lead of a decided approval into the database,
// keyed by email. It returns the page id.
func RecordLead(ctx context.Context, c Client, dbID string, a model.Approval) (string, error) {
	props := LeadProperties(a)

	existing, err := FindLeadByEmail(ctx, c, dbID, a.Lead.Email)
	if err != nil {
		return "", err
	}

	if existing != nil {
		page, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{Properties: props})
		if err != nil {
			return "", eris.Wrap(err, "notion: update lead")
		}
		zap.L().Info("notion: lead updated", zap.String("page_id", string(page.ID)), zap.String("approval_id", a.ID))
		return string(page.ID), nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: create lead")
	}
	zap.L().Info("notion: lead created", zap.String("page_id", string(page.ID)), zap.String("approval_id", a.ID))
	return string(page.ID), nil
}

// LeadProperties builds the page properties for an approval. Empty optional
// fields are left out.
func LeadProperties(a model.Approval) notionapi.Properties {
	props := notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(a.Lead.Name),
		},
		PropEmail: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(strings.ToLower(strings.TrimSpace(a.Lead.Email))),
		},
		PropStatus: notionapi.StatusProperty{
			Status: notionapi.Status{Name: statusName(a.Status)},
		},
	}

	if a.Lead.Phone != "" {
		props[PropPhone] = notionapi.PhoneNumberProperty{
			Type:        notionapi.PropertyTypePhoneNumber,
			PhoneNumber: a.Lead.Phone,
		}
	}
	if a.Qualification.Category != "" {
		props[PropCategory] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: string(a.Qualification.Category)},
		}
	}
	if a.DecidedAt != nil {
		decided := notionapi.Date(*a.DecidedAt)
		props[PropDecided] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: &decided,
			},
		}
	}

	for name, v := range map[string]string{
		PropCompany: a.Lead.Company,
		PropReason:  a.Qualification.Reason,
		PropMessage: a.Lead.Message,
		PropDraft:   a.Email,
	} {
		if v == "" {
			continue
		}
		props[name] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(v),
		}
	}
	return props
}

func statusName(s model.ApprovalStatus) string {
	switch s {
	case model.ApprovalApproved:
		return "Approved"
	case model.ApprovalRejected:
		return "Rejected"
	default:
		return "Pending"
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: truncate(s, maxRichText)}},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
