package notion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
)

func sampleApproval() model.Approval {
	decided := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	return model.Approval{
		ID: "appr-1",
		Lead: model.Lead{
			Email:   "Ada@Acme.com",
			Name:    "Ada Lovelace",
			Phone:   "+1 555 010 0001",
			Company: "Acme",
			Message: "We need help scaling our data platform.",
		},
		Email:         "Hi Ada, thanks for reaching out...",
		Qualification: model.Qualification{Category: model.CategoryQualified, Reason: "Enterprise buyer"},
		Status:        model.ApprovalApproved,
		DecidedAt:     &decided,
	}
}

func TestLeadProperties(t *testing.T) {
	props := LeadProperties(sampleApproval())

	title, ok := props[PropName].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", title.Title[0].Text.Content)

	email, ok := props[PropEmail].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "ada@acme.com", email.RichText[0].Text.Content)

	phone, ok := props[PropPhone].(notionapi.PhoneNumberProperty)
	require.True(t, ok)
	assert.Equal(t, "+1 555 010 0001", phone.PhoneNumber)

	cat, ok := props[PropCategory].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "QUALIFIED", cat.Select.Name)

	status, ok := props[PropStatus].(notionapi.StatusProperty)
	require.True(t, ok)
	assert.Equal(t, "Approved", status.Status.Name)

	decided, ok := props[PropDecided].(notionapi.DateProperty)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), time.Time(*decided.Date.Start))

	for _, name := range []string{PropCompany, PropReason, PropMessage, PropDraft} {
		assert.Contains(t, props, name)
	}
}

func TestLeadProperties_OmitsEmpty(t *testing.T) {
	props := LeadProperties(model.Approval{
		Lead:   model.Lead{Email: "x@y.com", Name: "X Y", Message: "hello there friend"},
		Status: model.ApprovalRejected,
	})

	for _, name := range []string{PropPhone, PropCompany, PropCategory, PropDecided, PropReason, PropDraft} {
		assert.NotContains(t, props, name)
	}
	assert.Equal(t, "Rejected", props[PropStatus].(notionapi.StatusProperty).Status.Name)
}

func TestLeadProperties_TruncatesLongText(t *testing.T) {
	a := sampleApproval()
	a.Email = strings.Repeat("é", 2500)

	draft := LeadProperties(a)[PropDraft].(notionapi.RichTextProperty)
	assert.Len(t, []rune(draft.RichText[0].Text.Content), maxRichText)
}

func TestRecordLead_Create(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "leads", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{}}, nil).Once()
	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		return req.Parent.DatabaseID == notionapi.DatabaseID("leads") && req.Properties[PropName] != nil
	})).Return(&notionapi.Page{ID: "new-page"}, nil).Once()

	id, err := RecordLead(ctx, mc, "leads", sampleApproval())
	require.NoError(t, err)
	assert.Equal(t, "new-page", id)
	mc.AssertExpectations(t)
	mc.AssertNotCalled(t, "UpdatePage", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordLead_UpdatesExisting(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "leads", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "lead-7"}}}, nil).Once()
	mc.On("UpdatePage", ctx, "lead-7", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "lead-7"}, nil).Once()

	id, err := RecordLead(ctx, mc, "leads", sampleApproval())
	require.NoError(t, err)
	assert.Equal(t, "lead-7", id)
	mc.AssertExpectations(t)
}

func TestRecordLead_CreateError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "leads", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", ctx, mock.Anything).Return(nil, assert.AnError).Once()

	_, err := RecordLead(ctx, mc, "leads", sampleApproval())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: create lead")
}
