package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactIDs(t *testing.T) {
	t.Parallel()

	contacts := []Contact{{ID: "p1"}, {Name: "no id"}, {ID: "p2"}}
	assert.Equal(t, []string{"p1", "p2"}, ContactIDs(contacts))
	assert.Empty(t, ContactIDs(nil))
	assert.NotNil(t, ContactIDs(nil))
}

func TestContact_JSONOmitsEmptyAndInternalFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Contact{
		ID:             "p1",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Name:           "Ada Lovelace",
		Email:          "ada@acme.com",
		HasDirectPhone: true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada Lovelace","email":"ada@acme.com"}`, string(data))
}

func TestPhoneJobs(t *testing.T) {
	t.Parallel()

	results := []EnrichmentResult{
		{URL: "https://acme.com", PhoneJobID: "job-1"},
		{URL: "https://beta.io"},
		{URL: "https://gamma.dev", PhoneJobID: "job-2"},
	}
	assert.Equal(t, map[string]string{
		"job-1": "https://acme.com",
		"job-2": "https://gamma.dev",
	}, PhoneJobs(results))
	assert.Empty(t, PhoneJobs(nil))
}

func TestEnrichmentResult_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(EnrichmentResult{Company: "Acme", URL: "https://acme.com", Contacts: []Contact{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"company":"Acme","url":"https://acme.com","contacts":[]}`, string(data))
}

func TestQualificationCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category QualificationCategory
		valid    bool
		outreach bool
	}{
		{CategoryQualified, true, true},
		{CategoryFollowUp, true, true},
		{CategorySupport, true, false},
		{CategoryUnqualified, true, false},
		{"MAYBE", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, tt.category.Valid())
			assert.Equal(t, tt.outreach, tt.category.NeedsOutreach())
		})
	}
}
