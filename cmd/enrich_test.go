//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/enrich"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/poller"
	"github.com/sells-group/lead-intake/pkg/exa"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCompanies(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    int
		wantErr bool
	}{
		{name: "yaml list", file: "c.yaml", content: "- title: Acme\n  url: https://acme.com\n- title: Beta\n  url: https://beta.io\n", want: 2},
		{name: "yaml doc", file: "c.yaml", content: "companies:\n  - title: Acme\n    url: https://acme.com\n", want: 1},
		{name: "json list", file: "c.json", content: `[{"title":"Acme","url":"https://acme.com"}]`, want: 1},
		{name: "json doc", file: "c.json", content: `{"companies":[{"title":"Acme","url":"https://acme.com"}]}`, want: 1},
		{name: "empty", file: "c.yaml", content: "companies: []\n", wantErr: true},
		{name: "garbage", file: "c.yaml", content: "::: not yaml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCompanies(writeFile(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, tt.want)
			assert.Equal(t, "Acme", got[0].Title)
			assert.Equal(t, "https://acme.com", got[0].URL)
		})
	}
}

func TestReadCompanies_MissingFile(t *testing.T) {
	_, err := readCompanies(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// fakeServer answers the enrich and status endpoints. job-1 completes on
// the second status query.
func fakeServer(t *testing.T) (*httptest.Server, *enrich.Request) {
	t.Helper()
	var got enrich.Request
	var statusCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/enrich", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(enrich.Response{Results: []model.EnrichmentResult{ //nolint:errcheck
			{
				Company:    "Acme",
				URL:        "https://acme.com",
				Contacts:   []model.Contact{{Name: "Ada Lovelace", Email: "ada@acme.com"}},
				PhoneJobID: "job-1",
			},
			{Company: "Broken", URL: "nope", Contacts: []model.Contact{}, Error: enrich.ErrInvalidURL},
		}})
	})
	mux.HandleFunc("GET /api/enrich/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		st := poller.Status{Status: "pending", Contacts: []model.Contact{}, CreatedAt: time.Now().UnixMilli()}
		if statusCalls.Add(1) >= 2 {
			st.Status = "completed"
			st.Contacts = []model.Contact{{Name: "Ada Lovelace", Phone: "+15551234567"}}
		}
		json.NewEncoder(w).Encode(st) //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestRunEnrichClient(t *testing.T) {
	srv, got := fakeServer(t)
	out := filepath.Join(t.TempDir(), "contacts.csv")

	var buf bytes.Buffer
	err := runEnrichClient(context.Background(), &buf, enrichClientOpts{
		Server:    srv.URL + "/",
		Companies: []model.CompanyRef{{Title: "Acme", URL: "https://acme.com"}, {Title: "Broken", URL: "nope"}},
		Limit:     5,
		Phones:    true,
		Out:       out,
		Poll:      []poller.Option{poller.WithMaxAttempts(5), poller.WithInterval(time.Millisecond)},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, got.Limit)
	assert.True(t, got.IncludePhones)
	assert.Len(t, got.Companies, 2)

	summary := buf.String()
	assert.Contains(t, summary, "contacts=1 phones=1")
	assert.Contains(t, summary, "error: "+enrich.ErrInvalidURL)
	assert.Contains(t, summary, "phone jobs: complete (merged=1 failed=0 unresolved=0 attempts=2)")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "+15551234567")
}

func TestRunEnrichClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Contact provider API key not configured"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	err := runEnrichClient(context.Background(), &bytes.Buffer{}, enrichClientOpts{
		Server:    srv.URL,
		Companies: []model.CompanyRef{{Title: "Acme", URL: "https://acme.com"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "not configured")
}

func TestRunEnrichClient_CancelledPollKeepsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/enrich", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(enrich.Response{Results: []model.EnrichmentResult{ //nolint:errcheck
			{
				Company:    "Acme",
				URL:        "https://acme.com",
				Contacts:   []model.Contact{{Name: "Ada Lovelace", Email: "ada@acme.com"}},
				PhoneJobID: "job-1",
			},
		}})
	})
	mux.HandleFunc("GET /api/enrich/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		// Interrupt the client while the job is still pending.
		cancel()
		json.NewEncoder(w).Encode(poller.Status{Status: "pending", Contacts: []model.Contact{}}) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "contacts.csv")
	var buf bytes.Buffer
	err := runEnrichClient(ctx, &buf, enrichClientOpts{
		Server:    srv.URL,
		Companies: []model.CompanyRef{{Title: "Acme", URL: "https://acme.com"}},
		Phones:    true,
		Out:       out,
		Poll:      []poller.Option{poller.WithMaxAttempts(5), poller.WithInterval(time.Second)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	summary := buf.String()
	assert.Contains(t, summary, "contacts=1 phones=0")
	assert.Contains(t, summary, "phone jobs: timed_out")
	assert.Contains(t, summary, "unresolved=1")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ada@acme.com")
}

type stubSearch struct {
	req exa.SearchRequest
}

func (s *stubSearch) Search(_ context.Context, req exa.SearchRequest) (*exa.SearchResponse, error) {
	s.req = req
	return &exa.SearchResponse{Results: []exa.Result{
		{Title: "Acme", URL: "https://acme.com"},
		{Title: "Beta", URL: "https://beta.io"},
	}}, nil
}

func TestRunSearch(t *testing.T) {
	client := &stubSearch{}
	out := filepath.Join(t.TempDir(), "companies.yaml")

	var buf bytes.Buffer
	require.NoError(t, runSearch(context.Background(), &buf, client, "analytics firms", 2, out))

	assert.Equal(t, "analytics firms", client.req.Query)
	assert.Equal(t, 2, client.req.NumResults)
	assert.Contains(t, buf.String(), "1. Acme  https://acme.com")
	assert.Contains(t, buf.String(), "wrote 2 companies")

	companies, err := readCompanies(out)
	require.NoError(t, err)
	assert.Equal(t, []model.CompanyRef{{Title: "Acme", URL: "https://acme.com"}, {Title: "Beta", URL: "https://beta.io"}}, companies)
}
