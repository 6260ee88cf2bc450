package model

// CompanyRef identifies a company to enrich, typically a search hit ordered
// by relevance.
type CompanyRef struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// EnrichmentResult is the per-company outcome of an enrichment request.
type EnrichmentResult struct {
	Company    string    `json:"company"`
	URL        string    `json:"url"`
	Contacts   []Contact `json:"contacts"`
	Error      string    `json:"error,omitempty"`
	PhoneJobID string    `json:"phoneJobId,omitempty"`
}

// PhoneJobs maps each phone job id in results to its company URL.
func PhoneJobs(results []EnrichmentResult) map[string]string {
	jobs := make(map[string]string)
	for _, r := range results {
		if r.PhoneJobID != "" {
			jobs[r.PhoneJobID] = r.URL
		}
	}
	return jobs
}
