package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-intake/internal/enrich"
	"github.com/sells-group/lead-intake/internal/export"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/poller"
)

var (
	enrichFile   string
	enrichServer string
	enrichLimit  int
	enrichPhones bool
	enrichOut    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a list of companies through a running server",
	Long:  "Reads companies from a YAML or JSON file, requests contacts from the server, polls phone jobs until they resolve or the attempt budget runs out, and prints a summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("enrich-client"); err != nil {
			return err
		}

		companies, err := readCompanies(enrichFile)
		if err != nil {
			return err
		}

		server := enrichServer
		if server == "" {
			server = cfg.Server.PublicBaseURL
		}

		return runEnrichClient(cmd.Context(), cmd.OutOrStdout(), enrichClientOpts{
			Server:    server,
			Companies: companies,
			Limit:     enrichLimit,
			Phones:    enrichPhones,
			Out:       enrichOut,
			Poll: []poller.Option{
				poller.WithMaxAttempts(cfg.Poll.MaxAttempts),
				poller.WithInterval(cfg.Poll.Interval()),
			},
		})
	},
}

// companiesFile accepts either a bare list or a {companies: [...]} document.
type companiesFile struct {
	Companies []model.CompanyRef `yaml:"companies"`
}

// readCompanies loads company refs from a YAML or JSON file.
func readCompanies(path string) ([]model.CompanyRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read %s", path)
	}

	var list []model.CompanyRef
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var doc companiesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "enrich: parse %s", path)
	}
	if len(doc.Companies) == 0 {
		return nil, eris.Errorf("enrich: no companies in %s", path)
	}
	return doc.Companies, nil
}

type enrichClientOpts struct {
	Server     string
	Companies  []model.CompanyRef
	Limit      int
	Phones     bool
	Out        string
	Poll       []poller.Option
	HTTPClient *http.Client
}

// runEnrichClient posts one enrichment request, polls the resulting phone
// jobs and writes a summary to w.
func runEnrichClient(ctx context.Context, w io.Writer, opts enrichClientOpts) error {
	hc := opts.HTTPClient
	if hc == nil {
		// Enrichment paces companies server-side; 20 companies take a while.
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	server := strings.TrimRight(opts.Server, "/")

	resp, err := postEnrich(ctx, hc, server, enrich.Request{
		Companies:     opts.Companies,
		Limit:         opts.Limit,
		IncludePhones: opts.Phones,
	})
	if err != nil {
		return err
	}
	results := resp.Results

	// A cancelled poll still reports and exports what was gathered.
	var report *poller.Report
	var pollErr error
	if jobs := model.PhoneJobs(results); len(jobs) > 0 {
		zap.L().Info("enrich: polling phone jobs", zap.Int("jobs", len(jobs)))
		p := poller.New(poller.NewHTTPQuerier(server, nil), opts.Poll...)
		report, pollErr = p.Poll(ctx, jobs, results)
	}

	printSummary(w, results, report)

	if opts.Out != "" {
		if err := export.WriteFile(opts.Out, results); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", opts.Out)
	}
	if pollErr != nil {
		return eris.Wrap(pollErr, "enrich: poll phone jobs")
	}
	return nil
}

func postEnrich(ctx context.Context, hc *http.Client, server string, req enrich.Request) (*enrich.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/enrich", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "enrich: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: execute request")
	}
	defer httpResp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: read response")
	}
	if httpResp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return nil, eris.Errorf("enrich: server returned %d: %s", httpResp.StatusCode, e.Error)
	}

	var out enrich.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "enrich: decode response")
	}
	return &out, nil
}

func printSummary(w io.Writer, results []model.EnrichmentResult, report *poller.Report) {
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%-30s  error: %s\n", r.Company, r.Error)
			continue
		}
		phones := 0
		for _, c := range r.Contacts {
			if c.Phone != "" {
				phones++
			}
		}
		fmt.Fprintf(w, "%-30s  contacts=%d phones=%d\n", r.Company, len(r.Contacts), phones)
	}

	if report == nil {
		return
	}
	fmt.Fprintf(w, "phone jobs: %s (merged=%d failed=%d unresolved=%d attempts=%d)\n",
		report.Outcome, len(report.Merged), len(report.Failed), len(report.Unresolved), report.Attempts)
}

func init() {
	enrichCmd.Flags().StringVar(&enrichFile, "file", "", "YAML or JSON file of companies (title, url)")
	enrichCmd.Flags().StringVar(&enrichServer, "server", "", "server base URL (default server.public_base_url)")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 10, "maximum companies to enrich (1-20)")
	enrichCmd.Flags().BoolVar(&enrichPhones, "phones", false, "request phone numbers and poll for them")
	enrichCmd.Flags().StringVar(&enrichOut, "out", "", "write results to a .csv or .xlsx file")
	_ = enrichCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(enrichCmd)
}
