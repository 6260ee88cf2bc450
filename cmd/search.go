package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/pkg/exa"
)

var (
	searchNum int
	searchOut string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search for companies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}

		n := searchNum
		if n <= 0 {
			n = cfg.Exa.NumResults
		}
		client := exa.NewClient(cfg.Exa.Key, exa.WithBaseURL(cfg.Exa.BaseURL))
		return runSearch(cmd.Context(), cmd.OutOrStdout(), client, args[0], n, searchOut)
	},
}

// runSearch prints one line per hit. With out set, the hits are also saved
// as a companies file the enrich command can read.
func runSearch(ctx context.Context, w io.Writer, client exa.Client, query string, n int, out string) error {
	resp, err := client.Search(ctx, exa.CompanySearch(query, n))
	if err != nil {
		return err
	}

	refs := make([]model.CompanyRef, 0, len(resp.Results))
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%3d. %s  %s\n", i+1, r.Title, r.URL)
		refs = append(refs, model.CompanyRef{Title: r.Title, URL: r.URL})
	}

	if out == "" {
		return nil
	}
	data, err := yaml.Marshal(companiesFile{Companies: refs})
	if err != nil {
		return eris.Wrap(err, "search: marshal companies")
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return eris.Wrapf(err, "search: write %s", out)
	}
	fmt.Fprintf(w, "wrote %d companies to %s\n", len(refs), out)
	return nil
}

func init() {
	searchCmd.Flags().IntVar(&searchNum, "num", 0, "number of results (default exa.num_results)")
	searchCmd.Flags().StringVar(&searchOut, "out", "", "save results as a YAML companies file")
	rootCmd.AddCommand(searchCmd)
}
