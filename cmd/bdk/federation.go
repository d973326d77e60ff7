package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/federation"
)

var (
	fedEndpoint   string
	fedKeyword    string
	fedLimit      int
	fedJSONOutput bool
)

var federationCmd = &cobra.Command{
	Use:   "federation",
	Short: "Query the federated capability index",
	Long: `The federated index summarizes the latest run of every project that was
scanned with --federate and is allow-listed for federation.`,
}

var fedQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find projects by endpoint or keyword",
	Long: `Rank indexed projects. Endpoint matches rank before keyword matches, then
more recent runs, lower ambiguity and higher confidence.

Reading the index never creates it.`,
	Args: cobra.NoArgs,
	RunE: runFedQuery,
}

func init() {
	fedQueryCmd.Flags().StringVar(&fedEndpoint, "endpoint", "", "Endpoint to match, e.g. \"GET /v1/orders\" or \"/v1/orders\"")
	fedQueryCmd.Flags().StringVar(&fedKeyword, "keyword", "", "Keyword to match (case-insensitive)")
	fedQueryCmd.Flags().IntVar(&fedLimit, "limit", 10, "Maximum number of results (0 for all)")
	fedQueryCmd.Flags().BoolVar(&fedJSONOutput, "json", false, "Output as JSON")
	federationCmd.AddCommand(fedQueryCmd)
	rootCmd.AddCommand(federationCmd)
}

func runFedQuery(cmd *cobra.Command, args []string) error {
	global, cfg, err := globalConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level)

	store, err := federation.Open(global, cfg.Federation)
	if err != nil {
		return err
	}
	defer store.Close()

	matches, err := store.Query(cmd.Context(), federation.Filter{
		Endpoint: fedEndpoint,
		Keyword:  fedKeyword,
		Limit:    fedLimit,
	})
	if err != nil {
		return err
	}
	logger.Debug("Federated query", "backend", cfg.Federation.Backend, "path", store.Path(), "matches", len(matches))

	if fedJSONOutput {
		if matches == nil {
			matches = []federation.Match{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}
	return printMatches(cmd.OutOrStdout(), matches)
}

func printMatches(w io.Writer, matches []federation.Match) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "No matching projects.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tRUN ID\tMATCH\tLANGUAGE\tCONFIDENCE\tREPO")
	for _, m := range matches {
		var via []string
		if m.EndpointMatch {
			via = append(via, "endpoint")
		}
		if m.KeywordMatch {
			via = append(via, "keyword")
		}
		if len(via) == 0 {
			via = append(via, "-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ProjectID, m.RunID, strings.Join(via, ","), m.PrimaryLanguage, m.ConfidenceTier, m.RepoRoot)
	}
	return tw.Flush()
}
