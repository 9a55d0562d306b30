package main

import (
	"github.com/spf13/cobra"

	"github.com/writerr/changepipeline/internal/core"
	"github.com/writerr/changepipeline/internal/query"
)

var (
	queryCategory   string
	querySource     string
	queryStatus     string
	querySession    string
	queryMinConf    float64
	queryWarnings   bool
	queryThreats    bool
	queryText       string
	queryFuzzy      bool
	querySortBy     string
	queryDescending bool
	queryLimit      int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find change ids matching a predicate set",
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	addQueryFlags(queryCmd)
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&queryCategory, "category", "", "filter by category")
	cmd.Flags().StringVar(&querySource, "source", "", "filter by producer source")
	cmd.Flags().StringVar(&queryStatus, "status", "", "filter by status")
	cmd.Flags().StringVar(&querySession, "session", "", "filter by session id")
	cmd.Flags().Float64Var(&queryMinConf, "min-confidence", 0, "minimum confidence")
	cmd.Flags().BoolVar(&queryWarnings, "with-validation-warnings", false, "only changes with validation warnings")
	cmd.Flags().BoolVar(&queryThreats, "with-security-threats", false, "only changes with security threats")
	cmd.Flags().StringVar(&queryText, "text", "", "substring/fuzzy text match")
	cmd.Flags().BoolVar(&queryFuzzy, "fuzzy", false, "treat --text as a fuzzy match")
	cmd.Flags().StringVar(&querySortBy, "sort-by", "", "field to sort by")
	cmd.Flags().BoolVar(&queryDescending, "descending", false, "sort descending instead of ascending")
	cmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum number of results")
}

func buildQueryFromFlags(c *core.Core) *query.Builder {
	b := c.Query()
	if queryCategory != "" {
		b = b.ByCategory(queryCategory)
	}
	if querySource != "" {
		b = b.BySource(querySource)
	}
	if queryStatus != "" {
		b = b.ByStatus(queryStatus)
	}
	if querySession != "" {
		b = b.BySession(querySession)
	}
	if queryMinConf > 0 {
		b = b.MinConfidence(queryMinConf)
	}
	if queryWarnings {
		b = b.WithValidationWarnings()
	}
	if queryThreats {
		b = b.WithSecurityThreats()
	}
	if queryText != "" {
		b = b.TextContains(query.TextSearch{Query: queryText, Fuzzy: queryFuzzy})
	}
	if querySortBy != "" {
		dir := query.SortAscending
		if queryDescending {
			dir = query.SortDescending
		}
		b = b.SortBy(querySortBy, dir)
	}
	if queryLimit > 0 {
		b = b.Limit(queryLimit)
	}
	return b
}

func runQuery(cmd *cobra.Command, args []string) error {
	c, err := buildCore(cmd)
	if err != nil {
		return err
	}
	ids, err := c.QueryIDs(buildQueryFromFlags(c))
	if err != nil {
		return err
	}
	return printJSON(ids)
}
