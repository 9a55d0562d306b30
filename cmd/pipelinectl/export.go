package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/writerr/changepipeline/internal/query"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render changes matching a predicate set as Json, Csv, or Markdown",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addQueryFlags(exportCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", "Json", "Json, Csv, or Markdown")
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := buildCore(cmd)
	if err != nil {
		return err
	}
	out, err := c.Export(buildQueryFromFlags(c), query.Format(exportFormat), query.ExportOptions{})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
