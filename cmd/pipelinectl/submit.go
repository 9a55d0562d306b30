package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/core"
	"github.com/writerr/changepipeline/internal/position"
)

// submitChangeInput is the on-disk/stdin JSON shape of one proposed edit.
type submitChangeInput struct {
	Type       string  `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Before     string  `json:"before"`
	After      string  `json:"after"`
	Category   string  `json:"category"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Priority   int     `json:"priority"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
}

var (
	submitFile             string
	submitSession          string
	submitCreateSession    bool
	submitBypassValidation bool
	submitGroup            bool
	submitGroupingStrategy string
	submitOperation        string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit one or more proposed edits read as a JSON array",
	Long:  `Reads a JSON array of change objects from --file, or stdin if --file is omitted, and submits them as a single batch.`,
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitFile, "file", "", "path to a JSON file of changes (default: stdin)")
	submitCmd.Flags().StringVar(&submitSession, "session", "", "session id to submit against")
	submitCmd.Flags().BoolVar(&submitCreateSession, "create-session", false, "create the session if it doesn't already exist")
	submitCmd.Flags().BoolVar(&submitBypassValidation, "bypass-validation", false, "skip the validation pass")
	submitCmd.Flags().BoolVar(&submitGroup, "group", false, "group admitted changes into a batch")
	submitCmd.Flags().StringVar(&submitGroupingStrategy, "grouping-strategy", "", "Proximity, OperationType, Semantic, TimeWindow, Mixed, or None")
	submitCmd.Flags().StringVar(&submitOperation, "operation", "", "editorial operation name attached to any resulting batch group")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if submitFile != "" {
		raw, err = os.ReadFile(submitFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read changes: %w", err)
	}

	var inputs []submitChangeInput
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return fmt.Errorf("parse changes: %w", err)
	}

	c, err := buildCore(cmd)
	if err != nil {
		return err
	}

	changeInputs := make([]core.ChangeInput, len(inputs))
	for i, in := range inputs {
		ci := core.ChangeInput{
			Type:       change.Type(in.Type),
			Position:   position.Position{Start: in.Start, End: in.End},
			Content:    change.Content{Before: in.Before, After: in.After},
			Category:   change.Category(in.Category),
			Source:     in.Source,
			Confidence: in.Confidence,
			Priority:   in.Priority,
		}
		if in.Provider != "" || in.Model != "" {
			ci.Attribution = &change.Attribution{Provider: in.Provider, Model: in.Model}
		}
		changeInputs[i] = ci
	}

	result, err := c.Submit(changeInputs, core.SubmitOptions{
		SessionID:          submitSession,
		CreateSession:      submitCreateSession,
		BypassValidation:   submitBypassValidation,
		GroupChanges:       submitGroup,
		GroupingStrategy:   batch.GroupingStrategy(submitGroupingStrategy),
		EditorialOperation: batch.OperationType(submitOperation),
	}, nil)
	if err != nil {
		return err
	}

	return printJSON(result)
}
