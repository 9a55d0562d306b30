package main

import (
	"github.com/spf13/cobra"
)

var (
	decideActor  string
	decideReason string
)

var acceptCmd = &cobra.Command{
	Use:   "accept <change-or-batch-id>",
	Short: "Accept a pending change or an entire batch group",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccept,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <change-or-batch-id>",
	Short: "Reject a pending change or an entire batch group",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	for _, cmd := range []*cobra.Command{acceptCmd, rejectCmd} {
		rootCmd.AddCommand(cmd)
		cmd.Flags().StringVar(&decideActor, "actor", "", "identity recorded as making this decision")
		cmd.Flags().StringVar(&decideReason, "reason", "", "optional free-text reason")
	}
}

func runAccept(cmd *cobra.Command, args []string) error {
	c, err := buildCore(cmd)
	if err != nil {
		return err
	}
	outcome, err := c.Accept(args[0], decideActor, decideReason)
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func runReject(cmd *cobra.Command, args []string) error {
	c, err := buildCore(cmd)
	if err != nil {
		return err
	}
	outcome, err := c.Reject(args[0], decideActor, decideReason)
	if err != nil {
		return err
	}
	return printJSON(outcome)
}
