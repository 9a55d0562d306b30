package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <session-id>",
	Short: "Force an out-of-band snapshot of a session's current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <session-id> <target-version>",
	Short: "Migrate a session's persisted body to a target schema version",
	Args:  cobra.ExactArgs(2),
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	c, err := buildCore(cmd)
	if err != nil {
		return err
	}
	meta, err := c.Sessions().Checkpoint(args[0])
	if err != nil {
		return err
	}
	return printJSON(meta)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	vTo, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	c, err := buildCore(cmd)
	if err != nil {
		return err
	}
	body, err := c.Sessions().Migrate(args[0], vTo)
	if err != nil {
		return err
	}
	return printJSON(body)
}
