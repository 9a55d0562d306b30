package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/writerr/changepipeline/internal/core"
)

var registerFile string

// registerManifestInput is the on-disk/stdin JSON shape of a producer
// manifest; core.Manifest has no json tags since it is not otherwise
// serialized, so this mirrors it field-for-field with snake_case keys.
type registerManifestInput struct {
	PluginID     string   `json:"plugin_id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	SecurityHash string   `json:"security_hash"`
	Operations   []string `json:"operations"`
	Providers    []string `json:"providers"`
	MaxBatchSize int      `json:"max_batch_size"`
	Realtime     bool     `json:"supports_realtime"`
	FileTypes    []string `json:"file_types"`
	Permissions  []string `json:"permissions"`
}

var registerCmd = &cobra.Command{
	Use:   "register-producer",
	Short: "Register a producer manifest read as JSON",
	Long:  `Reads a single manifest object ({plugin_id, name, version, security_hash, capabilities...}) from --file, or stdin if --file is omitted.`,
	RunE:  runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringVar(&registerFile, "file", "", "path to a JSON manifest (default: stdin)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if registerFile != "" {
		raw, err = os.ReadFile(registerFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var in registerManifestInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	c, err := buildCore(cmd)
	if err != nil {
		return err
	}

	auth, err := c.RegisterProducer(core.Manifest{
		PluginID:     in.PluginID,
		Name:         in.Name,
		Version:      in.Version,
		SecurityHash: in.SecurityHash,
		Capabilities: core.Capabilities{
			Operations:       in.Operations,
			Providers:        in.Providers,
			MaxBatchSize:     in.MaxBatchSize,
			SupportsRealtime: in.Realtime,
			FileTypes:        in.FileTypes,
			Permissions:      in.Permissions,
		},
	})
	if err != nil {
		return err
	}
	return printJSON(auth)
}
