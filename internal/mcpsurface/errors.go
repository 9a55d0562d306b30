package mcpsurface

import (
	"errors"
	"fmt"

	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// mapError renders a pipelineerr.Error (or any error) as a single message
// string: MCP tool errors are plain text, so the machine-readable code and
// remediation hint are folded into the message instead of an HTTP-style
// status.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *pipelineerr.Error
	if errors.As(err, &pe) {
		msg := fmt.Sprintf("[%s] %s", pe.Code, pe.Message)
		if pe.Hint != "" {
			msg += " (hint: " + pe.Hint + ")"
		}
		return errors.New(msg)
	}
	return err
}
