package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"protoguard/internal/logging"

	"github.com/spf13/cobra"
)

func NewCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate one protocol message (stdin when no file given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.FromContext(cmd.Context())

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}

			var input []byte
			if len(args) == 1 {
				input, err = os.ReadFile(args[0])
				if err != nil {
					return err
				}
			} else {
				input, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			v := newValidatorFromConfig(cfg)
			out, verr := v.Validate(input)
			result := makeVerdict(out, verr)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}

			if !result.OK {
				logger.Warn("message rejected", "kind", result.Error.Kind, "path", result.Error.Path)
				return fmt.Errorf("rejected: %s", result.Error.Kind)
			}
			if result.Injection != nil && result.Injection.Flagged {
				logger.Warn("injection indicators present", "findings", len(result.Injection.Findings))
			}
			return nil
		},
	}
	return checkCmd
}
