package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ruleplane/ruleplane/internal/intent"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <intent-document.yaml>",
		Short: "Validate an intent document against the bundled JSON schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := intent.LoadValidator(viper.GetString("schema"))
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			doc, err := validator.Parse(raw)
			if err != nil {
				return err
			}

			fmt.Printf("ok: version %q, %d VPC entries\n", doc.Version, len(doc.Config))
			return nil
		},
	}
}
