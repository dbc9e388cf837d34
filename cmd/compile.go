package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ruleplane/ruleplane/internal/awsenv"
	"github.com/ruleplane/ruleplane/internal/compiler"
	"github.com/ruleplane/ruleplane/internal/intent"
	"github.com/ruleplane/ruleplane/internal/ruleconfig"
)

func newCompileCommand() *cobra.Command {
	var account, bucket, key, region, ruleOrder string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Run the Intent Compiler against a real S3 object and print the resulting compilation messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			protocols, err := ruleconfig.LoadProtocols(viper.GetString("protocols"))
			if err != nil {
				return err
			}
			validator, err := intent.LoadValidator(viper.GetString("schema"))
			if err != nil {
				return err
			}

			env, err := awsenv.New(ctx, region)
			if err != nil {
				return err
			}

			skipped := func(vpc string) {
				fmt.Fprintf(os.Stderr, "WARN: vpc %s is not attached to a transit gateway, skipping\n", vpc)
			}

			c := compiler.New(env.EC2, env.S3, validator, protocols, ruleOrder, skipped)
			result, err := c.Compile(ctx, compiler.Event{
				Source:  compiler.SourceS3PutObject,
				Account: account,
				Bucket:  bucket,
				Key:     key,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "tenant account id")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket holding the intent document")
	cmd.Flags().StringVar(&key, "key", "", "S3 object key, e.g. eu-west-1-config.yaml")
	cmd.Flags().StringVar(&region, "region", "eu-west-1", "AWS region for the compiler's own clients")
	cmd.Flags().StringVar(&ruleOrder, "rule-order", "", "RULE_ORDER value, e.g. DEFAULT_ACTION_ORDER")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("bucket")
	cmd.MarkFlagRequired("key")

	return cmd
}
