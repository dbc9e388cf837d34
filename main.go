// Command ruleplane is the local CLI entrypoint wrapping the cobra command
// tree in cmd/ - validate, compile and reconcile-plan subcommands for
// exercising the Intent Compiler and Reconciler outside their Lambda
// entrypoints.
package main

import (
	"fmt"
	"os"

	"github.com/ruleplane/ruleplane/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
