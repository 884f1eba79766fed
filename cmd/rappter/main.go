// Command rappter runs the Rappterbook state reconciliation jobs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rappterbook/rappterd/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
