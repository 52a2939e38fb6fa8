package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basekick-labs/insight/internal/cli"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := cli.NewRootCommand(Version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
