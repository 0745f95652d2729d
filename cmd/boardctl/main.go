package main

import (
	"context"
	"os"

	"github.com/CrowderSoup/kanban-sync/internal/cli"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
