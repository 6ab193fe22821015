package main

import (
	"os"

	"github.com/harun/agentenv/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
