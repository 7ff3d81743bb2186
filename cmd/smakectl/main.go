package main

import (
	"os"

	"github.com/instant-demo/smake/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
