package main

import (
	"os"

	"github.com/benkle-apps/sergio/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
