package main

import (
	"os"

	"github.com/idilsaglam/quicklist/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
