package main

import (
	"os"

	"shipit/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
