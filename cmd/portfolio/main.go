package main

import (
	"os"

	"github.com/ncastellan/flare-portfolio/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
