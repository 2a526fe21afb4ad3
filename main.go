package main

import (
	"log"
	"os"

	"github.com/fogha/raiken-sub000/cli"
)

// Version information, set at release time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := cli.New()
	app.SetVersion(version, commit)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
