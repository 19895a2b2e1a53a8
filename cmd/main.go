package main

import (
	"log"
	"os"

	"github.com/flowplane/flowplane/cmd/command"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "flowplane",
		Usage: "workflow automation for network operations",
		Commands: []*cli.Command{
			&command.Serve,
			&command.Lint,
			&command.Run,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
