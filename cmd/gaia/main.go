package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "gaia",
		Usage: "content-addressed, multi-device, multi-reader datastore client",
		After: closeGaia,
		Commands: []*cli.Command{
			withBefore(cmdMount(), withClients()),
			withBefore(cmdPut(), withClients()),
			withBefore(cmdGet(), withClients()),
			withBefore(cmdDelete(), withClients()),
			withBefore(cmdList(), withClients()),
			withBefore(cmdURLs(), withClients()),
			withBefore(cmdStatus(), withLoggerOnly()),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
