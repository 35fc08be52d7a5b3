// Command migrate manages the Postgres schema used by the durable stores.
package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eventhub/chat-moderation/internal/config"
	"github.com/eventhub/chat-moderation/internal/migrations"
)

func main() {
	app := cli.App{
		Name:  "migrate",
		Usage: "apply or roll back the chat moderation schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "postgres connection URL (defaults to DATABASE_URL, .env included)",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "up",
			Usage:  "apply every pending migration",
			Action: runUp,
		},
		{
			Name:   "down",
			Usage:  "roll back the latest migration",
			Action: runDown,
		},
		{
			Name:   "version",
			Usage:  "print the applied schema version",
			Action: runVersion,
		},
	}
	app.RunAndExitOnError()
}

func databaseURL(cctx *cli.Context) (string, error) {
	if url := cctx.String("database-url"); url != "" {
		return url, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", cli.Exit("DATABASE_URL is not set", 1)
	}
	return cfg.DatabaseURL, nil
}

func runUp(cctx *cli.Context) error {
	url, err := databaseURL(cctx)
	if err != nil {
		return err
	}
	if err := migrations.Up(url); err != nil {
		return err
	}
	fmt.Println("schema is up to date")
	return nil
}

func runDown(cctx *cli.Context) error {
	url, err := databaseURL(cctx)
	if err != nil {
		return err
	}
	if err := migrations.Down(url); err != nil {
		return err
	}
	fmt.Println("rolled back one migration")
	return nil
}

func runVersion(cctx *cli.Context) error {
	url, err := databaseURL(cctx)
	if err != nil {
		return err
	}
	v, dirty, err := migrations.Version(url)
	if err != nil {
		return err
	}
	fmt.Printf("version %d dirty=%v\n", v, dirty)
	return nil
}
