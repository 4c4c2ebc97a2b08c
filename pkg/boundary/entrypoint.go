// Package boundary wires the broker's CLI: evaluating and provisioning
// access requests, sweeping expired grants, and inspecting policy and
// request state.
package boundary

import (
	"os"

	"github.com/common-fate/boundary/internal/build"
	"github.com/common-fate/clio"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func GetCliApp() *cli.App {
	flags := []cli.Flag{
		&cli.BoolFlag{Name: "verbose", Usage: "Log debug messages"},
	}

	app := &cli.App{
		Flags:       flags,
		Name:        "boundary",
		Usage:       "Just-in-time, least-privilege access broker for AWS IAM Identity Center",
		UsageText:   "boundary [global options] command [command options] [arguments...]",
		Version:     build.Version,
		HideVersion: false,
		Commands: []*cli.Command{
			&RequestCommand,
			&JanitorCommand,
			&PolicyCommand,
			&ListCommand,
		},
		EnableBashCompletion: true,
		Before: func(c *cli.Context) error {
			// Policy documents may reference ${VAR} placeholders; a
			// local .env file is a convenient place to define them.
			if _, err := os.Stat(".env"); err == nil {
				if err := godotenv.Load(); err != nil {
					return err
				}
			}
			clio.SetLevelFromEnv("BOUNDARY_LOG")
			if c.Bool("verbose") {
				clio.SetLevelFromString("debug")
			}
			return nil
		},
	}

	return app
}
