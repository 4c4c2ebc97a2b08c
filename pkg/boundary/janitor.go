package boundary

import (
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/common-fate/boundary/pkg/directory"
	"github.com/common-fate/boundary/pkg/janitor"
	"github.com/common-fate/boundary/pkg/printer"
	"github.com/common-fate/boundary/pkg/storage"
	"github.com/common-fate/clio"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var JanitorCommand = cli.Command{
	Name:  "janitor",
	Usage: "Revoke every active grant whose expiry has passed",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "table", Required: true, EnvVars: []string{"BOUNDARY_TABLE"}, Usage: "DynamoDB table for request state"},
		&cli.StringFlag{Name: "region", EnvVars: []string{"AWS_REGION"}, Usage: "AWS region"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Query and log intended actions without revoking anything"},
		&cli.BoolFlag{Name: "include-stale-pending", Usage: "Also clean up expired PENDING records left behind by failed provisioning"},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		var cfgOpts []func(*awsconfig.LoadOptions) error
		if region := c.String("region"); region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return errors.Wrap(err, "loading AWS config")
		}

		j := &janitor.Janitor{
			Store:               storage.NewDynamoStore(cfg, c.String("table")),
			Revoker:             directory.NewService(cfg),
			DryRun:              c.Bool("dry-run"),
			IncludeStalePending: c.Bool("include-stale-pending"),
		}

		clio.Info("starting revocation sweep")
		result, err := j.Sweep(ctx)
		if err != nil {
			return errors.Wrap(err, "revocation sweep")
		}

		printer.SweepSummary(os.Stderr, result.Scanned, result.Revoked, result.CleanedPending, result.Errors)

		if !result.Clean() {
			// A partial failure must surface as a non-zero exit so the
			// scheduler retries on the next run.
			return cli.Exit(fmt.Sprintf("sweep finished with %d error(s); failed items stay ACTIVE and will be retried", result.Errors), 1)
		}
		clio.Success("sweep complete")
		return nil
	},
}
