package boundary

import (
	"os"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/common-fate/boundary/pkg/printer"
	"github.com/common-fate/boundary/pkg/request"
	"github.com/common-fate/boundary/pkg/storage"
	"github.com/common-fate/clio"
	"github.com/common-fate/clio/clierr"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var ListCommand = cli.Command{
	Name:  "list",
	Usage: "List persisted access requests by status",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "status", Value: string(request.StatusActive), Usage: "Request status to list: PENDING, ACTIVE, REVOKED or ERROR"},
		&cli.StringFlag{Name: "table", Required: true, EnvVars: []string{"BOUNDARY_TABLE"}, Usage: "DynamoDB table for request state"},
		&cli.StringFlag{Name: "region", EnvVars: []string{"AWS_REGION"}, Usage: "AWS region"},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		status := request.Status(strings.ToUpper(c.String("status")))
		switch status {
		case request.StatusPending, request.StatusActive, request.StatusRevoked, request.StatusError:
		default:
			return clierr.New("invalid status", clierr.Info("Valid statuses are PENDING, ACTIVE, REVOKED and ERROR."))
		}

		var cfgOpts []func(*awsconfig.LoadOptions) error
		if region := c.String("region"); region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return errors.Wrap(err, "loading AWS config")
		}

		store := storage.NewDynamoStore(cfg, c.String("table"))
		records, err := store.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			clio.Infof("no %s requests", status)
			return nil
		}

		sort.Slice(records, func(i, j int) bool {
			return records[i].ExpiresAt < records[j].ExpiresAt
		})
		printer.Requests(os.Stderr, records)
		return nil
	},
}
