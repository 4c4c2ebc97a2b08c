package boundary

import (
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	"github.com/briandowns/spinner"
	"github.com/common-fate/boundary/pkg/audit"
	"github.com/common-fate/boundary/pkg/directory"
	"github.com/common-fate/boundary/pkg/identity"
	"github.com/common-fate/boundary/pkg/policy"
	"github.com/common-fate/boundary/pkg/printer"
	"github.com/common-fate/boundary/pkg/request"
	"github.com/common-fate/boundary/pkg/storage"
	"github.com/common-fate/boundary/pkg/workflow"
	"github.com/common-fate/clio"
	"github.com/common-fate/clio/clierr"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Process exit codes: 0 allow, 2 deny, 3 infrastructure or provisioning
// error, 1 anything unexpected.
const (
	exitDeny  = 2
	exitInfra = 3
)

var RequestCommand = cli.Command{
	Name:  "request",
	Usage: "Evaluate an access request and provision it if the policy allows",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "principal", Usage: "The Identity Center group ID requesting access"},
		&cli.StringFlag{Name: "slack-user", Usage: "Resolve the principal from a Slack user ID instead of --principal"},
		&cli.StringFlag{Name: "account", Required: true, Usage: "The target AWS account ID"},
		&cli.StringFlag{Name: "permission-set-arn", Required: true, Usage: "The ARN of the requested permission set"},
		&cli.StringFlag{Name: "instance-arn", Required: true, Usage: "The ARN of the Identity Center instance"},
		&cli.DurationFlag{Name: "duration", Value: time.Hour, Usage: "Requested access duration, e.g. 4h or 30m"},
		&cli.StringFlag{Name: "ticket", Usage: "Change ticket ID, if the matched rule requires one"},
		&cli.StringFlag{Name: "policy-file", Value: "access-rules.yaml", EnvVars: []string{"BOUNDARY_POLICY_FILE"}, Usage: "Path to the access policy document"},
		&cli.StringFlag{Name: "table", Required: true, EnvVars: []string{"BOUNDARY_TABLE"}, Usage: "DynamoDB table for request state"},
		&cli.StringFlag{Name: "region", EnvVars: []string{"AWS_REGION"}, Usage: "AWS region"},
		&cli.StringFlag{Name: "identity-store-id", EnvVars: []string{"BOUNDARY_IDENTITY_STORE_ID"}, Usage: "Identity Store ID (d-...), required with --slack-user"},
		&cli.StringFlag{Name: "slack-token", EnvVars: []string{"BOUNDARY_SLACK_TOKEN", "SLACK_BOT_TOKEN"}, Usage: "Slack bot token, required with --slack-user"},
		&cli.StringFlag{Name: "audit-dir", Value: "audit-logs", EnvVars: []string{"BOUNDARY_AUDIT_DIR"}, Usage: "Directory for audit artifacts"},
		&cli.BoolFlag{Name: "confirm", Aliases: []string{"y"}, Usage: "Skip the confirmation prompt when the requested duration is capped"},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		duration := c.Duration("duration")
		if err := request.ValidateDuration(duration.Hours()); err != nil {
			return clierr.New(err.Error())
		}
		if err := request.ValidateAccountID(c.String("account")); err != nil {
			return clierr.New(err.Error())
		}
		if err := request.ValidateARN(c.String("permission-set-arn")); err != nil {
			return clierr.New(err.Error())
		}
		if err := request.ValidateARN(c.String("instance-arn")); err != nil {
			return clierr.New(err.Error())
		}

		doc, err := policy.Load(c.String("policy-file"))
		if err != nil {
			return clierr.New(err.Error(), clierr.Info("The policy document must load completely before any request can be evaluated."))
		}
		clio.Debugw("policy loaded", "hash", doc.Hash, "rules", len(doc.Rules))

		var cfgOpts []func(*awsconfig.LoadOptions) error
		if region := c.String("region"); region != "" {
			cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return errors.Wrap(err, "loading AWS config")
		}

		principalID, principalType, err := resolvePrincipal(c, cfg)
		if err != nil {
			return err
		}

		now := time.Now().Unix()
		req := &request.Request{
			ID:               request.NewID(),
			PrincipalID:      principalID,
			PrincipalType:    principalType,
			PermissionSetARN: c.String("permission-set-arn"),
			AccountID:        c.String("account"),
			InstanceARN:      c.String("instance-arn"),
			TicketID:         c.String("ticket"),
			RequestedAt:      now,
			ExpiresAt:        now + int64(duration.Seconds()),
		}
		clio.Infof("processing request %s", req.ID)

		dir := directory.NewService(cfg, directory.WithPrincipalType(ssotypes.PrincipalType(principalType)))
		si := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		si.Suffix = " evaluating request..."

		wf := &workflow.Workflow{
			Engine:      policy.NewEngine(doc),
			Directory:   dir,
			Store:       storage.NewDynamoStore(cfg, c.String("table")),
			Provisioner: dir,
		}
		if !c.Bool("confirm") {
			wf.ConfirmCapped = func(eval policy.Evaluation) (bool, error) {
				si.Stop()
				defer si.Start()
				var proceed bool
				err := survey.AskOne(&survey.Confirm{
					Message: fmt.Sprintf("The requested duration was capped to %g hours by policy. Proceed?", eval.EffectiveDurationHours),
					Default: true,
				}, &proceed)
				return proceed, err
			}
		}

		si.Start()
		eval, handleErr := wf.Handle(ctx, req)
		si.Stop()

		printer.Verdict(os.Stderr, req, eval, c.Bool("verbose"))

		artifact, auditErr := audit.Writer{Dir: c.String("audit-dir")}.Write(req, eval)
		if auditErr != nil {
			clio.Errorf("failed to write audit artifact: %s", auditErr)
		} else {
			clio.Infof("audit artifact written to %s", artifact)
		}

		if handleErr != nil {
			if errors.Is(handleErr, workflow.ErrAborted) {
				return clierr.New("request aborted, no access was provisioned")
			}
			var wfErr *workflow.Error
			if errors.As(handleErr, &wfErr) {
				clio.Errorf("%s", wfErr)
				return cli.Exit("", exitInfra)
			}
			return handleErr
		}

		switch eval.Effect {
		case policy.ResultAllow:
			clio.Successf("access grant complete, expires at %s", time.Unix(eval.EffectiveExpiresAt, 0).UTC().Format(time.RFC3339))
			return nil
		case policy.ResultDeny:
			return cli.Exit("", exitDeny)
		default:
			return cli.Exit("", exitInfra)
		}
	},
}

// resolvePrincipal returns the Identity Center principal (group or
// user) ID for the request, translating a Slack user through the
// identity chain when --slack-user is given.
func resolvePrincipal(c *cli.Context, cfg aws.Config) (string, string, error) {
	if slackUser := c.String("slack-user"); slackUser != "" {
		token := c.String("slack-token")
		storeID := c.String("identity-store-id")
		if token == "" || storeID == "" {
			return "", "", clierr.New("--slack-user requires --slack-token and --identity-store-id")
		}
		slack, err := identity.NewSlackClient(token)
		if err != nil {
			return "", "", clierr.New(err.Error())
		}
		store, err := identity.NewStoreClient(cfg, storeID)
		if err != nil {
			return "", "", clierr.New(err.Error())
		}
		translator := identity.Translator{Slack: slack, Store: store}
		principal, err := translator.ResolvePrincipal(c.Context, slackUser)
		if err != nil {
			return "", "", clierr.New(err.Error(), clierr.Info("The Slack profile email must match a user registered in IAM Identity Center."))
		}
		clio.Debugw("resolved principal from Slack user", "principal", principal)
		return principal, "USER", nil
	}
	if principal := c.String("principal"); principal != "" {
		return principal, "GROUP", nil
	}
	return "", "", clierr.New("provide either --principal or --slack-user")
}
