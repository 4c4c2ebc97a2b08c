package boundary

import (
	"fmt"
	"os"

	"github.com/common-fate/boundary/pkg/policy"
	"github.com/common-fate/clio"
	"github.com/common-fate/clio/clierr"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var PolicyCommand = cli.Command{
	Name:        "policy",
	Usage:       "Validate and inspect the access policy document",
	Subcommands: []*cli.Command{&policyValidateCommand, &policyShowCommand},
}

var policyFileFlag = cli.StringFlag{
	Name:    "policy-file",
	Value:   "access-rules.yaml",
	EnvVars: []string{"BOUNDARY_POLICY_FILE"},
	Usage:   "Path to the access policy document",
}

var policyValidateCommand = cli.Command{
	Name:  "validate",
	Usage: "Load the policy document, expand placeholders and verify the schema",
	Flags: []cli.Flag{&policyFileFlag},
	Action: func(c *cli.Context) error {
		doc, err := policy.Load(c.String("policy-file"))
		if err != nil {
			return clierr.New(err.Error())
		}
		clio.Successf("policy is valid: %d group(s), %d rule(s)", len(doc.Subjects.Groups), len(doc.Rules))
		clio.Infof("policy hash: %s", doc.Hash)
		return nil
	},
}

var policyShowCommand = cli.Command{
	Name:  "show",
	Usage: "Render the effective (expanded) policy rules",
	Flags: []cli.Flag{&policyFileFlag},
	Action: func(c *cli.Context) error {
		doc, err := policy.Load(c.String("policy-file"))
		if err != nil {
			return clierr.New(err.Error())
		}

		table := tablewriter.NewWriter(os.Stderr)
		table.SetHeader([]string{"#", "RULE", "EFFECT", "SUBJECTS", "PERMISSION SET", "TARGET", "DESCRIPTION"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("\t")
		table.SetNoWhiteSpace(true)
		for i, rule := range doc.Rules {
			table.Append([]string{
				fmt.Sprintf("%d", i+1),
				rule.ID,
				rule.Effect,
				fmt.Sprintf("%v", rule.Subjects),
				rule.PermissionSet,
				describeTarget(rule.Target),
				rule.Description,
			})
		}
		table.Render()

		clio.Infof("policy hash: %s", doc.Hash)
		return nil
	},
}

func describeTarget(t policy.Target) string {
	switch t.Selector {
	case policy.SelectorOUID:
		return fmt.Sprintf("ou_id %v", t.IDs)
	case policy.SelectorTag:
		return fmt.Sprintf("tag %s in %v", t.Key, t.Values)
	default:
		return t.Selector
	}
}
