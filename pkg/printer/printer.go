// Package printer renders decision verdicts and request listings for
// the terminal.
package printer

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"

	"github.com/common-fate/boundary/pkg/policy"
	"github.com/common-fate/boundary/pkg/request"
)

var (
	allowColor = color.New(color.FgGreen, color.Bold)
	denyColor  = color.New(color.FgRed, color.Bold)
	errColor   = color.New(color.FgYellow, color.Bold)
)

func effectString(effect string) string {
	switch effect {
	case policy.ResultAllow:
		return allowColor.Sprint(effect)
	case policy.ResultDeny:
		return denyColor.Sprint(effect)
	default:
		return errColor.Sprint(effect)
	}
}

func isoFromUnix(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// Verdict renders the decision for one request. With verbose set it
// also renders the evidence snapshot.
func Verdict(w io.Writer, req *request.Request, eval policy.Evaluation, verbose bool) {
	fmt.Fprintf(w, "\n%s  %s\n\n", effectString(eval.Effect), eval.Reason)

	rows := [][]string{
		{"request", req.ID},
		{"principal", req.PrincipalID},
		{"account", req.AccountID},
		{"permission set", req.PermissionSetName},
	}
	if eval.RuleID != "" {
		rows = append(rows, []string{"rule", eval.RuleID})
	}
	if eval.Effect == policy.ResultAllow {
		duration := time.Duration(eval.EffectiveDurationHours * float64(time.Hour))
		rows = append(rows,
			[]string{"duration", durafmt.Parse(duration).LimitFirstN(2).String()},
			[]string{"expires at", isoFromUnix(eval.EffectiveExpiresAt)},
			[]string{"capped", fmt.Sprintf("%v", eval.WasCapped)},
		)
		if eval.ApprovalRequired {
			rows = append(rows, []string{"approval", fmt.Sprintf("required via %s (%s)", eval.ApprovalChannel, eval.ApproverGroup)})
		}
	}
	rows = append(rows,
		[]string{"policy hash", shortHash(eval.PolicyHash)},
		[]string{"rules processed", fmt.Sprintf("%d", eval.RulesProcessed)},
		[]string{"evaluated at", eval.EvaluatedAt},
	)

	renderTable(w, nil, rows)

	if verbose && eval.Evidence != nil {
		fmt.Fprintln(w, "\nEvidence:")
		evidence := [][]string{
			{"matched selector", eval.Evidence.MatchedSelector},
			{"principal group", eval.Evidence.PrincipalGroup},
			{"account OU path", fmt.Sprintf("%v", eval.Evidence.AccountOUPath)},
			{"account tags", fmt.Sprintf("%v", eval.Evidence.AccountTags)},
		}
		renderTable(w, nil, evidence)
	}
}

// Requests renders a request listing, one row per persisted record.
func Requests(w io.Writer, records []request.Request) {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			string(rec.Status),
			rec.PrincipalID,
			rec.AccountID,
			rec.PermissionSetName,
			isoFromUnix(rec.ExpiresAt),
		})
	}
	renderTable(w, []string{"REQUEST", "STATUS", "PRINCIPAL", "ACCOUNT", "PERMISSION SET", "EXPIRES"}, rows)
}

// SweepSummary renders the aggregate result of a janitor run.
func SweepSummary(w io.Writer, scanned, revoked, cleaned, errs int) {
	renderTable(w, nil, [][]string{
		{"scanned", fmt.Sprintf("%d", scanned)},
		{"revoked", fmt.Sprintf("%d", revoked)},
		{"cleaned pending", fmt.Sprintf("%d", cleaned)},
		{"errors", fmt.Sprintf("%d", errs)},
	})
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
