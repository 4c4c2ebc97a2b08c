package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/common-fate/boundary/pkg/request"
)

// Version identifies the decision algorithm. It is recorded on every
// evaluation result alongside the policy hash.
const Version = "1.0.0"

const (
	ResultAllow = "ALLOW"
	ResultDeny  = "DENY"
	ResultError = "ERROR"
)

// Fixed reason vocabulary. Audit tooling matches on these strings.
const (
	ReasonDefaultDeny     = "Denied by default policy."
	ReasonNotInGroups     = "User not in authorized groups."
	ReasonInvalidDuration = "Invalid request duration"
	ReasonTicketRequired  = "Ticket required for this request."
)

// Evaluation is the immutable decision record for one request.
type Evaluation struct {
	Effect                 string    `json:"effect"`
	Reason                 string    `json:"reason"`
	RuleID                 string    `json:"rule_id,omitempty"`
	ApprovalRequired       bool      `json:"approval_required"`
	ApprovalChannel        string    `json:"approval_channel,omitempty"`
	ApproverGroup          string    `json:"approver_group,omitempty"`
	WasCapped              bool      `json:"was_capped"`
	EffectiveDurationHours float64   `json:"effective_duration_hours,omitempty"`
	EffectiveExpiresAt     int64     `json:"effective_expires_at,omitempty"`
	PolicyHash             string    `json:"policy_hash"`
	EngineVersion          string    `json:"engine_version"`
	EvaluatedAt            string    `json:"evaluated_at"`
	Evidence               *Evidence `json:"context_evidence,omitempty"`
	RulesProcessed         int       `json:"rules_processed"`
}

// Evidence snapshots the facts that justified a decision.
type Evidence struct {
	MatchedSelector string            `json:"matched_selector"`
	AccountOUPath   []string          `json:"account_ou_path"`
	AccountTags     map[string]string `json:"account_tags"`
	PrincipalGroup  string            `json:"principal_group"`
}

// Engine evaluates access requests against a loaded policy document.
// Evaluate mutates nothing: the same request, context and document
// always produce the same decision.
type Engine struct {
	doc *Document

	// now is swappable in tests; it only feeds the EvaluatedAt
	// metadata, never the decision itself.
	now func() time.Time
}

func NewEngine(doc *Document) *Engine {
	return &Engine{doc: doc, now: time.Now}
}

// Describe returns an evaluation shell carrying only the engine and
// policy metadata, for callers that must emit an auditable result
// without running the rules (e.g. fail-closed denials on
// infrastructure errors).
func (e *Engine) Describe() Evaluation {
	return Evaluation{
		PolicyHash:    e.doc.Hash,
		EngineVersion: Version,
		EvaluatedAt:   e.now().UTC().Format(time.RFC3339),
	}
}

// Evaluate runs the decision algorithm: resolve the principal's group,
// scan rules in document order, and apply the first rule whose subject,
// permission-set and target gates all pass. Deny rules short-circuit;
// allow rules then go through duration validation, capping and the
// ticket constraint.
func (e *Engine) Evaluate(req *request.Request, ctx AccountContext) Evaluation {
	result := Evaluation{
		Effect:        ResultDeny,
		Reason:        ReasonDefaultDeny,
		PolicyHash:    e.doc.Hash,
		EngineVersion: Version,
		EvaluatedAt:   e.now().UTC().Format(time.RFC3339),
	}

	subjectName := e.doc.GroupNameForID(req.PrincipalID)
	if subjectName == "" {
		result.Reason = ReasonNotInGroups
		return result
	}

	for _, rule := range e.doc.Rules {
		result.RulesProcessed++

		if !containsString(rule.Subjects, subjectName) {
			continue
		}
		if rule.PermissionSet != "*" && rule.PermissionSet != req.PermissionSetName {
			continue
		}
		if !Match(rule.Target, ctx) {
			continue
		}

		// First match wins: this rule governs the request, whatever
		// its effect. Later rules are never consulted.
		if rule.Effect == EffectDeny {
			result.Reason = rule.Description
			result.RuleID = rule.ID
			return result
		}

		if req.ExpiresAt <= req.RequestedAt {
			result.Reason = ReasonInvalidDuration
			result.RuleID = rule.ID
			return result
		}

		ruleMax := e.doc.maxDurationHours(rule)
		requestedHours := float64(req.ExpiresAt-req.RequestedAt) / 3600
		result.WasCapped = requestedHours > ruleMax
		if result.WasCapped {
			result.EffectiveDurationHours = ruleMax
			result.EffectiveExpiresAt = req.RequestedAt + int64(math.Round(ruleMax*3600))
		} else {
			// Uncapped requests keep the requested expiry verbatim;
			// round-tripping seconds through float hours would truncate.
			result.EffectiveDurationHours = requestedHours
			result.EffectiveExpiresAt = req.ExpiresAt
		}

		if rule.Constraints.TicketRequired && req.TicketID == "" {
			// Capping was computed above but a denial carries no
			// duration metadata.
			result.WasCapped = false
			result.EffectiveDurationHours = 0
			result.EffectiveExpiresAt = 0
			result.Reason = ReasonTicketRequired
			result.RuleID = rule.ID
			return result
		}

		result.Effect = ResultAllow
		result.Reason = rule.Description
		if result.WasCapped {
			result.Reason = fmt.Sprintf("%s (capped at %g hours by policy)", rule.Description, ruleMax)
		}
		result.RuleID = rule.ID
		result.ApprovalRequired = rule.Approval.Required
		result.ApprovalChannel = rule.Approval.Channel
		if len(rule.Approval.ApproverGroups) > 0 {
			result.ApproverGroup = rule.Approval.ApproverGroups[0]
		}
		result.Evidence = &Evidence{
			MatchedSelector: rule.Target.Selector,
			AccountOUPath:   ctx.OUPathIDs,
			AccountTags:     ctx.Tags,
			PrincipalGroup:  subjectName,
		}
		return result
	}

	return result
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
