package policy

import (
	"testing"
	"time"

	"github.com/common-fate/boundary/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

func testDocument() *Document {
	return &Document{
		Subjects: Subjects{
			Groups: map[string]Group{
				"developers": {ID: "grp-dev-1111"},
				"platform":   {ID: "grp-plat-2222"},
			},
		},
		Rules: []Rule{
			{
				ID:            "staging-readonly",
				Subjects:      []string{"developers"},
				PermissionSet: "ReadOnlyAccess",
				Target:        Target{Selector: SelectorOUID, IDs: []string{"ou-rge5-12345"}},
				Effect:        EffectAllow,
				Constraints:   Constraints{MaxDurationHours: 4},
				Description:   "Read-only access to staging accounts",
			},
		},
		Settings: Settings{MaxRequestDurationHours: 8},
		Hash:     testHash,
	}
}

func testEngine(doc *Document) *Engine {
	e := NewEngine(doc)
	e.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	return e
}

func testRequest(hours float64) *request.Request {
	requestedAt := int64(1770000000)
	return &request.Request{
		ID:                request.NewID(),
		PrincipalID:       "grp-dev-1111",
		PrincipalType:     "GROUP",
		PermissionSetARN:  "arn:aws:sso:::permissionSet/ssoins-1/ps-1",
		PermissionSetName: "ReadOnlyAccess",
		AccountID:         "123456789012",
		InstanceARN:       "arn:aws:sso:::instance/ssoins-1",
		RequestedAt:       requestedAt,
		ExpiresAt:         requestedAt + int64(hours*3600),
	}
}

func stagingContext() AccountContext {
	return AccountContext{
		OUPathIDs: []string{"r-root", "ou-infra", "ou-rge5-12345"},
		Tags:      map[string]string{"Environment": "Staging"},
	}
}

func TestEvaluateAllowWithinCap(t *testing.T) {
	e := testEngine(testDocument())
	req := testRequest(1)

	result := e.Evaluate(req, stagingContext())

	assert.Equal(t, ResultAllow, result.Effect)
	assert.Equal(t, "staging-readonly", result.RuleID)
	assert.False(t, result.WasCapped)
	assert.Equal(t, float64(1), result.EffectiveDurationHours)
	assert.Equal(t, req.ExpiresAt, result.EffectiveExpiresAt)
	assert.Equal(t, testHash, result.PolicyHash)
	assert.Equal(t, Version, result.EngineVersion)
	require.NotNil(t, result.Evidence)
	assert.Equal(t, "developers", result.Evidence.PrincipalGroup)
	assert.Equal(t, SelectorOUID, result.Evidence.MatchedSelector)
}

func TestEvaluateCapsRequestedDuration(t *testing.T) {
	e := testEngine(testDocument())
	req := testRequest(10)

	result := e.Evaluate(req, stagingContext())

	assert.Equal(t, ResultAllow, result.Effect)
	assert.True(t, result.WasCapped)
	assert.Equal(t, float64(4), result.EffectiveDurationHours)
	assert.Equal(t, req.RequestedAt+4*3600, result.EffectiveExpiresAt)
	assert.Contains(t, result.Reason, "capped at 4 hours")
}

func TestEvaluateUncappedExpiryKeepsSecondGranularity(t *testing.T) {
	// Durations like 1h1s are not whole hours; the effective expiry
	// must equal the requested one to the second, with no float drift.
	deltas := []int64{1, 115, 3601, 3715, 14399}
	for _, delta := range deltas {
		e := testEngine(testDocument())
		req := testRequest(0)
		req.ExpiresAt = req.RequestedAt + delta

		result := e.Evaluate(req, stagingContext())

		require.Equal(t, ResultAllow, result.Effect, "delta %d", delta)
		assert.False(t, result.WasCapped, "delta %d", delta)
		assert.Equal(t, req.ExpiresAt, result.EffectiveExpiresAt, "delta %d", delta)
	}
}

func TestEvaluateGlobalCapWhenRuleHasNone(t *testing.T) {
	doc := testDocument()
	doc.Rules[0].Constraints.MaxDurationHours = 0
	e := testEngine(doc)
	req := testRequest(12)

	result := e.Evaluate(req, stagingContext())

	assert.Equal(t, ResultAllow, result.Effect)
	assert.True(t, result.WasCapped)
	assert.Equal(t, float64(8), result.EffectiveDurationHours)
}

func TestEvaluateNoMatchFallsThroughToDefaultDeny(t *testing.T) {
	doc := testDocument()
	doc.Rules[0].Target = Target{Selector: SelectorTag, Key: "Environment", Values: []string{"Staging"}}
	e := testEngine(doc)
	req := testRequest(1)
	ctx := AccountContext{
		OUPathIDs: []string{"r-root", "ou-prod"},
		Tags:      map[string]string{"Environment": "Prod"},
	}

	result := e.Evaluate(req, ctx)

	assert.Equal(t, ResultDeny, result.Effect)
	assert.Equal(t, ReasonDefaultDeny, result.Reason)
	assert.Empty(t, result.RuleID)
	assert.Equal(t, len(doc.Rules), result.RulesProcessed)
}

func TestEvaluateUnknownPrincipalDeniesWithoutScanningRules(t *testing.T) {
	e := testEngine(testDocument())
	req := testRequest(1)
	req.PrincipalID = "grp-unknown-9999"

	result := e.Evaluate(req, stagingContext())

	assert.Equal(t, ResultDeny, result.Effect)
	assert.Equal(t, ReasonNotInGroups, result.Reason)
	assert.Zero(t, result.RulesProcessed)
	assert.Equal(t, testHash, result.PolicyHash)
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	doc := testDocument()
	doc.Rules = append(doc.Rules, Rule{
		ID:            "staging-readonly-later",
		Subjects:      []string{"developers"},
		PermissionSet: "*",
		Target:        Target{Selector: SelectorOUID, IDs: []string{"ou-rge5-12345"}},
		Effect:        EffectDeny,
		Description:   "Shadowed by the earlier rule",
	})
	e := testEngine(doc)

	result := e.Evaluate(testRequest(1), stagingContext())

	assert.Equal(t, ResultAllow, result.Effect)
	assert.Equal(t, "staging-readonly", result.RuleID)
	assert.Equal(t, 1, result.RulesProcessed)
}

func TestEvaluateDenyRuleShortCircuits(t *testing.T) {
	doc := testDocument()
	doc.Rules = []Rule{
		{
			ID:            "block-staging",
			Subjects:      []string{"developers"},
			PermissionSet: "*",
			Target:        Target{Selector: SelectorOUID, IDs: []string{"ou-rge5-12345"}},
			Effect:        EffectDeny,
			Constraints:   Constraints{MaxDurationHours: 4, TicketRequired: true},
			Description:   "Staging is frozen",
		},
	}
	e := testEngine(doc)
	req := testRequest(10) // would be capped, and has no ticket

	result := e.Evaluate(req, stagingContext())

	assert.Equal(t, ResultDeny, result.Effect)
	assert.Equal(t, "block-staging", result.RuleID)
	assert.Equal(t, "Staging is frozen", result.Reason)
	// deny short-circuits before capping and ticket checks
	assert.False(t, result.WasCapped)
	assert.Zero(t, result.EffectiveDurationHours)
}

func TestEvaluateInvalidDurationDeniesEvenOnMatch(t *testing.T) {
	e := testEngine(testDocument())
	req := testRequest(1)
	req.ExpiresAt = req.RequestedAt

	result := e.Evaluate(req, stagingContext())

	assert.Equal(t, ResultDeny, result.Effect)
	assert.Equal(t, ReasonInvalidDuration, result.Reason)
	assert.Equal(t, "staging-readonly", result.RuleID)
}

func TestEvaluateTicketRequired(t *testing.T) {
	doc := testDocument()
	doc.Rules[0].Constraints.TicketRequired = true
	e := testEngine(doc)

	t.Run("missing ticket denies", func(t *testing.T) {
		result := e.Evaluate(testRequest(10), stagingContext())
		assert.Equal(t, ResultDeny, result.Effect)
		assert.Equal(t, ReasonTicketRequired, result.Reason)
		assert.Equal(t, "staging-readonly", result.RuleID)
		assert.False(t, result.WasCapped)
	})

	t.Run("ticket supplied allows", func(t *testing.T) {
		req := testRequest(1)
		req.TicketID = "OPS-1234"
		result := e.Evaluate(req, stagingContext())
		assert.Equal(t, ResultAllow, result.Effect)
	})
}

func TestEvaluateApprovalMetadataPassedThrough(t *testing.T) {
	doc := testDocument()
	doc.Rules[0].Approval = Approval{
		Required:       true,
		Channel:        "#access-approvals",
		ApproverGroups: []string{"platform", "security"},
	}
	e := testEngine(doc)

	result := e.Evaluate(testRequest(1), stagingContext())

	assert.Equal(t, ResultAllow, result.Effect)
	assert.True(t, result.ApprovalRequired)
	assert.Equal(t, "#access-approvals", result.ApprovalChannel)
	assert.Equal(t, "platform", result.ApproverGroup)
}

func TestEvaluateGates(t *testing.T) {
	type testcase struct {
		name          string
		givePrincipal string
		givePSName    string
		giveContext   AccountContext
		wantEffect    string
	}

	testcases := []testcase{
		{
			name:          "wrong group falls through",
			givePrincipal: "grp-plat-2222",
			givePSName:    "ReadOnlyAccess",
			giveContext:   stagingContext(),
			wantEffect:    ResultDeny,
		},
		{
			name:          "wrong permission set falls through",
			givePrincipal: "grp-dev-1111",
			givePSName:    "AdministratorAccess",
			giveContext:   stagingContext(),
			wantEffect:    ResultDeny,
		},
		{
			name:          "wrong target falls through",
			givePrincipal: "grp-dev-1111",
			givePSName:    "ReadOnlyAccess",
			giveContext:   AccountContext{OUPathIDs: []string{"r-root", "ou-prod"}},
			wantEffect:    ResultDeny,
		},
		{
			name:          "all gates pass",
			givePrincipal: "grp-dev-1111",
			givePSName:    "ReadOnlyAccess",
			giveContext:   stagingContext(),
			wantEffect:    ResultAllow,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			e := testEngine(testDocument())
			req := testRequest(1)
			req.PrincipalID = tc.givePrincipal
			req.PermissionSetName = tc.givePSName

			result := e.Evaluate(req, tc.giveContext)
			assert.Equal(t, tc.wantEffect, result.Effect)
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := testEngine(testDocument())
	req := testRequest(3)

	first := e.Evaluate(req, stagingContext())
	second := e.Evaluate(req, stagingContext())

	assert.Equal(t, first, second)
}

func TestWildcardPermissionSetMatchesAnything(t *testing.T) {
	doc := testDocument()
	doc.Rules[0].PermissionSet = "*"
	e := testEngine(doc)
	req := testRequest(1)
	req.PermissionSetName = "AdministratorAccess"

	result := e.Evaluate(req, stagingContext())
	assert.Equal(t, ResultAllow, result.Effect)
}
