// Package policy contains the access policy document model and the
// decision engine which evaluates access requests against it.
//
// The engine is a pure computation: it performs no I/O, keeps no state
// and is safe to call concurrently. All facts about the target account
// are gathered up front into an AccountContext by the caller.
package policy

import (
	"fmt"
)

const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

const (
	SelectorOUID = "ou_id"
	SelectorTag  = "tag"
)

// Document is the parsed and validated access policy. Rule order is
// significant: the first rule whose gates all pass governs the request.
type Document struct {
	Subjects Subjects `yaml:"subjects"`
	Rules    []Rule   `yaml:"rules"`
	Settings Settings `yaml:"settings"`

	// Hash is the lowercase hex SHA-256 of the expanded document bytes.
	// It is set by the loader and attached to every evaluation result,
	// including denials, so audit evidence always points at an exact
	// policy version.
	Hash string `yaml:"-"`
}

type Subjects struct {
	Groups map[string]Group `yaml:"groups"`
}

type Group struct {
	ID string `yaml:"id"`
}

type Settings struct {
	// MaxRequestDurationHours is the global duration cap, used when a
	// rule does not set its own.
	MaxRequestDurationHours float64 `yaml:"max_request_duration_hours"`
}

type Rule struct {
	ID            string      `yaml:"id"`
	Subjects      []string    `yaml:"subjects"`
	PermissionSet string      `yaml:"permission_set"`
	Target        Target      `yaml:"target"`
	Effect        string      `yaml:"effect"`
	Constraints   Constraints `yaml:"constraints"`
	Approval      Approval    `yaml:"approval"`
	Description   string      `yaml:"description"`
}

type Constraints struct {
	MaxDurationHours float64 `yaml:"max_duration_hours"`
	TicketRequired   bool    `yaml:"ticket_required"`
}

type Approval struct {
	Required       bool     `yaml:"required"`
	Channel        string   `yaml:"channel"`
	ApproverGroups []string `yaml:"approver_groups"`
}

// Target selects the accounts a rule applies to. Selector is the
// discriminator: "ou_id" uses IDs, "tag" uses Key and Values. Unknown
// selectors never match anything.
type Target struct {
	Selector string   `yaml:"selector"`
	IDs      []string `yaml:"ids"`
	Key      string   `yaml:"key"`
	Values   []string `yaml:"values"`
}

// AccountContext holds the facts about a target account needed for a
// decision: the root-first chain of ancestor OU IDs, and the account's
// tags flattened into a map.
type AccountContext struct {
	OUPathIDs []string          `json:"ou_path_ids"`
	Tags      map[string]string `json:"tags"`
}

// GroupNameForID reverse-looks-up the human-readable group name for a
// principal ID. The empty string means the principal is not a member of
// any authorized group.
func (d *Document) GroupNameForID(principalID string) string {
	for name, group := range d.Subjects.Groups {
		if group.ID == principalID {
			return name
		}
	}
	return ""
}

// maxDurationHours returns the effective duration cap for a rule: the
// rule-level constraint if set, otherwise the global setting.
func (d *Document) maxDurationHours(r Rule) float64 {
	if r.Constraints.MaxDurationHours > 0 {
		return r.Constraints.MaxDurationHours
	}
	return d.Settings.MaxRequestDurationHours
}

// validate enforces the document schema once at load time so that
// evaluation never needs to probe for missing fields.
func (d *Document) validate() error {
	if len(d.Subjects.Groups) == 0 {
		return &LoadError{Reason: "policy declares no subject groups"}
	}
	// A principal ID must map to exactly one group name: the engine
	// reverse-looks-up the subject by ID, and two names sharing an ID
	// would make that resolution ambiguous.
	idToName := make(map[string]string, len(d.Subjects.Groups))
	for name, group := range d.Subjects.Groups {
		if group.ID == "" {
			return &LoadError{Reason: fmt.Sprintf("group %q has no principal id", name)}
		}
		if other, ok := idToName[group.ID]; ok {
			first, second := other, name
			if second < first {
				first, second = second, first
			}
			return &LoadError{Reason: fmt.Sprintf("groups %q and %q share principal id %q", first, second, group.ID)}
		}
		idToName[group.ID] = name
	}
	if d.Settings.MaxRequestDurationHours <= 0 {
		return &LoadError{Reason: "settings.max_request_duration_hours must be positive"}
	}

	seen := make(map[string]bool, len(d.Rules))
	for i, rule := range d.Rules {
		if rule.ID == "" {
			return &LoadError{Reason: fmt.Sprintf("rule at index %d has no id", i)}
		}
		if seen[rule.ID] {
			return &LoadError{Reason: fmt.Sprintf("duplicate rule id %q", rule.ID)}
		}
		seen[rule.ID] = true

		if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
			return &LoadError{Reason: fmt.Sprintf("rule %q has invalid effect %q", rule.ID, rule.Effect)}
		}
		if len(rule.Subjects) == 0 {
			return &LoadError{Reason: fmt.Sprintf("rule %q has no subjects", rule.ID)}
		}
		for _, subject := range rule.Subjects {
			if _, ok := d.Subjects.Groups[subject]; !ok {
				return &LoadError{Reason: fmt.Sprintf("rule %q references undeclared group %q", rule.ID, subject)}
			}
		}
		if rule.PermissionSet == "" {
			return &LoadError{Reason: fmt.Sprintf("rule %q has no permission_set", rule.ID)}
		}

		switch rule.Target.Selector {
		case SelectorOUID:
			if len(rule.Target.IDs) == 0 {
				return &LoadError{Reason: fmt.Sprintf("rule %q ou_id target has no ids", rule.ID)}
			}
		case SelectorTag:
			if rule.Target.Key == "" || len(rule.Target.Values) == 0 {
				return &LoadError{Reason: fmt.Sprintf("rule %q tag target needs a key and values", rule.ID)}
			}
		default:
			return &LoadError{Reason: fmt.Sprintf("rule %q has unknown target selector %q", rule.ID, rule.Target.Selector)}
		}
	}
	return nil
}
