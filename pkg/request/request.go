// Package request defines the access request entity and its lifecycle
// states, plus validation of the security-critical request inputs.
package request

import (
	"time"

	"github.com/segmentio/ksuid"
)

type Status string

const (
	// StatusPending means a decision was made and state was written,
	// but provisioning has not yet been confirmed.
	StatusPending Status = "PENDING"
	// StatusActive means access is provisioned and confirmed.
	StatusActive Status = "ACTIVE"
	// StatusRevoked is terminal: access was removed by the janitor.
	StatusRevoked Status = "REVOKED"
	// StatusError marks requests that never reached a clean state.
	StatusError Status = "ERROR"
)

// Request is a single time-boxed access request. Timestamps are Unix
// seconds. Once validated, ExpiresAt is always after RequestedAt, and
// IDs are never reused.
type Request struct {
	ID                string `json:"request_id" dynamodbav:"request_id"`
	PrincipalID       string `json:"principal_id" dynamodbav:"principal_id"`
	PrincipalType     string `json:"principal_type" dynamodbav:"principal_type"`
	PermissionSetARN  string `json:"permission_set_arn" dynamodbav:"permission_set_arn"`
	PermissionSetName string `json:"permission_set_name" dynamodbav:"permission_set_name"`
	AccountID         string `json:"account_id" dynamodbav:"account_id"`
	InstanceARN       string `json:"instance_arn" dynamodbav:"instance_arn"`
	RuleID            string `json:"rule_id" dynamodbav:"rule_id"`
	Status            Status `json:"status" dynamodbav:"status"`
	TicketID          string `json:"ticket_id,omitempty" dynamodbav:"ticket_id"`
	RequestedAt       int64  `json:"requested_at" dynamodbav:"requested_at"`
	ExpiresAt         int64  `json:"expires_at" dynamodbav:"expires_at"`
}

// NewID returns a unique request identifier. The prefix keeps request
// IDs recognisable in audit logs and database scans.
func NewID() string {
	return "bnd_" + ksuid.New().String()
}

func (r *Request) Expired(now time.Time) bool {
	return now.Unix() > r.ExpiresAt
}
