// Package workflow orchestrates one access request end to end: gather
// account facts, decide, persist, provision. Every failure path is
// fail-closed; a partial grant is never reported as success.
package workflow

import (
	"context"
	"fmt"

	"github.com/common-fate/boundary/pkg/policy"
	"github.com/common-fate/boundary/pkg/request"
	"github.com/common-fate/clio"
)

// Directory resolves permission-set display names and account facts.
// It must return an error when the organization hierarchy cannot be
// fully walked; the workflow never calls the engine on partial facts.
type Directory interface {
	ResolvePermissionSetName(ctx context.Context, instanceARN, permissionSetARN string) (string, error)
	BuildAccountContext(ctx context.Context, accountID string) (policy.AccountContext, error)
}

// Store persists request state. Save is an upsert by request ID.
type Store interface {
	Save(ctx context.Context, req *request.Request) error
	UpdateStatus(ctx context.Context, requestID string, status request.Status) error
}

// Provisioner creates the actual grant in the directory system. Assign
// must be idempotent against "already exists".
type Provisioner interface {
	Assign(ctx context.Context, principalID, accountID, permissionSetARN, instanceARN string) error
}

type ErrorKind string

const (
	// KindInfrastructure: account facts could not be gathered.
	KindInfrastructure ErrorKind = "infrastructure"
	// KindStorage: writing request state failed.
	KindStorage ErrorKind = "storage"
	// KindProvisioning: the grant could not be created or confirmed
	// after an ALLOW decision.
	KindProvisioning ErrorKind = "provisioning"
)

// Error distinguishes workflow failure kinds so the CLI can map them
// to exit codes.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Workflow struct {
	Engine      *policy.Engine
	Directory   Directory
	Store       Store
	Provisioner Provisioner

	// ConfirmCapped, when set, is consulted after an ALLOW decision
	// that capped the requested duration, before any state is written.
	// Returning false aborts the request without provisioning.
	ConfirmCapped func(eval policy.Evaluation) (bool, error)
}

// ErrAborted is returned when the caller declines a capped grant.
var ErrAborted = fmt.Errorf("request aborted")

// Handle runs the full request lifecycle. It always returns an
// evaluation; when err is non-nil the evaluation describes how far the
// request got and err carries the failure kind.
//
// The ordering on the allow path is deliberate: state is written as
// PENDING before the provisioning call, so a grant can never exist
// without a record of it. The inverse (a PENDING record without a
// grant) is possible when provisioning fails, and is cleaned up by the
// janitor's stale-PENDING pass.
func (w *Workflow) Handle(ctx context.Context, req *request.Request) (policy.Evaluation, error) {
	name, err := w.Directory.ResolvePermissionSetName(ctx, req.InstanceARN, req.PermissionSetARN)
	if err != nil {
		return w.failClosed(err), &Error{Kind: KindInfrastructure, Err: err}
	}
	req.PermissionSetName = name

	facts, err := w.Directory.BuildAccountContext(ctx, req.AccountID)
	if err != nil {
		return w.failClosed(err), &Error{Kind: KindInfrastructure, Err: err}
	}

	eval := w.Engine.Evaluate(req, facts)
	if eval.Effect != policy.ResultAllow {
		return eval, nil
	}

	if eval.WasCapped && w.ConfirmCapped != nil {
		ok, err := w.ConfirmCapped(eval)
		if err != nil {
			return eval, err
		}
		if !ok {
			return eval, ErrAborted
		}
	}

	// The engine may have capped the duration; the persisted record
	// carries the effective expiry, not the requested one.
	req.RuleID = eval.RuleID
	req.ExpiresAt = eval.EffectiveExpiresAt
	req.Status = request.StatusPending

	clio.Debugw("saving request state", "request", req.ID, "status", req.Status)
	if err := w.Store.Save(ctx, req); err != nil {
		return eval, &Error{Kind: KindStorage, Err: err}
	}

	clio.Debugw("provisioning assignment", "request", req.ID)
	if err := w.Provisioner.Assign(ctx, req.PrincipalID, req.AccountID, req.PermissionSetARN, req.InstanceARN); err != nil {
		return eval, &Error{Kind: KindProvisioning, Err: err}
	}

	if err := w.Store.UpdateStatus(ctx, req.ID, request.StatusActive); err != nil {
		return eval, &Error{Kind: KindProvisioning, Err: err}
	}
	req.Status = request.StatusActive

	return eval, nil
}

// failClosed produces the DENY evaluation used when facts could not be
// gathered. The engine is never consulted.
func (w *Workflow) failClosed(cause error) policy.Evaluation {
	eval := w.Engine.Describe()
	eval.Effect = policy.ResultDeny
	eval.Reason = "Infrastructure Error: " + cause.Error()
	return eval
}
