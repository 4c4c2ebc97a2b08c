// Package janitor implements the revocation sweep: find every ACTIVE
// request whose expiry has passed and drive it to REVOKED. Revocation
// is at-least-once; a failed item stays ACTIVE and is retried on the
// next scheduled run.
package janitor

import (
	"context"
	"time"

	"github.com/common-fate/boundary/pkg/request"
	"github.com/common-fate/clio"
)

// Store is the persistence surface the sweep needs.
type Store interface {
	QueryExpiredActive(ctx context.Context, now time.Time) ([]request.Request, error)
	QueryStalePending(ctx context.Context, now time.Time) ([]request.Request, error)
	UpdateStatus(ctx context.Context, requestID string, status request.Status) error
}

// Revoker removes an assignment. Revoke must treat "already removed"
// as success: two concurrent sweeps may act on the same item.
type Revoker interface {
	Revoke(ctx context.Context, principalID, accountID, permissionSetARN, instanceARN string) error
}

// Result aggregates one sweep. The run is fully successful only when
// Errors is zero; otherwise the scheduler must be told so it retries.
type Result struct {
	Scanned        int `json:"scanned"`
	Revoked        int `json:"revoked"`
	CleanedPending int `json:"cleaned_pending"`
	Errors         int `json:"errors"`
}

func (r Result) Clean() bool { return r.Errors == 0 }

type Janitor struct {
	Store   Store
	Revoker Revoker

	// DryRun queries and logs intended actions without revoking or
	// mutating state.
	DryRun bool

	// IncludeStalePending additionally cleans up PENDING records whose
	// expiry has passed: provisioning failed after the record was
	// written, so the sweep revokes defensively (idempotent) and marks
	// the record ERROR.
	IncludeStalePending bool

	// Now is swappable in tests.
	Now func() time.Time
}

// Sweep runs one pass. Failures on individual items never abort the
// remaining batch.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	var result Result

	expired, err := j.Store.QueryExpiredActive(ctx, now())
	if err != nil {
		return result, err
	}
	clio.Infof("found %d expired active request(s)", len(expired))

	for _, rec := range expired {
		result.Scanned++
		if j.DryRun {
			clio.Infof("[dry run] would revoke %s (principal %s, account %s)", rec.ID, rec.PrincipalID, rec.AccountID)
			continue
		}
		if err := j.revoke(ctx, rec, request.StatusRevoked); err != nil {
			clio.Errorf("failed to revoke %s: %s", rec.ID, err)
			result.Errors++
			continue
		}
		clio.Infof("revoked %s", rec.ID)
		result.Revoked++
	}

	if j.IncludeStalePending {
		stale, err := j.Store.QueryStalePending(ctx, now())
		if err != nil {
			return result, err
		}
		if len(stale) > 0 {
			clio.Infof("found %d stale pending request(s)", len(stale))
		}
		for _, rec := range stale {
			result.Scanned++
			if j.DryRun {
				clio.Infof("[dry run] would mark stale pending %s as ERROR", rec.ID)
				continue
			}
			if err := j.revoke(ctx, rec, request.StatusError); err != nil {
				clio.Errorf("failed to clean up stale pending %s: %s", rec.ID, err)
				result.Errors++
				continue
			}
			clio.Infof("cleaned up stale pending %s", rec.ID)
			result.CleanedPending++
		}
	}

	return result, nil
}

// revoke removes the assignment then records the terminal status. The
// status write only happens after a successful revoke, so a failure
// leaves the record eligible for the next sweep.
func (j *Janitor) revoke(ctx context.Context, rec request.Request, terminal request.Status) error {
	if err := j.Revoker.Revoke(ctx, rec.PrincipalID, rec.AccountID, rec.PermissionSetARN, rec.InstanceARN); err != nil {
		return err
	}
	return j.Store.UpdateStatus(ctx, rec.ID, terminal)
}
