package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/common-fate/boundary/pkg/request"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	expiredActive []request.Request
	stalePending  []request.Request
	queryErr      error

	statuses  map[string]request.Status
	updateErr error
}

func (f *fakeStore) QueryExpiredActive(ctx context.Context, now time.Time) ([]request.Request, error) {
	return f.expiredActive, f.queryErr
}

func (f *fakeStore) QueryStalePending(ctx context.Context, now time.Time) ([]request.Request, error) {
	return f.stalePending, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, requestID string, status request.Status) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.statuses == nil {
		f.statuses = map[string]request.Status{}
	}
	f.statuses[requestID] = status
	return nil
}

type fakeRevoker struct {
	revoked []string
	failFor map[string]error
}

func (f *fakeRevoker) Revoke(ctx context.Context, principalID, accountID, permissionSetARN, instanceARN string) error {
	if err, ok := f.failFor[principalID]; ok {
		return err
	}
	f.revoked = append(f.revoked, principalID+"/"+accountID)
	return nil
}

func rec(id, principal string) request.Request {
	return request.Request{
		ID:               id,
		PrincipalID:      principal,
		AccountID:        "123456789012",
		PermissionSetARN: "arn:aws:sso:::permissionSet/ssoins-1/ps-1",
		InstanceARN:      "arn:aws:sso:::instance/ssoins-1",
		Status:           request.StatusActive,
	}
}

func TestSweepRevokesEachExpiredItemOnce(t *testing.T) {
	store := &fakeStore{expiredActive: []request.Request{
		rec("bnd_1", "grp-a"),
		rec("bnd_2", "grp-b"),
	}}
	revoker := &fakeRevoker{}
	j := &Janitor{Store: store, Revoker: revoker}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Revoked)
	assert.Zero(t, result.Errors)
	assert.True(t, result.Clean())
	assert.Len(t, revoker.revoked, 2)
	assert.Equal(t, request.StatusRevoked, store.statuses["bnd_1"])
	assert.Equal(t, request.StatusRevoked, store.statuses["bnd_2"])
}

func TestSweepContinuesPastFailures(t *testing.T) {
	store := &fakeStore{expiredActive: []request.Request{
		rec("bnd_1", "grp-a"),
		rec("bnd_2", "grp-broken"),
		rec("bnd_3", "grp-c"),
	}}
	revoker := &fakeRevoker{failFor: map[string]error{"grp-broken": errors.New("sso is down")}}
	j := &Janitor{Store: store, Revoker: revoker}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Revoked)
	assert.Equal(t, 1, result.Errors)
	assert.False(t, result.Clean())
	// the failed item keeps its ACTIVE status for the next run
	_, updated := store.statuses["bnd_2"]
	assert.False(t, updated)
	assert.Equal(t, request.StatusRevoked, store.statuses["bnd_1"])
	assert.Equal(t, request.StatusRevoked, store.statuses["bnd_3"])
}

func TestSweepStatusNotUpdatedWhenStoreFails(t *testing.T) {
	store := &fakeStore{
		expiredActive: []request.Request{rec("bnd_1", "grp-a")},
		updateErr:     errors.New("dynamo unavailable"),
	}
	j := &Janitor{Store: store, Revoker: &fakeRevoker{}}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.Revoked)
	assert.Equal(t, 1, result.Errors)
}

func TestSweepDryRunTouchesNothing(t *testing.T) {
	store := &fakeStore{
		expiredActive: []request.Request{rec("bnd_1", "grp-a")},
		stalePending:  []request.Request{rec("bnd_2", "grp-b")},
	}
	revoker := &fakeRevoker{}
	j := &Janitor{Store: store, Revoker: revoker, DryRun: true, IncludeStalePending: true}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Zero(t, result.Revoked)
	assert.Zero(t, result.CleanedPending)
	assert.Empty(t, revoker.revoked)
	assert.Empty(t, store.statuses)
}

func TestSweepEmptyStoreIsClean(t *testing.T) {
	j := &Janitor{Store: &fakeStore{}, Revoker: &fakeRevoker{}}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
	assert.True(t, result.Clean())
}

func TestSweepQueryFailureAborts(t *testing.T) {
	j := &Janitor{Store: &fakeStore{queryErr: errors.New("index unavailable")}, Revoker: &fakeRevoker{}}

	_, err := j.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweepStalePendingMarkedError(t *testing.T) {
	stale := rec("bnd_9", "grp-a")
	stale.Status = request.StatusPending
	store := &fakeStore{stalePending: []request.Request{stale}}
	revoker := &fakeRevoker{}
	j := &Janitor{Store: store, Revoker: revoker, IncludeStalePending: true}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.CleanedPending)
	// revoked defensively first, in case provisioning landed
	assert.Len(t, revoker.revoked, 1)
	assert.Equal(t, request.StatusError, store.statuses["bnd_9"])
}

func TestSweepStalePendingSkippedByDefault(t *testing.T) {
	stale := rec("bnd_9", "grp-a")
	stale.Status = request.StatusPending
	store := &fakeStore{stalePending: []request.Request{stale}}
	j := &Janitor{Store: store, Revoker: &fakeRevoker{}}

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.CleanedPending)
	assert.Empty(t, store.statuses)
}
