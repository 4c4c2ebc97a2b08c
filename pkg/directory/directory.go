// Package directory talks to AWS Organizations and IAM Identity Center
// on behalf of the broker: it gathers account facts for the decision
// engine and provisions/revokes permission-set assignments.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	"github.com/aws/smithy-go"
	"github.com/common-fate/boundary/pkg/backoff"
	"github.com/common-fate/boundary/pkg/policy"
	"github.com/common-fate/clio"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

// HierarchyError means the organization tree could not be fully walked
// to its root. Decisions are never made on partial facts, so callers
// must fail closed on this error.
type HierarchyError struct {
	AccountID string
	Reason    string
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("organization hierarchy broken for account %s: %s", e.AccountID, e.Reason)
}

type Service struct {
	orgs  *organizations.Client
	sso   *ssoadmin.Client
	retry backoff.Policy

	// permission-set display names are immutable in practice; a small
	// warm cache avoids a DescribePermissionSet call per request.
	psNames *expirable.LRU[string, string]

	principalType ssotypes.PrincipalType
}

type Option func(*Service)

func WithRetryPolicy(p backoff.Policy) Option {
	return func(s *Service) { s.retry = p }
}

// WithPrincipalType overrides the principal type used for assignments.
// The broker grants to Identity Center groups by default.
func WithPrincipalType(t ssotypes.PrincipalType) Option {
	return func(s *Service) { s.principalType = t }
}

func NewService(cfg aws.Config, opts ...Option) *Service {
	s := &Service{
		orgs:          organizations.NewFromConfig(cfg),
		sso:           ssoadmin.NewFromConfig(cfg),
		retry:         backoff.Default(),
		psNames:       expirable.NewLRU[string, string](256, nil, 15*time.Minute),
		principalType: ssotypes.PrincipalTypeGroup,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolvePermissionSetName returns the display name for a permission
// set ARN.
func (s *Service) ResolvePermissionSetName(ctx context.Context, instanceARN, permissionSetARN string) (string, error) {
	if name, ok := s.psNames.Get(permissionSetARN); ok {
		clio.Debugw("permission set name cache hit", "arn", permissionSetARN)
		return name, nil
	}

	var name string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		out, err := s.sso.DescribePermissionSet(ctx, &ssoadmin.DescribePermissionSetInput{
			InstanceArn:      &instanceARN,
			PermissionSetArn: &permissionSetARN,
		})
		if err != nil {
			return retryable(err)
		}
		if out.PermissionSet == nil || out.PermissionSet.Name == nil {
			return errors.New("describe permission set returned no name")
		}
		name = *out.PermissionSet.Name
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "resolving permission set name")
	}
	s.psNames.Add(permissionSetARN, name)
	return name, nil
}

// BuildAccountContext gathers the facts the decision engine needs about
// an account: its root-first OU ancestor path and its tags. A broken
// hierarchy is fatal; a denied tag lookup degrades to an empty tag map,
// which lets tag rules fall through to the default deny.
func (s *Service) BuildAccountContext(ctx context.Context, accountID string) (policy.AccountContext, error) {
	ouPath, err := s.ouPath(ctx, accountID)
	if err != nil {
		return policy.AccountContext{}, err
	}
	tags, err := s.accountTags(ctx, accountID)
	if err != nil {
		return policy.AccountContext{}, err
	}
	return policy.AccountContext{OUPathIDs: ouPath, Tags: tags}, nil
}

// ouPath walks ListParents from the account up to the organization
// root, returning the chain root-first so rules can match any level of
// the tree.
func (s *Service) ouPath(ctx context.Context, accountID string) ([]string, error) {
	var path []string
	currentID := accountID
	for {
		var parents []orgtypes.Parent
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			out, err := s.orgs.ListParents(ctx, &organizations.ListParentsInput{ChildId: &currentID})
			if err != nil {
				return retryable(err)
			}
			parents = out.Parents
			return nil
		})
		if err != nil {
			return nil, &HierarchyError{AccountID: accountID, Reason: err.Error()}
		}
		if len(parents) == 0 {
			return nil, &HierarchyError{AccountID: accountID, Reason: fmt.Sprintf("no parents found for %s", currentID)}
		}

		parent := parents[0]
		if parent.Id == nil {
			return nil, &HierarchyError{AccountID: accountID, Reason: fmt.Sprintf("parent of %s has no id", currentID)}
		}
		switch parent.Type {
		case orgtypes.ParentTypeRoot, orgtypes.ParentTypeOrganizationalUnit:
		default:
			return nil, &HierarchyError{AccountID: accountID, Reason: fmt.Sprintf("unexpected parent type %s for %s", parent.Type, currentID)}
		}

		// prepend so the root ends up first
		path = append([]string{*parent.Id}, path...)

		if parent.Type == orgtypes.ParentTypeRoot {
			return path, nil
		}
		currentID = *parent.Id
	}
}

func (s *Service) accountTags(ctx context.Context, accountID string) (map[string]string, error) {
	tags := map[string]string{}
	var nextToken *string
	for {
		var out *organizations.ListTagsForResourceOutput
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.orgs.ListTagsForResource(ctx, &organizations.ListTagsForResourceInput{
				ResourceId: &accountID,
				NextToken:  nextToken,
			})
			if err != nil {
				return retryable(err)
			}
			return nil
		})
		if err != nil {
			if isAccessDenied(err) {
				clio.Debugw("tag lookup denied, continuing with empty tag map", "account", accountID)
				return map[string]string{}, nil
			}
			return nil, errors.Wrapf(err, "listing tags for account %s", accountID)
		}
		for _, tag := range out.Tags {
			if tag.Key != nil && tag.Value != nil {
				tags[*tag.Key] = *tag.Value
			}
		}
		nextToken = out.NextToken
		if nextToken == nil {
			return tags, nil
		}
	}
}

// Assign creates the account assignment. An assignment that already
// exists is treated as success so retried workflows stay idempotent.
func (s *Service) Assign(ctx context.Context, principalID, accountID, permissionSetARN, instanceARN string) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.sso.CreateAccountAssignment(ctx, &ssoadmin.CreateAccountAssignmentInput{
			InstanceArn:      &instanceARN,
			PermissionSetArn: &permissionSetARN,
			PrincipalId:      &principalID,
			PrincipalType:    s.principalType,
			TargetId:         &accountID,
			TargetType:       ssotypes.TargetTypeAwsAccount,
		})
		if err != nil {
			var conflict *ssotypes.ConflictException
			if errors.As(err, &conflict) {
				clio.Debugw("assignment already exists", "principal", principalID, "account", accountID)
				return nil
			}
			return retryable(err)
		}
		return nil
	})
	return errors.Wrap(err, "creating account assignment")
}

// Revoke deletes the account assignment. An assignment that is already
// gone is treated as success so concurrent sweeps stay idempotent.
func (s *Service) Revoke(ctx context.Context, principalID, accountID, permissionSetARN, instanceARN string) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.sso.DeleteAccountAssignment(ctx, &ssoadmin.DeleteAccountAssignmentInput{
			InstanceArn:      &instanceARN,
			PermissionSetArn: &permissionSetARN,
			PrincipalId:      &principalID,
			PrincipalType:    s.principalType,
			TargetId:         &accountID,
			TargetType:       ssotypes.TargetTypeAwsAccount,
		})
		if err != nil {
			var notFound *ssotypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				clio.Debugw("assignment already removed", "principal", principalID, "account", accountID)
				return nil
			}
			return retryable(err)
		}
		return nil
	})
	return errors.Wrap(err, "deleting account assignment")
}

// retryable marks throttling responses for retry; anything else fails
// immediately.
func retryable(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return retry.RetryableError(err)
		}
	}
	return err
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDeniedException"
}
