package identity

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/identitystore/document"
	idstypes "github.com/aws/aws-sdk-go-v2/service/identitystore/types"
	"github.com/aws/smithy-go"
	"github.com/common-fate/boundary/pkg/backoff"
	"github.com/common-fate/clio"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

// StoreClient resolves email addresses to immutable Identity Center
// user IDs via the Identity Store API.
type StoreClient struct {
	client  *identitystore.Client
	storeID string
	retry   backoff.Policy
	users   *expirable.LRU[string, string]
}

type StoreOption func(*StoreClient)

func WithStoreRetryPolicy(p backoff.Policy) StoreOption {
	return func(c *StoreClient) { c.retry = p }
}

func NewStoreClient(cfg aws.Config, identityStoreID string, opts ...StoreOption) (*StoreClient, error) {
	if !strings.HasPrefix(identityStoreID, "d-") {
		return nil, errors.New("a valid identity store ID (d-...) is required")
	}
	c := &StoreClient{
		client:  identitystore.NewFromConfig(cfg),
		storeID: identityStoreID,
		retry:   backoff.Default(),
		users:   expirable.NewLRU[string, string](512, nil, time.Hour),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PrincipalIDByEmail translates an email address into the Identity
// Center user ID that policy subjects are keyed on.
func (c *StoreClient) PrincipalIDByEmail(ctx context.Context, email string) (string, error) {
	if !emailPattern.MatchString(email) {
		return "", &LookupError{Stage: "identity store", Err: errors.Errorf("invalid email address %q", email)}
	}
	if id, ok := c.users.Get(email); ok {
		clio.Debugw("identity store cache hit")
		return id, nil
	}

	var userID string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		out, err := c.client.GetUserId(ctx, &identitystore.GetUserIdInput{
			IdentityStoreId: &c.storeID,
			AlternateIdentifier: &idstypes.AlternateIdentifierMemberUniqueAttribute{
				Value: idstypes.UniqueAttribute{
					AttributePath:  aws.String("emails.value"),
					AttributeValue: document.NewLazyDocument(email),
				},
			},
		})
		if err != nil {
			var notFound *idstypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return errors.Errorf("email %s is not registered in IAM Identity Center", email)
			}
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
				return retry.RetryableError(err)
			}
			return err
		}
		if out.UserId == nil {
			return errors.New("identity store returned no user ID")
		}
		userID = *out.UserId
		return nil
	})
	if err != nil {
		return "", &LookupError{Stage: "identity store", Err: err}
	}

	c.users.Add(email, userID)
	return userID, nil
}

// Translator chains the two lookups: Slack user ID -> email ->
// principal ID.
type Translator struct {
	Slack *SlackClient
	Store *StoreClient
}

func (t *Translator) ResolvePrincipal(ctx context.Context, slackUserID string) (string, error) {
	email, err := t.Slack.UserEmail(ctx, slackUserID)
	if err != nil {
		return "", err
	}
	return t.Store.PrincipalIDByEmail(ctx, email)
}
