// Package identity translates chat identities into IAM Identity Center
// principal IDs: Slack user ID -> corporate email -> principal ID. Both
// hops keep a bounded warm cache so repeated requests from the same
// person don't hammer the upstream APIs.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/common-fate/boundary/pkg/backoff"
	"github.com/common-fate/clio"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

// LookupError marks an identity translation failure. The broker fails
// closed: a principal that cannot be resolved cannot be granted access.
type LookupError struct {
	Stage string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("identity lookup failed at %s: %s", e.Stage, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

const slackAPIBase = "https://slack.com/api"

type SlackClient struct {
	httpClient *http.Client
	token      string
	baseURL    string
	retry      backoff.Policy
	emails     *expirable.LRU[string, string]
}

type SlackOption func(*SlackClient)

func WithSlackHTTPClient(c *http.Client) SlackOption {
	return func(s *SlackClient) { s.httpClient = c }
}

func WithSlackBaseURL(url string) SlackOption {
	return func(s *SlackClient) { s.baseURL = url }
}

func WithSlackRetryPolicy(p backoff.Policy) SlackOption {
	return func(s *SlackClient) { s.retry = p }
}

func NewSlackClient(botToken string, opts ...SlackOption) (*SlackClient, error) {
	if !strings.HasPrefix(botToken, "xoxb-") {
		return nil, errors.New("a Slack bot token (xoxb-...) is required")
	}
	c := &SlackClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      botToken,
		baseURL:    slackAPIBase,
		retry:      backoff.Default(),
		emails:     expirable.NewLRU[string, string](512, nil, time.Hour),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type slackUserResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	User  struct {
		Profile struct {
			Email string `json:"email"`
		} `json:"profile"`
	} `json:"user"`
}

// UserEmail resolves a Slack user ID (U...) to the email address on the
// user's Slack profile. HTTP 429 responses are retried with backoff.
func (c *SlackClient) UserEmail(ctx context.Context, slackUserID string) (string, error) {
	if !strings.HasPrefix(slackUserID, "U") {
		return "", &LookupError{Stage: "slack", Err: errors.Errorf("invalid Slack user ID %q", slackUserID)}
	}
	if email, ok := c.emails.Get(slackUserID); ok {
		clio.Debugw("slack email cache hit", "user", slackUserID)
		return email, nil
	}

	var email string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users.info?user="+slackUserID, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		res, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer res.Body.Close()

		if res.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(errors.New("rate limited by Slack"))
		}
		if res.StatusCode != http.StatusOK {
			return errors.Errorf("slack API returned HTTP %d", res.StatusCode)
		}

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		// Slack returns HTTP 200 even for logical errors.
		var parsed slackUserResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return err
		}
		if !parsed.OK {
			return errors.Errorf("slack API error: %s", parsed.Error)
		}
		if parsed.User.Profile.Email == "" {
			return errors.Errorf("slack user %s has no email on their profile", slackUserID)
		}
		email = parsed.User.Profile.Email
		return nil
	})
	if err != nil {
		return "", &LookupError{Stage: "slack", Err: err}
	}

	c.emails.Add(slackUserID, email)
	return email, nil
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
