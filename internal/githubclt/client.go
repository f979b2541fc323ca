// Package githubclt provides a github API client.
package githubclt

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v59/github"
	"github.com/gregjones/httpcache"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dionisio-bot/dionisio/internal/boterr"
	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrMergeConflict is returned by Merge when the head can not be merged
	// into the base branch without conflicts.
	ErrMergeConflict = errors.New("merge conflict")
)

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	restTransport := newAuthTransport(oauthAPItoken, http.DefaultTransport)
	cachedTransport := newAuthTransport(oauthAPItoken, httpcache.NewMemoryCacheTransport())

	return &Client{
		restClt:       github.NewClient(newHTTPClient(restTransport)),
		cachedRestClt: github.NewClient(newHTTPClient(cachedTransport)),
		graphQLClt:    githubv4.NewClient(newHTTPClient(restTransport)),
		logger:        zap.L().Named(loggerName),
	}
}

// NewWithHTTPClient returns a client that sends all requests via httpClient
// to the GitHub API at baseURL.
// It is intended to be used with test servers.
func NewWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base URL failed: %w", err)
	}

	restClt := github.NewClient(httpClient)
	restClt.BaseURL = u

	return &Client{
		restClt:       restClt,
		cachedRestClt: restClt,
		graphQLClt:    githubv4.NewEnterpriseClient(u.String()+"graphql", httpClient),
		logger:        zap.L().Named(loggerName),
	}, nil
}

func newAuthTransport(apiToken string, base http.RoundTripper) http.RoundTripper {
	if apiToken == "" {
		return base
	}

	return &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken}),
		Base:   base,
	}
}

// newHTTPClient returns a client that pauses requests when the GitHub
// secondary rate limit is hit.
func newHTTPClient(transport http.RoundTripper) *http.Client {
	clt := github_ratelimit.NewClient(transport)
	clt.Timeout = DefaultHTTPClientTimeout

	return clt
}

// Client is an github API client.
// All methods return a boterr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt *github.Client
	// cachedRestClt uses a HTTP cache with ETag revalidation, it
	// must only be used for data where a short staleness is acceptable.
	// Git refs must always be read via restClt.
	cachedRestClt *github.Client
	graphQLClt    *githubv4.Client
	logger        *zap.Logger
}

func hasStatusCode(err error, code int) bool {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) || respErr.Response == nil {
		return false
	}

	return respErr.Response.StatusCode == code
}

func errMessageContains(err error, substr string) bool {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) {
		return false
	}

	if strings.Contains(strings.ToLower(respErr.Message), substr) {
		return true
	}

	for _, e := range respErr.Errors {
		if strings.Contains(strings.ToLower(e.Message), substr) {
			return true
		}
	}

	return false
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return boterr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		if v.RetryAfter != nil {
			return boterr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return boterr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response != nil && v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return boterr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return boterr.NewRetryableAnytimeError(err)
	}

	return err
}
