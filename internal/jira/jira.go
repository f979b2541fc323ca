// Package jira creates Jira tasks for pull requests.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/boterr"
	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const loggerName = "jira"

const DefaultHTTPClientTimeout = time.Minute

const (
	createIssuePath = "/rest/api/3/issue"
	communityLabel  = "community"
	noDescription   = "no description"
	unknownAuthor   = "unknown"
)

// ErrorHTTPRequest is returned when the Jira API responds with a non-2xx
// status code.
type ErrorHTTPRequest struct {
	Body   []byte
	Status int
}

func (e *ErrorHTTPRequest) Error() string {
	return fmt.Sprintf("jira request failed with StatusCode: %d, response: %q", e.Status, string(e.Body))
}

// Client creates issues via the Jira Cloud REST API.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   *zap.Logger
}

type Opt func(*Client)

// WithHTTPClient sets the http client that is used to send requests.
func WithHTTPClient(clt *http.Client) Opt {
	return func(c *Client) {
		c.client = clt
	}
}

// NewClient returns a client for the Jira instance at baseURL.
// apiToken is sent as is as Basic authorization credential, it must already
// be the base64 encoded "user:token" pair.
func NewClient(baseURL, apiToken string, opts ...Opt) *Client {
	c := Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiToken: apiToken,
		client: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
		logger: zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&c)
	}

	return &c
}

// TaskRequest describes the pull request a task is created for.
type TaskRequest struct {
	// Board is the key of the Jira project.
	Board       string
	PRNumber    int
	PRTitle     string
	PRBody      string
	PRURL       string
	PRAuthor    string
	PRLabels    []string
	RequestedBy string
}

type adfNode struct {
	Type    string    `json:"type"`
	Version int       `json:"version,omitempty"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

type issueFields struct {
	Project     keyRef   `json:"project"`
	Summary     string   `json:"summary"`
	IssueType   nameRef  `json:"issuetype"`
	Labels      []string `json:"labels,omitempty"`
	Description adfNode  `json:"description"`
}

type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type createIssueResponse struct {
	Key string `json:"key"`
}

func paragraph(text string) adfNode {
	return adfNode{
		Type:    "paragraph",
		Content: []adfNode{{Type: "text", Text: text}},
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func hasCommunityLabel(labels []string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, communityLabel) {
			return true
		}
	}
	return false
}

func newCreateIssueRequest(req *TaskRequest) *createIssueRequest {
	r := createIssueRequest{
		Fields: issueFields{
			Project:   keyRef{Key: req.Board},
			Summary:   fmt.Sprintf("[PR #%d] %s", req.PRNumber, req.PRTitle),
			IssueType: nameRef{Name: "Task"},
			Description: adfNode{
				Type:    "doc",
				Version: 1,
				Content: []adfNode{
					paragraph("Task automatically created by dionisio-bot."),
					paragraph("PR: " + req.PRURL),
					paragraph("PR description: " + orDefault(req.PRBody, noDescription)),
					paragraph("PR author: " + orDefault(req.PRAuthor, unknownAuthor)),
					paragraph("Requested by: " + req.RequestedBy),
				},
			},
		},
	}

	if hasCommunityLabel(req.PRLabels) {
		r.Fields.Labels = []string{communityLabel}
	}

	return &r
}

// CreateTask creates a Jira task for the pull request and returns its key.
// Transport errors and 5xx responses are returned as
// boterr.RetryableError, other non-2xx responses as *ErrorHTTPRequest.
func (c *Client) CreateTask(ctx context.Context, req *TaskRequest) (string, error) {
	if req.Board == "" {
		return "", errors.New("board is empty")
	}

	url := c.baseURL + createIssuePath
	logger := c.logger.With(
		zap.String("http_url", url),
		zap.String("jira_board", req.Board),
		logfields.PullRequest(req.PRNumber),
	)

	payload, err := json.Marshal(newCreateIssueRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshalling issue request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	httpReq.Header.Set("Authorization", "Basic "+c.apiToken)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", boterr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn(
			"reading http response body failed",
			logfields.Event("jira_reading_response_body_failed"),
			zap.Int("http_response_code", resp.StatusCode),
			zap.Error(err),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &ErrorHTTPRequest{Body: body, Status: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", boterr.NewRetryableAnytimeError(httpErr)
		}
		return "", httpErr
	}

	var created createIssueResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parsing jira response failed: %w", err)
	}

	logger.Debug(
		"jira task created",
		logfields.Event("jira_task_created"),
		zap.String("jira_task", created.Key),
	)

	return created.Key, nil
}

// TaskBody returns the pull request body with a reference to the Jira task
// appended.
func TaskBody(prBody, taskKey string) string {
	return fmt.Sprintf("%s\n\nTask: [%s]", orDefault(prBody, noDescription), taskKey)
}
