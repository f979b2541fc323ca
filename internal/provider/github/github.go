package github

import (
	"net/http"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const loggerName = "github-event-provider"

// Provider listens for github-webhook http-requests at a http-server handler,
// validates and converts the requests to Events and forwards them to an event
// channel.
// Only events of the types the bot reacts to are forwarded, others are
// acknowledged and dropped.
type Provider struct {
	logger        *zap.Logger
	webhookSecret []byte
	c             chan<- *Event
}

type option func(*Provider)

func WithPayloadSecret(secret string) option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func New(eventChan chan<- *Event, opts ...option) *Provider {
	p := Provider{
		c:      eventChan,
		logger: zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&p)
	}

	return &p
}

type repoGetter interface {
	GetRepo() *github.Repository
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logFields := []zap.Field{
		logfields.EventProvider("github"),
		logfields.DeliveryID(deliveryID),
		logfields.WebhookType(hookType),
	}

	logger := p.logger.With(logFields...)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	event, err := github.ParseWebHook(hookType, payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	switch event.(type) {
	case *github.PullRequestEvent,
		*github.IssueCommentEvent,
		*github.MilestoneEvent,
		*github.CheckSuiteEvent:
	default:
		logger.Debug(
			"ignoring event, event type is unsupported",
			logfields.Event("github_unsupported_event_received"),
		)
		return
	}

	ev := Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		JSON:       payload,
		Event:      event,
	}

	if rg, ok := event.(repoGetter); ok {
		repo := rg.GetRepo()
		ev.Owner = repo.GetOwner().GetLogin()
		ev.Repository = repo.GetName()
		logFields = append(logFields,
			logfields.RepositoryOwner(ev.Owner),
			logfields.Repository(ev.Repository),
		)
	}

	if pr := pullRequestNumber(event); pr != 0 {
		logFields = append(logFields, logfields.PullRequest(pr))
	}

	ev.LogFields = logFields
	logger = p.logger.With(logFields...)

	select {
	case p.c <- &ev:
		logger.Debug("event forwarded to channel",
			logfields.Event("github_event_forwarded"),
		)

	default:
		logger.Warn(
			"event lost, forwarding event to channel failed",
			zap.String("error", "could not forward event to channel, send would have blocked"),
			logfields.Event("github_forwarding_event_failed"),
		)

		http.Error(resp, "queue full", http.StatusServiceUnavailable)
		return
	}
}

func pullRequestNumber(event any) int {
	switch ev := event.(type) {
	case *github.PullRequestEvent:
		return ev.GetNumber()
	case *github.IssueCommentEvent:
		if ev.GetIssue().GetPullRequestLinks() != nil {
			return ev.GetIssue().GetNumber()
		}
	}

	return 0
}
