// Package dionisio routes github webhook events to the QA, backport and
// Jira components.
package dionisio

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/backport"
	"github.com/dionisio-bot/dionisio/internal/command"
	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/jira"
	"github.com/dionisio-bot/dionisio/internal/keyqueue"
	"github.com/dionisio-bot/dionisio/internal/logfields"
	"github.com/dionisio-bot/dionisio/internal/provider/github"
	"github.com/dionisio-bot/dionisio/internal/qa"
)

const DefEventChannelBufferSize = 512

const loggerName = "event-loop"

// GithubClient is the subset of githubclt.Client the event loop uses.
type GithubClient interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, comment string) error
	UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error
	ListPullRequestsWithMilestone(ctx context.Context, owner, repo string, milestoneNumber int) ([]int, error)
	PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]int, error)
}

var _ GithubClient = &githubclt.Client{}

// QAReconciler evaluates a pull request and applies the verdict.
type QAReconciler interface {
	Reconcile(ctx context.Context, owner, repo string, prNumber int) (*qa.Verdict, error)
}

var _ QAReconciler = &qa.Reconciler{}

// Backporter runs the backport flows.
type Backporter interface {
	Backport(ctx context.Context, owner, repo string, req *backport.BatchRequest) []*backport.Result
	Patch(ctx context.Context, owner, repo string, req *backport.PatchRequest) (*backport.Outcome, error)
	Rebase(ctx context.Context, owner, repo string, req *backport.RebaseRequest) (string, error)
}

var _ Backporter = &backport.Coordinator{}

// TaskCreator creates Jira tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, req *jira.TaskRequest) (string, error)
}

var _ TaskCreator = &jira.Client{}

// EvLoop receives github events and runs the resulting tasks.
// Tasks for the same pull request are run sequentially in the order the
// events were received, tasks for different pull requests run concurrently.
type EvLoop struct {
	ch       chan *github.Event
	loopDone chan struct{}
	logger   *zap.Logger

	clt        GithubClient
	qa         QAReconciler
	backporter Backporter
	jira       TaskCreator
	parser     *command.Parser
	filter     *EventFilter

	queue   *keyqueue.Queue
	retryer *Retryer
}

type Opt func(*EvLoop)

// WithEventFilter sets a filter, events that do not match it are ignored.
func WithEventFilter(f *EventFilter) Opt {
	return func(e *EvLoop) {
		e.filter = f
	}
}

// WithJira enables the jira command.
func WithJira(clt TaskCreator) Opt {
	return func(e *EvLoop) {
		e.jira = clt
	}
}

// WithCommandPrefix sets the prefix of comment commands.
func WithCommandPrefix(prefix string) Opt {
	return func(e *EvLoop) {
		e.parser = command.NewParser(prefix)
	}
}

// WithQueue sets the queue that serializes tasks.
// It must be the same queue that is used by the backport.Coordinator to
// share the status page view.
func WithQueue(q *keyqueue.Queue) Opt {
	return func(e *EvLoop) {
		e.queue = q
	}
}

// WithRetryer sets the retryer that is used for github and jira requests.
func WithRetryer(r *Retryer) Opt {
	return func(e *EvLoop) {
		e.retryer = r
	}
}

func NewEventLoop(clt GithubClient, qaReconciler QAReconciler, backporter Backporter, opts ...Opt) *EvLoop {
	evl := EvLoop{
		ch:         make(chan *github.Event, DefEventChannelBufferSize),
		loopDone:   make(chan struct{}),
		logger:     zap.L().Named(loggerName),
		clt:        clt,
		qa:         qaReconciler,
		backporter: backporter,
		parser:     command.NewParser(command.DefaultPrefix),
	}

	for _, opt := range opts {
		opt(&evl)
	}

	if evl.queue == nil {
		evl.queue = keyqueue.New()
	}

	if evl.retryer == nil {
		evl.retryer = NewRetryer()
	}

	return &evl
}

// C returns the event channel.
// Events sent to this channel will be processed.
// The channel is closed when Stop() is called.
func (e *EvLoop) C() chan<- *github.Event {
	return e.ch
}

// Queue returns the queue in which tasks are scheduled.
func (e *EvLoop) Queue() *keyqueue.Queue {
	return e.queue
}

// Start processes events until the event channel is closed.
func (e *EvLoop) Start() {
	defer close(e.loopDone)

	ctx := context.Background()
	e.logger.Info("ready to process events", logfields.Event("eventloop_started"))

	for ev := range e.ch {
		e.handleEvent(ctx, ev)
	}

	e.logger.Info(
		"event loop terminated, event channel was closed",
		logfields.Event("eventloop_terminated"),
	)
}

// Stop closes the event channel and waits until all received events were
// processed. Pending retries are aborted.
// Start() must have been called before.
func (e *EvLoop) Stop() {
	e.logger.Debug("event loop terminating", logfields.Event("eventloop_terminating"))
	close(e.ch)
	<-e.loopDone

	e.retryer.Stop()

	e.logger.Debug(
		"waiting for scheduled tasks to terminate",
		logfields.Event("eventloop_terminating"),
	)
	e.queue.Wait()

	e.logger.Info("event loop terminated", logfields.Event("eventloop_terminated"))
}

func prKey(owner, repo string, prNumber int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, prNumber)
}

func (e *EvLoop) handleEvent(ctx context.Context, ev *github.Event) {
	logger := e.logger.With(ev.LogFields...)

	logger.Debug("event received", logfields.Event("event_received"))

	if e.filter != nil {
		match, err := e.filter.Match(ctx, ev.JSON)
		if err != nil {
			logger.Error(
				"evaluating event filter failed, event ignored",
				logfields.Event("event_filter_failed"),
				zap.String("event_filter", e.filter.String()),
				zap.Error(err),
			)
			metrics.EventProcessed(ev.Type, resultFailure)
			return
		}

		if !match {
			logger.Debug("event does not match filter, ignored", logfields.Event("event_filtered"))
			metrics.EventProcessed(ev.Type, resultFiltered)
			return
		}
	}

	switch payload := ev.Event.(type) {
	case *gh.PullRequestEvent:
		e.onPullRequest(logger, ev, payload)
	case *gh.IssueCommentEvent:
		e.onIssueComment(logger, ev, payload)
	case *gh.MilestoneEvent:
		e.onMilestone(logger, ev, payload)
	case *gh.CheckSuiteEvent:
		e.onCheckSuite(logger, ev, payload)
	default:
		logger.Debug(
			"ignoring event, event type is unsupported",
			logfields.Event("event_unsupported"),
		)
		metrics.EventProcessed(ev.Type, resultSkipped)
		return
	}

	metrics.EventProcessed(ev.Type, resultSuccess)
}

func (e *EvLoop) onPullRequest(logger *zap.Logger, ev *github.Event, payload *gh.PullRequestEvent) {
	switch payload.GetAction() {
	case "opened", "reopened", "synchronize", "labeled", "unlabeled",
		"edited", "milestoned", "demilestoned":
		e.scheduleQA(ev.Owner, ev.Repository, payload.GetNumber())

	default:
		logger.Debug(
			"ignoring pull request event, action is irrelevant",
			logfields.Event("event_action_ignored"),
			zap.String("github.action", payload.GetAction()),
		)
	}
}

func (e *EvLoop) onMilestone(logger *zap.Logger, ev *github.Event, payload *gh.MilestoneEvent) {
	switch payload.GetAction() {
	case "edited", "deleted":
	default:
		logger.Debug(
			"ignoring milestone event, action is irrelevant",
			logfields.Event("event_action_ignored"),
			zap.String("github.action", payload.GetAction()),
		)
		return
	}

	milestone := payload.GetMilestone()
	logF := append(ev.LogFields, logfields.Milestone(milestone.GetTitle()))

	e.scheduleForPullRequests(
		fmt.Sprintf("%s/%s:milestone-%d", ev.Owner, ev.Repository, milestone.GetNumber()),
		ev.Owner, ev.Repository,
		func(ctx context.Context) ([]int, error) {
			return e.clt.ListPullRequestsWithMilestone(ctx, ev.Owner, ev.Repository, milestone.GetNumber())
		},
		logF,
	)
}

func (e *EvLoop) onCheckSuite(logger *zap.Logger, ev *github.Event, payload *gh.CheckSuiteEvent) {
	switch payload.GetAction() {
	case "requested", "rerequested":
	default:
		logger.Debug(
			"ignoring check suite event, action is irrelevant",
			logfields.Event("event_action_ignored"),
			zap.String("github.action", payload.GetAction()),
		)
		return
	}

	suite := payload.GetCheckSuite()
	if len(suite.PullRequests) > 0 {
		for _, pr := range suite.PullRequests {
			e.scheduleQA(ev.Owner, ev.Repository, pr.GetNumber())
		}
		return
	}

	e.scheduleForPullRequests(
		fmt.Sprintf("%s/%s@%s", ev.Owner, ev.Repository, suite.GetHeadSHA()),
		ev.Owner, ev.Repository,
		func(ctx context.Context) ([]int, error) {
			return e.clt.PullRequestsForCommit(ctx, ev.Owner, ev.Repository, suite.GetHeadSHA())
		},
		append(ev.LogFields, logfields.Commit(suite.GetHeadSHA())),
	)
}

// scheduleForPullRequests schedules a task that retrieves pull request
// numbers via listFn and schedules a QA evaluation for each of them.
func (e *EvLoop) scheduleForPullRequests(
	key, owner, repo string,
	listFn func(context.Context) ([]int, error),
	logF []zap.Field,
) {
	logger := e.logger.With(logF...)

	e.queue.Schedule(key, func() {
		var prs []int

		err := e.retryer.Run(context.Background(), func(ctx context.Context) error {
			var err error
			prs, err = listFn(ctx)
			return err
		}, logF)
		if err != nil {
			logger.Error(
				"retrieving pull requests failed",
				logfields.Event("pull_request_listing_failed"),
				zap.Error(err),
			)
			return
		}

		logger.Debug(
			"scheduling qa evaluation for pull requests",
			logfields.Event("qa_evaluations_scheduling"),
			zap.Ints("github.pull_requests", prs),
		)

		for _, pr := range prs {
			e.scheduleQA(owner, repo, pr)
		}
	})
}

func (e *EvLoop) scheduleQA(owner, repo string, prNumber int) {
	key := prKey(owner, repo, prNumber)

	e.queue.Schedule(key, func() {
		e.runQA(context.Background(), owner, repo, prNumber)
	})
}

func (e *EvLoop) runQA(ctx context.Context, owner, repo string, prNumber int) {
	logger := e.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
	)

	start := time.Now()
	verdict, err := e.qa.Reconcile(ctx, owner, repo, prNumber)
	metrics.TaskDuration(string(command.VerbQA), time.Since(start).Seconds())
	if err != nil {
		logger.Error(
			"qa evaluation failed",
			logfields.Event("qa_evaluation_failed"),
			zap.Error(err),
		)
		metrics.QAEvaluated(resultFailure)
		return
	}

	switch {
	case verdict == nil:
		metrics.QAEvaluated(resultSkipped)
	case verdict.ReadyToMerge:
		metrics.QAEvaluated(resultReady)
	default:
		metrics.QAEvaluated(resultNotReady)
	}
}
