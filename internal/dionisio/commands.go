package dionisio

import (
	"context"
	"errors"
	"fmt"
	"time"

	gh "github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/backport"
	"github.com/dionisio-bot/dionisio/internal/command"
	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/jira"
	"github.com/dionisio-bot/dionisio/internal/logfields"
	"github.com/dionisio-bot/dionisio/internal/provider/github"
)

// commandContext is the pull request and comment a command was issued in.
type commandContext struct {
	owner       string
	repo        string
	prNumber    int
	requestedBy string
	logF        []zap.Field
}

func (e *EvLoop) onIssueComment(logger *zap.Logger, ev *github.Event, payload *gh.IssueCommentEvent) {
	if payload.GetAction() != "created" {
		return
	}

	if payload.GetIssue().GetPullRequestLinks() == nil {
		logger.Debug("ignoring comment, issue is not a pull request", logfields.Event("comment_ignored_not_pr"))
		return
	}

	comment := payload.GetComment()
	if comment.GetUser().GetType() == "Bot" {
		return
	}

	cmds, parseErr := e.parser.Parse(comment.GetBody())
	if len(cmds) == 0 && parseErr == nil {
		return
	}

	cc := commandContext{
		owner:       ev.Owner,
		repo:        ev.Repository,
		prNumber:    payload.GetIssue().GetNumber(),
		requestedBy: comment.GetUser().GetLogin(),
	}
	cc.logF = append(ev.LogFields, zap.String("github.comment_author", cc.requestedBy))
	logger = logger.With(zap.String("github.comment_author", cc.requestedBy))

	if !command.IsAuthorized(comment.GetAuthorAssociation()) {
		logger.Info(
			"ignoring command, comment author is not authorized",
			logfields.Event("command_unauthorized"),
			zap.String("github.author_association", comment.GetAuthorAssociation()),
		)
		metrics.CommandExecuted("", resultSkipped)
		return
	}

	if parseErr != nil {
		logger.Info(
			"parsing command failed",
			logfields.Event("command_parsing_failed"),
			zap.Error(parseErr),
		)
		metrics.CommandExecuted("", resultFailure)

		msg := fmt.Sprintf("Sorry, I could not understand the command: %s\n\nSupported commands:\n%s", parseErr, e.parser.Usage())
		e.queue.Schedule(prKey(cc.owner, cc.repo, cc.prNumber)+":commands", func() {
			e.reply(context.Background(), &cc, msg)
		})
		return
	}

	for _, cmd := range cmds {
		e.scheduleCommand(&cc, cmd)
	}
}

// commandKey returns the queue key of cmd.
// qa commands are ordered with the QA evaluations of the pull request, other
// commands of the pull request are ordered among each other and run
// concurrently to QA evaluations.
func commandKey(cc *commandContext, cmd *command.Command) string {
	key := prKey(cc.owner, cc.repo, cc.prNumber)
	if cmd.Verb == command.VerbQA {
		return key
	}

	return key + ":commands"
}

func (e *EvLoop) scheduleCommand(cc *commandContext, cmd *command.Command) {
	e.queue.Schedule(commandKey(cc, cmd), func() {
		logger := e.logger.With(cc.logF...).With(logfields.Command(cmd.String()))
		start := time.Now()

		err := e.runCommand(context.Background(), cc, cmd)

		metrics.TaskDuration(string(cmd.Verb), time.Since(start).Seconds())

		if err != nil {
			logger.Error(
				"command failed",
				logfields.Event("command_failed"),
				zap.Error(err),
			)
			metrics.CommandExecuted(string(cmd.Verb), resultFailure)
			return
		}

		logger.Info("command executed", logfields.Event("command_executed"))
		metrics.CommandExecuted(string(cmd.Verb), resultSuccess)
	})
}

func (e *EvLoop) runCommand(ctx context.Context, cc *commandContext, cmd *command.Command) error {
	switch cmd.Verb {
	case command.VerbQA:
		_, err := e.qa.Reconcile(ctx, cc.owner, cc.repo, cc.prNumber)
		return err

	case command.VerbBackport:
		return e.runBackport(ctx, cc, cmd.Args)

	case command.VerbPatch:
		return e.runPatch(ctx, cc)

	case command.VerbRebase:
		return e.runRebase(ctx, cc)

	case command.VerbJira:
		return e.runJira(ctx, cc, cmd.Args[0])

	default:
		return fmt.Errorf("%w: %s", command.ErrUnknownVerb, cmd.Verb)
	}
}

// reply creates a comment in the pull request, failures are logged.
func (e *EvLoop) reply(ctx context.Context, cc *commandContext, msg string) {
	err := e.retryer.Run(ctx, func(ctx context.Context) error {
		return e.clt.CreateIssueComment(ctx, cc.owner, cc.repo, cc.prNumber, msg)
	}, cc.logF)
	if err != nil {
		e.logger.With(cc.logF...).Warn(
			"creating reply comment failed",
			logfields.Event("command_reply_failed"),
			zap.Error(err),
		)
	}
}

func (e *EvLoop) getPullRequest(ctx context.Context, cc *commandContext) (*githubclt.PullRequest, error) {
	var pr *githubclt.PullRequest

	err := e.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pr, err = e.clt.GetPullRequest(ctx, cc.owner, cc.repo, cc.prNumber)
		return err
	}, cc.logF)
	if err != nil {
		return nil, fmt.Errorf("retrieving pull request failed: %w", err)
	}

	return pr, nil
}

// getMergedPullRequest returns the pull request if it is merged, otherwise
// the requester is notified and nil is returned.
func (e *EvLoop) getMergedPullRequest(ctx context.Context, cc *commandContext) (*githubclt.PullRequest, error) {
	pr, err := e.getPullRequest(ctx, cc)
	if err != nil {
		return nil, err
	}

	if !pr.Merged || pr.MergeCommitSHA == "" {
		e.reply(ctx, cc, "This pull request is not merged yet, it can only be backported after it was merged")
		return nil, nil
	}

	return pr, nil
}

func sourcePR(pr *githubclt.PullRequest) backport.SourcePR {
	return backport.SourcePR{
		Number: pr.Number,
		NodeID: pr.NodeID,
		Title:  pr.Title,
		Author: pr.Author,
	}
}

func (e *EvLoop) runBackport(ctx context.Context, cc *commandContext, tags []string) error {
	pr, err := e.getMergedPullRequest(ctx, cc)
	if err != nil || pr == nil {
		return err
	}

	results := e.backporter.Backport(ctx, cc.owner, cc.repo, &backport.BatchRequest{
		SourceCommitSHA: pr.MergeCommitSHA,
		SourcePR:        sourcePR(pr),
		Tags:            tags,
		Assignee:        cc.requestedBy,
		IssueNumber:     cc.prNumber,
	})
	if len(results) == 0 {
		return nil
	}

	e.reply(ctx, cc, backport.FormatResults(results))

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}

	return errors.Join(errs...)
}

func (e *EvLoop) runPatch(ctx context.Context, cc *commandContext) error {
	pr, err := e.getMergedPullRequest(ctx, cc)
	if err != nil || pr == nil {
		return err
	}

	outcome, err := e.backporter.Patch(ctx, cc.owner, cc.repo, &backport.PatchRequest{
		SourceCommitSHA: pr.MergeCommitSHA,
		SourcePR:        sourcePR(pr),
		Assignee:        cc.requestedBy,
		IssueNumber:     cc.prNumber,
	})
	if err != nil {
		e.replyBackportError(ctx, cc, "patch", err)
		return err
	}

	if outcome.PullRequest != nil {
		e.reply(ctx, cc, fmt.Sprintf("Patch pull request for %s created: #%d", outcome.Tag, outcome.PullRequest.Number))
	}

	return nil
}

func (e *EvLoop) runRebase(ctx context.Context, cc *commandContext) error {
	pr, err := e.getPullRequest(ctx, cc)
	if err != nil {
		return err
	}

	tip, err := e.backporter.Rebase(ctx, cc.owner, cc.repo, &backport.RebaseRequest{
		BackportBranch: pr.HeadRef,
		IssueNumber:    cc.prNumber,
	})
	if err != nil {
		e.replyBackportError(ctx, cc, "rebase", err)
		return err
	}

	e.logger.With(cc.logF...).Info(
		"backport branch rebased",
		logfields.Event("backport_rebased"),
		logfields.Branch(pr.HeadRef),
		logfields.Commit(tip),
	)

	return nil
}

// replyBackportError notifies the requester about failures that were not
// already reported in a comment by the backport.Coordinator.
func (e *EvLoop) replyBackportError(ctx context.Context, cc *commandContext, action string, err error) {
	switch backport.AsError(err).Kind {
	case backport.KindConflict, backport.KindVersionInvalid:
	case backport.KindPreviousReleaseMissing:
		e.reply(ctx, cc, fmt.Sprintf("Could not %s this pull request, no release exists to base it on", action))
	default:
		e.reply(ctx, cc, fmt.Sprintf("Sorry, I could not %s this pull request, an unexpected error happened", action))
	}
}

func (e *EvLoop) runJira(ctx context.Context, cc *commandContext, board string) error {
	if e.jira == nil {
		e.reply(ctx, cc, "The Jira integration is not configured")
		return nil
	}

	pr, err := e.getPullRequest(ctx, cc)
	if err != nil {
		return err
	}

	var key string
	err = e.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		key, err = e.jira.CreateTask(ctx, &jira.TaskRequest{
			Board:       board,
			PRNumber:    pr.Number,
			PRTitle:     pr.Title,
			PRBody:      pr.Body,
			PRURL:       pr.URL,
			PRAuthor:    pr.Author,
			PRLabels:    pr.Labels,
			RequestedBy: cc.requestedBy,
		})
		return err
	}, cc.logF)
	if err != nil {
		e.reply(ctx, cc, fmt.Sprintf("Creating the Jira task in board %s failed", board))
		return fmt.Errorf("creating jira task failed: %w", err)
	}

	err = e.retryer.Run(ctx, func(ctx context.Context) error {
		return e.clt.UpdatePullRequestBody(ctx, cc.owner, cc.repo, cc.prNumber, jira.TaskBody(pr.Body, key))
	}, cc.logF)
	if err != nil {
		return fmt.Errorf("adding jira task %s to pull request description failed: %w", key, err)
	}

	e.reply(ctx, cc, fmt.Sprintf("Jira task created: %s", key))

	return nil
}
