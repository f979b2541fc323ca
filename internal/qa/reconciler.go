package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const loggerName = "qa"

// GithubClient provides the pull request operations of the repository host.
type GithubClient interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	PullRequestHasProjects(ctx context.Context, prURL string) (bool, error)
	ReplaceLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*githubclt.Comment, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, comment string) error
	UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, comment string) error
	CreateCheckRun(ctx context.Context, owner, repo string, run *githubclt.CheckRun) error
	EnqueuePullRequest(ctx context.Context, prNodeID string) error
	EnableAutoMerge(ctx context.Context, prNodeID string, method githubv4.PullRequestMergeMethod) error
}

var _ GithubClient = &githubclt.Client{}

// Retryer runs fn until it succeeds or fails with an error that is not
// retryable.
type Retryer interface {
	Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error
}

// Reconciler evaluates pull requests and applies the verdict to their
// labels, status comment and check runs.
type Reconciler struct {
	clt      GithubClient
	retryer  Retryer
	manifest *ManifestParser
	logger   *zap.Logger

	guidelinesURL    string
	checkRunsEnabled bool
	autoMergeMethod  githubv4.PullRequestMergeMethod
}

type ReconcilerOpt func(*Reconciler)

// WithGuidelinesURL sets the URL that is linked in status comments.
func WithGuidelinesURL(url string) ReconcilerOpt {
	return func(r *Reconciler) {
		r.guidelinesURL = url
	}
}

// WithCheckRuns enables reporting the verdict as check run for the head
// commit.
func WithCheckRuns() ReconcilerOpt {
	return func(r *Reconciler) {
		r.checkRunsEnabled = true
	}
}

// WithAutoMerge enables adding pull requests that are ready to the merge
// queue. If the repository has no merge queue, auto-merge is enabled with
// method instead.
func WithAutoMerge(method githubv4.PullRequestMergeMethod) ReconcilerOpt {
	return func(r *Reconciler) {
		r.autoMergeMethod = method
	}
}

// WithManifestParser sets the parser for the manifest that declares the
// version of a branch. The default reads .version from package.json.
func WithManifestParser(p *ManifestParser) ReconcilerOpt {
	return func(r *Reconciler) {
		r.manifest = p
	}
}

func NewReconciler(clt GithubClient, retryer Retryer, opts ...ReconcilerOpt) *Reconciler {
	r := Reconciler{
		clt:     clt,
		retryer: retryer,
		logger:  zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&r)
	}

	if r.manifest == nil {
		p, err := NewManifestParser(DefaultManifestPath, DefaultVersionQuery)
		if err != nil {
			panic(fmt.Sprintf("parsing default version query failed: %s", err))
		}
		r.manifest = p
	}

	return &r
}

// Reconcile evaluates the pull request and applies the verdict.
// Pull requests that are not open are ignored, nil is returned for them.
func (r *Reconciler) Reconcile(ctx context.Context, owner, repo string, prNumber int) (*Verdict, error) {
	logF := []zap.Field{
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(prNumber),
	}
	logger := r.logger.With(logF...)

	var ghPR *githubclt.PullRequest
	err := r.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		ghPR, err = r.clt.GetPullRequest(ctx, owner, repo, prNumber)
		return err
	}, logF)
	if err != nil {
		return nil, fmt.Errorf("retrieving pull request failed: %w", err)
	}

	if ghPR.State != "open" {
		logger.Debug(
			"skipping evaluation, pull request is not open",
			logfields.Event("qa_skipped_pr_not_open"),
			zap.String("github.pull_request_state", ghPR.State),
		)
		return nil, nil
	}

	pr := toPullRequest(ghPR)

	meta, err := r.repoMeta(ctx, owner, repo, pr, logF)
	if err != nil {
		return nil, err
	}

	verdict, err := Evaluate(pr, meta)
	if err != nil {
		return nil, fmt.Errorf("evaluating pull request failed: %w", err)
	}

	logger = logger.With(zap.Bool("qa.ready_to_merge", verdict.ReadyToMerge))

	if verdict.LabelsChanged() {
		err := r.retryer.Run(ctx, func(ctx context.Context) error {
			return r.clt.ReplaceLabels(ctx, owner, repo, prNumber, verdict.NewLabels)
		}, logF)
		if err != nil {
			return nil, fmt.Errorf("setting labels failed: %w", err)
		}

		logger.Info(
			"labels updated",
			logfields.Event("qa_labels_updated"),
			zap.Strings("github.labels_old", verdict.OriginalLabels),
			zap.Strings("github.labels_new", verdict.NewLabels),
		)
	}

	if err := r.syncComment(ctx, owner, repo, prNumber, verdict, logF); err != nil {
		return nil, err
	}

	if r.checkRunsEnabled {
		conclusion, title, summary := verdict.CheckRunOutput()
		err := r.clt.CreateCheckRun(ctx, owner, repo, &githubclt.CheckRun{
			Name:       CheckRunName,
			HeadSHA:    pr.HeadSHA,
			Conclusion: conclusion,
			Title:      title,
			Summary:    summary,
		})
		r.advisory(logger, "qa_check_run_creation_failed", "creating check run failed", err)
	}

	if verdict.ReadyToMerge && r.autoMergeMethod != "" {
		r.scheduleMerge(ctx, logger, pr)
	}

	logger.Debug("pull request evaluated", logfields.Event("qa_evaluated"))

	return verdict, nil
}

func toPullRequest(pr *githubclt.PullRequest) *PullRequest {
	return &PullRequest{
		Number:         pr.Number,
		URL:            pr.URL,
		Title:          pr.Title,
		NodeID:         pr.NodeID,
		HeadRef:        pr.HeadRef,
		HeadSHA:        pr.HeadSHA,
		BaseRef:        pr.BaseRef,
		Mergeable:      MergeableFromPtr(pr.Mergeable),
		MergeableState: pr.MergeableState,
		Labels:         pr.Labels,
		Milestone:      pr.Milestone,
	}
}

func (r *Reconciler) repoMeta(ctx context.Context, owner, repo string, pr *PullRequest, logF []zap.Field) (*RepoMeta, error) {
	var meta RepoMeta

	var manifest []byte
	err := r.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		manifest, err = r.clt.ReadFile(ctx, owner, repo, r.manifest.Path(), pr.BaseRef)
		return err
	}, logF)
	switch {
	case errors.Is(err, githubclt.ErrNotFound):
		r.logger.Info(
			"manifest not found in base branch, version check is skipped",
			append(logF,
				logfields.Event("qa_manifest_not_found"),
				logfields.BaseBranch(pr.BaseRef),
				zap.String("manifest_path", r.manifest.Path()),
			)...,
		)

	case err != nil:
		return nil, fmt.Errorf("reading manifest failed: %w", err)

	default:
		meta.ManifestVersion, err = r.manifest.Version(ctx, manifest)
		if err != nil {
			return nil, fmt.Errorf("reading version from manifest failed: %w", err)
		}
	}

	// the tracking project is only an alternative to the milestone
	if pr.Milestone == "" {
		err := r.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			meta.HasTrackingProject, err = r.clt.PullRequestHasProjects(ctx, pr.URL)
			return err
		}, logF)
		if err != nil {
			return nil, fmt.Errorf("querying projects of pull request failed: %w", err)
		}
	}

	return &meta, nil
}

func (r *Reconciler) syncComment(ctx context.Context, owner, repo string, prNumber int, verdict *Verdict, logF []zap.Field) error {
	var comments []*githubclt.Comment
	err := r.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		comments, err = r.clt.ListIssueComments(ctx, owner, repo, prNumber)
		return err
	}, logF)
	if err != nil {
		return fmt.Errorf("listing comments failed: %w", err)
	}

	var last *githubclt.Comment
	for _, c := range comments {
		if strings.HasPrefix(c.Body, CommentMarker) {
			last = c
		}
	}

	body := verdict.Comment(r.guidelinesURL)

	switch {
	case last != nil && last.Body == body:
		return nil

	case last != nil:
		err = r.retryer.Run(ctx, func(ctx context.Context) error {
			return r.clt.UpdateIssueComment(ctx, owner, repo, last.ID, body)
		}, logF)
		if err != nil {
			return fmt.Errorf("updating status comment failed: %w", err)
		}

		r.logger.Info("status comment updated", append(logF, logfields.Event("qa_comment_updated"))...)

	case !verdict.ReadyToMerge:
		err = r.retryer.Run(ctx, func(ctx context.Context) error {
			return r.clt.CreateIssueComment(ctx, owner, repo, prNumber, body)
		}, logF)
		if err != nil {
			return fmt.Errorf("creating status comment failed: %w", err)
		}

		r.logger.Info("status comment created", append(logF, logfields.Event("qa_comment_created"))...)
	}

	return nil
}

func (r *Reconciler) scheduleMerge(ctx context.Context, logger *zap.Logger, pr *PullRequest) {
	err := r.clt.EnqueuePullRequest(ctx, pr.NodeID)
	if err == nil {
		logger.Info("pull request added to merge queue", logfields.Event("qa_pr_enqueued"))
		return
	}

	logger.Debug(
		"adding pull request to merge queue failed, enabling auto-merge",
		logfields.Event("qa_pr_enqueue_failed"),
		zap.Error(err),
	)

	err = r.clt.EnableAutoMerge(ctx, pr.NodeID, r.autoMergeMethod)
	if r.advisory(logger, "qa_auto_merge_failed", "enabling auto-merge failed", err) {
		logger.Info("auto-merge enabled", logfields.Event("qa_auto_merge_enabled"))
	}
}

// advisory logs err if it is not nil and returns true if err is nil.
func (r *Reconciler) advisory(logger *zap.Logger, event, msg string, err error) bool {
	if err == nil {
		return true
	}

	logger.Warn(msg, logfields.Event(event), zap.Error(err))

	return false
}
