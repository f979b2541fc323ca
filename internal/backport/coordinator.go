// Package backport creates backport and patch pull requests for release
// branches.
//
// A backport of a pull request to a release X.Y.Z consists of:
//   - a project named "Patch X.Y.Z" that tracks the release,
//   - the release branch release-X.Y.Z,
//   - the branch backport-X.Y.Z-<pr-number> containing the cherry-picked
//     merge commit of the pull request,
//   - a pull request from the backport branch into the release branch.
package backport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/cherrypick"
	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/logfields"
	"github.com/dionisio-bot/dionisio/internal/semverutil"
)

const loggerName = "backport"

const (
	DefaultWorkflowRef   = "develop"
	DefaultCommandPrefix = "/dionisio"

	backportLabel = "backport"
)

// GithubClient provides the operations of the repository host.
type GithubClient interface {
	GetBranch(ctx context.Context, owner, repo, branch string) (*githubclt.Branch, error)
	ResolveRef(ctx context.Context, owner, repo, ref string) (string, error)
	CreateRef(ctx context.Context, owner, repo, branch, sha string) error
	UpdateRef(ctx context.Context, owner, repo, branch, sha string, force bool) error
	DeleteRef(ctx context.Context, owner, repo, branch string) error

	GetPullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*githubclt.CreatedPullRequest, error)
	RequestReviewers(ctx context.Context, owner, repo string, number int, logins []string) error
	AddAssignees(ctx context.Context, owner, repo string, number int, logins []string) error
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	ListMilestones(ctx context.Context, owner, repo string) ([]*githubclt.Milestone, error)
	SetMilestone(ctx context.Context, owner, repo string, number, milestoneNumber int) error
	CreateIssueComment(ctx context.Context, owner, repo string, number int, comment string) error

	GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*githubclt.Release, error)
	LatestRelease(ctx context.Context, owner, repo string) (*githubclt.Release, error)
	DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]any) error

	FindProject(ctx context.Context, org, title string) (*githubclt.Project, error)
	CreateProject(ctx context.Context, org, title string) (*githubclt.Project, error)
	AddProjectItem(ctx context.Context, projectID, contentID string) error
}

var _ GithubClient = &githubclt.Client{}

// CherryPicker applies a commit onto a branch.
type CherryPicker interface {
	CherryPick(ctx context.Context, owner, repo, commitSHA, branch string) (string, error)
}

// Serializer runs functions with the same key sequentially.
type Serializer interface {
	Run(key string, fn func() error) error
}

// SourcePR is the pull request that is backported.
type SourcePR struct {
	Number int
	NodeID string
	Title  string
	Author string
}

// Request describes the backport of a pull request to a release.
type Request struct {
	// SourceCommitSHA is the commit that is cherry-picked, usually the
	// merge commit of SourcePR.
	SourceCommitSHA string
	SourcePR        SourcePR
	// Tag is the semantic version of the release.
	Tag string
	// BaseRef is the git ref the release branch is created from when it
	// does not exist.
	BaseRef string
	// Assignee is assigned to the created pull request, optional.
	Assignee string
	// IssueNumber is the issue or pull request where progress is
	// reported.
	IssueNumber int
	// Retrigger is the command that is shown in the conflict comment to
	// retry the backport after the conflicts were resolved, optional.
	Retrigger string
}

// Outcome is the result of a successful backport.
type Outcome struct {
	Tag            string
	ReleaseBranch  string
	BackportBranch string
	ProjectTitle   string
	// CherryPicked is false when the backport branch already existed.
	CherryPicked bool
	// PullRequest is nil when a pull request for the backport branch
	// already existed.
	PullRequest *githubclt.CreatedPullRequest
}

// Coordinator creates backports.
type Coordinator struct {
	clt        GithubClient
	picker     CherryPicker
	serializer Serializer
	logger     *zap.Logger

	releaseWorkflow string
	workflowRef     string
	commandPrefix   string
}

type Opt func(*Coordinator)

// WithReleaseWorkflow sets the workflow file that is dispatched on ref after
// a release branch was created.
func WithReleaseWorkflow(workflowFile, ref string) Opt {
	return func(c *Coordinator) {
		c.releaseWorkflow = workflowFile
		c.workflowRef = ref
	}
}

// WithCommandPrefix sets the prefix of the commands that are shown in
// comments.
func WithCommandPrefix(prefix string) Opt {
	return func(c *Coordinator) {
		c.commandPrefix = prefix
	}
}

func NewCoordinator(clt GithubClient, picker CherryPicker, serializer Serializer, opts ...Opt) *Coordinator {
	c := Coordinator{
		clt:           clt,
		picker:        picker,
		serializer:    serializer,
		logger:        zap.L().Named(loggerName),
		workflowRef:   DefaultWorkflowRef,
		commandPrefix: DefaultCommandPrefix,
	}

	for _, o := range opts {
		o(&c)
	}

	return &c
}

func ReleaseBranch(tag string) string {
	return "release-" + tag
}

func BackportBranch(tag string, prNumber int) string {
	return fmt.Sprintf("backport-%s-%d", tag, prNumber)
}

func projectTitle(tag string) string {
	return "Patch " + tag
}

// serializerKey returns the key under that modifications of a branch are
// serialized.
func serializerKey(owner, repo, branch string) string {
	return fmt.Sprintf("%s/%s:%s", owner, repo, branch)
}

// Run backports a pull request to the release req.Tag.
// If the backport branch already exists, the cherry-pick is skipped and only
// the pull request is opened.
// All returned errors are of type *Error.
func (c *Coordinator) Run(ctx context.Context, owner, repo string, req *Request) (*Outcome, error) {
	logger := c.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Release(req.Tag),
		logfields.PullRequest(req.SourcePR.Number),
		logfields.Commit(req.SourceCommitSHA),
	)

	if _, err := semverutil.ParseTag(req.Tag); err != nil {
		return nil, &Error{Kind: KindVersionInvalid, Tag: req.Tag, Err: err}
	}

	outcome := Outcome{
		Tag:            req.Tag,
		ReleaseBranch:  ReleaseBranch(req.Tag),
		BackportBranch: BackportBranch(req.Tag, req.SourcePR.Number),
	}

	project, err := c.resolveProject(ctx, logger, owner, req.Tag)
	if err != nil {
		return nil, hostFailure(req.Tag, err)
	}
	outcome.ProjectTitle = project.Title

	releaseTip, err := c.resolveReleaseBranch(ctx, logger, owner, repo, outcome.ReleaseBranch, req.BaseRef)
	if err != nil {
		return nil, hostFailure(req.Tag, err)
	}

	err = c.serializer.Run(serializerKey(owner, repo, outcome.BackportBranch), func() error {
		err := c.clt.CreateRef(ctx, owner, repo, outcome.BackportBranch, releaseTip)
		if err != nil {
			if errors.Is(err, githubclt.ErrAlreadyExists) {
				logger.Info(
					"backport branch exists, skipping cherry-pick",
					logfields.Event("backport_branch_exists"),
					logfields.Branch(outcome.BackportBranch),
				)
				return nil
			}

			return fmt.Errorf("creating backport branch failed: %w", err)
		}

		if _, err := c.picker.CherryPick(ctx, owner, repo, req.SourceCommitSHA, outcome.BackportBranch); err != nil {
			// only a conflicting backport branch is kept, it is
			// resolved manually
			var conflictErr *cherrypick.ConflictError
			if !errors.As(err, &conflictErr) {
				return errors.Join(err, c.deleteBranch(ctx, logger, owner, repo, outcome.BackportBranch))
			}

			return err
		}

		outcome.CherryPicked = true

		return nil
	})
	if err != nil {
		var conflictErr *cherrypick.ConflictError
		if errors.As(err, &conflictErr) {
			conflictErr.Base = outcome.ReleaseBranch
			logger.Info(
				"backport has conflicts",
				logfields.Event("backport_conflict"),
				logfields.Branch(outcome.BackportBranch),
			)

			c.comment(ctx, logger, owner, repo, req.IssueNumber,
				conflictComment(conflictErr, "cherry-pick this pull request", req.Retrigger),
			)

			return nil, &Error{Kind: KindConflict, Tag: req.Tag, Conflict: conflictErr}
		}

		return nil, hostFailure(req.Tag, err)
	}

	pr, err := c.openPullRequest(ctx, logger, owner, repo, req, &outcome)
	if err != nil {
		return nil, hostFailure(req.Tag, err)
	}
	outcome.PullRequest = pr

	if err := c.clt.AddProjectItem(ctx, project.ID, req.SourcePR.NodeID); err != nil {
		return nil, hostFailure(req.Tag, fmt.Errorf("adding pull request to project failed: %w", err))
	}

	if pr != nil {
		if err := c.clt.AddProjectItem(ctx, project.ID, pr.NodeID); err != nil {
			return nil, hostFailure(req.Tag, fmt.Errorf("adding backport pull request to project failed: %w", err))
		}
	}

	c.comment(ctx, logger, owner, repo, req.IssueNumber, fmt.Sprintf("Pull request added to Project: %q", project.Title))

	logger.Info(
		"backport created",
		logfields.Event("backport_created"),
		logfields.Branch(outcome.BackportBranch),
		zap.Bool("backport.cherry_picked", outcome.CherryPicked),
	)

	return &outcome, nil
}

func (c *Coordinator) resolveProject(ctx context.Context, logger *zap.Logger, org, tag string) (*githubclt.Project, error) {
	title := projectTitle(tag)

	project, err := c.clt.FindProject(ctx, org, title)
	if err == nil {
		return project, nil
	}

	if !errors.Is(err, githubclt.ErrNotFound) {
		return nil, fmt.Errorf("looking up project %q failed: %w", title, err)
	}

	project, err = c.clt.CreateProject(ctx, org, title)
	if err != nil {
		return nil, fmt.Errorf("creating project %q failed: %w", title, err)
	}

	logger.Info("project created", logfields.Event("backport_project_created"), zap.String("github.project", title))

	return project, nil
}

// resolveReleaseBranch returns the tip of branch.
// If the branch does not exist, it is created from baseRef and the release
// workflow is triggered.
func (c *Coordinator) resolveReleaseBranch(ctx context.Context, logger *zap.Logger, owner, repo, branch, baseRef string) (string, error) {
	b, err := c.clt.GetBranch(ctx, owner, repo, branch)
	if err == nil {
		return b.CommitSHA, nil
	}

	if !errors.Is(err, githubclt.ErrNotFound) {
		return "", fmt.Errorf("retrieving release branch failed: %w", err)
	}

	if baseRef == "" {
		return "", fmt.Errorf("release branch %s does not exist and no base ref to create it from was specified", branch)
	}

	sha, err := c.clt.ResolveRef(ctx, owner, repo, baseRef)
	if err != nil {
		return "", fmt.Errorf("resolving base ref %q failed: %w", baseRef, err)
	}

	if err := c.clt.CreateRef(ctx, owner, repo, branch, sha); err != nil {
		if !errors.Is(err, githubclt.ErrAlreadyExists) {
			return "", fmt.Errorf("creating release branch failed: %w", err)
		}

		// created concurrently
		b, err := c.clt.GetBranch(ctx, owner, repo, branch)
		if err != nil {
			return "", fmt.Errorf("retrieving release branch failed: %w", err)
		}

		return b.CommitSHA, nil
	}

	logger.Info(
		"release branch created",
		logfields.Event("backport_release_branch_created"),
		logfields.Branch(branch),
		zap.String("git.base_ref", baseRef),
	)

	if c.releaseWorkflow != "" {
		err := c.clt.DispatchWorkflow(ctx, owner, repo, c.releaseWorkflow, c.workflowRef, map[string]any{
			"name":     "patch",
			"base-ref": baseRef,
		})
		advisory(logger, "backport_workflow_dispatch_failed", "triggering release workflow failed", err)
	}

	return sha, nil
}

func (c *Coordinator) openPullRequest(ctx context.Context, logger *zap.Logger, owner, repo string, req *Request, outcome *Outcome) (*githubclt.CreatedPullRequest, error) {
	body := fmt.Sprintf("Backport of #%d", req.SourcePR.Number)
	if req.SourcePR.Author != "" {
		body += "\n\n@" + req.SourcePR.Author
	}

	pr, err := c.clt.CreatePullRequest(ctx, owner, repo, outcome.BackportBranch, outcome.ReleaseBranch, req.SourcePR.Title, body)
	if err != nil {
		if errors.Is(err, githubclt.ErrAlreadyExists) {
			logger.Info(
				"backport pull request exists",
				logfields.Event("backport_pr_exists"),
				logfields.Branch(outcome.BackportBranch),
			)
			return nil, nil
		}

		return nil, fmt.Errorf("creating pull request failed: %w", err)
	}

	logger = logger.With(zap.Int("github.backport_pull_request", pr.Number))

	if req.SourcePR.Author != "" {
		err = c.clt.RequestReviewers(ctx, owner, repo, pr.Number, []string{req.SourcePR.Author})
		advisory(logger, "backport_request_reviewer_failed", "requesting review failed", err)
	}

	c.setMilestone(ctx, logger, owner, repo, pr.Number, req.Tag)

	if req.Assignee != "" {
		err = c.clt.AddAssignees(ctx, owner, repo, pr.Number, []string{req.Assignee})
		advisory(logger, "backport_assign_failed", "assigning pull request failed", err)
	}

	err = c.clt.AddLabels(ctx, owner, repo, pr.Number, []string{backportLabel})
	advisory(logger, "backport_label_failed", "labeling pull request failed", err)

	return pr, nil
}

// setMilestone assigns the first milestone that has the same major and minor
// version as tag.
// deleteBranch deletes branch, a branch that does not exist is not an error.
func (c *Coordinator) deleteBranch(ctx context.Context, logger *zap.Logger, owner, repo, branch string) error {
	err := c.clt.DeleteRef(ctx, owner, repo, branch)
	if err != nil {
		if errors.Is(err, githubclt.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deleting branch %s failed: %w", branch, err)
	}

	logger.Info(
		"deleted backport branch after failed cherry-pick",
		logfields.Event("backport_branch_deleted"),
		logfields.Branch(branch),
	)

	return nil
}

func (c *Coordinator) setMilestone(ctx context.Context, logger *zap.Logger, owner, repo string, prNumber int, tag string) {
	milestones, err := c.clt.ListMilestones(ctx, owner, repo)
	if !advisory(logger, "backport_milestone_failed", "listing milestones failed", err) {
		return
	}

	for _, m := range milestones {
		version, ok := semverutil.FindVersion(m.Title)
		if !ok {
			continue
		}

		same, err := semverutil.SameMinor(version, tag)
		if err != nil || !same {
			continue
		}

		err = c.clt.SetMilestone(ctx, owner, repo, prNumber, m.Number)
		if advisory(logger, "backport_milestone_failed", "setting milestone failed", err) {
			logger.Debug("milestone set", logfields.Event("backport_milestone_set"), logfields.Milestone(m.Title))
		}

		return
	}

	logger.Debug("no matching milestone found", logfields.Event("backport_milestone_not_found"))
}

// comment posts a comment, failures are logged.
func (c *Coordinator) comment(ctx context.Context, logger *zap.Logger, owner, repo string, issueNumber int, body string) {
	if issueNumber == 0 {
		return
	}

	err := c.clt.CreateIssueComment(ctx, owner, repo, issueNumber, body)
	advisory(logger, "backport_comment_failed", "creating comment failed", err)
}

// advisory logs err if it is not nil and returns true if err is nil.
func advisory(logger *zap.Logger, event, msg string, err error) bool {
	if err == nil {
		return true
	}

	logger.Warn(msg, logfields.Event(event), zap.Error(err))

	return false
}
