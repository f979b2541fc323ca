// Package cherrypick applies single commits onto branches via the GitHub git
// data API.
//
// GitHub has no cherry-pick endpoint. The change is replayed by temporarily
// rewinding the target branch to a commit that has the target tree and the
// parent of the source commit, letting the server-side merge compute the
// three-way merge, and then committing the merged tree on top of the original
// branch tip.
package cherrypick

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/gitclient.go . GitClient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const loggerName = "cherrypick"

// ErrUnsupportedCommitShape is returned when the source commit does not have
// exactly one parent.
var ErrUnsupportedCommitShape = errors.New("commit must have exactly one parent")

// GitClient provides the git ref and commit operations of the repository host.
type GitClient interface {
	GetBranch(ctx context.Context, owner, repo, branch string) (*githubclt.Branch, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (*githubclt.Commit, error)
	CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error)
	UpdateRef(ctx context.Context, owner, repo, branch, sha string, force bool) error
	// Merge merges head into base and returns the tree sha of the merge
	// commit. On conflicts it returns an error wrapping
	// githubclt.ErrMergeConflict.
	Merge(ctx context.Context, owner, repo, base, head, message string) (string, error)
}

var _ GitClient = &githubclt.Client{}

// ConflictError is returned when a commit can not be applied without
// conflicts.
type ConflictError struct {
	Commits []string
	// Head is the branch the commits were applied to.
	Head string
	// Base is the branch that Head is going to be merged into, it is empty
	// if unknown.
	Base string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("applying %s to %s failed: merge conflict", strings.Join(e.Commits, ", "), e.Head)
}

// Orchestrator cherry-picks commits.
// Callers must ensure that no other writer modifies a branch while a
// cherry-pick onto it is in progress.
type Orchestrator struct {
	clt    GitClient
	logger *zap.Logger
}

func NewOrchestrator(clt GitClient) *Orchestrator {
	return &Orchestrator{
		clt:    clt,
		logger: zap.L().Named(loggerName),
	}
}

// CherryPick applies the change of commitSHA onto branch and returns the sha
// of the created commit.
// The parent of the created commit is the tip of branch before the
// operation.
//
// When the change conflicts with the branch, a *ConflictError is returned.
// When an error happens after the branch was modified, the branch is reset
// to its original tip before the error is returned.
func (o *Orchestrator) CherryPick(ctx context.Context, owner, repo, commitSHA, branch string) (string, error) {
	logger := o.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Commit(commitSHA),
		logfields.Branch(branch),
	)

	tip, err := o.clt.GetBranch(ctx, owner, repo, branch)
	if err != nil {
		return "", fmt.Errorf("retrieving tip of branch %s failed: %w", branch, err)
	}

	commit, err := o.clt.GetCommit(ctx, owner, repo, commitSHA)
	if err != nil {
		return "", fmt.Errorf("retrieving commit %s failed: %w", commitSHA, err)
	}

	if len(commit.Parents) != 1 {
		return "", fmt.Errorf("commit %s has %d parents: %w", commitSHA, len(commit.Parents), ErrUnsupportedCommitShape)
	}

	tempSHA, err := o.clt.CreateCommit(ctx, owner, repo, "temp", tip.TreeSHA, []string{commit.Parents[0]})
	if err != nil {
		return "", fmt.Errorf("creating temporary commit failed: %w", err)
	}

	logger = logger.With(zap.String("git.original_tip", tip.CommitSHA))

	logger.Debug(
		"created temporary commit",
		logfields.Event("cherry_pick_temp_commit_created"),
		zap.String("git.temp_commit", tempSHA),
	)

	// from here on, every failure must reset the branch to tip.CommitSHA
	if err := o.clt.UpdateRef(ctx, owner, repo, branch, tempSHA, true); err != nil {
		return "", o.restoreTip(ctx, logger, owner, repo, branch, tip.CommitSHA,
			fmt.Errorf("moving branch to temporary commit failed: %w", err),
		)
	}

	treeSHA, err := o.clt.Merge(ctx, owner, repo, branch, commitSHA, fmt.Sprintf("Merge %s into %s", commitSHA, tempSHA))
	if err != nil {
		if errors.Is(err, githubclt.ErrMergeConflict) {
			logger.Info("cherry-pick has conflicts", logfields.Event("cherry_pick_conflict"))

			return "", o.restoreTip(ctx, logger, owner, repo, branch, tip.CommitSHA, &ConflictError{
				Commits: []string{commitSHA},
				Head:    branch,
			})
		}

		return "", o.restoreTip(ctx, logger, owner, repo, branch, tip.CommitSHA,
			fmt.Errorf("merging %s failed: %w", commitSHA, err),
		)
	}

	msg := fmt.Sprintf("%s\n\n(cherry picked from commit %s)", strings.TrimRight(commit.Message, "\n"), commitSHA)
	finalSHA, err := o.clt.CreateCommit(ctx, owner, repo, msg, treeSHA, []string{tip.CommitSHA})
	if err != nil {
		return "", o.restoreTip(ctx, logger, owner, repo, branch, tip.CommitSHA,
			fmt.Errorf("creating cherry-pick commit failed: %w", err),
		)
	}

	if err := o.clt.UpdateRef(ctx, owner, repo, branch, finalSHA, true); err != nil {
		return "", o.restoreTip(ctx, logger, owner, repo, branch, tip.CommitSHA,
			fmt.Errorf("moving branch to cherry-pick commit failed: %w", err),
		)
	}

	logger.Info(
		"commit cherry-picked",
		logfields.Event("cherry_pick_succeeded"),
		zap.String("git.cherry_pick_commit", finalSHA),
	)

	return finalSHA, nil
}

// restoreTip force-resets branch to sha and returns cause.
// If resetting fails, the returned error wraps cause and the reset error.
func (o *Orchestrator) restoreTip(ctx context.Context, logger *zap.Logger, owner, repo, branch, sha string, cause error) error {
	// the restore must also happen when ctx was cancelled
	ctx = context.WithoutCancel(ctx)

	if err := o.clt.UpdateRef(ctx, owner, repo, branch, sha, true); err != nil {
		logger.Error(
			"resetting branch to original tip failed, branch is left in an intermediate state",
			logfields.Event("cherry_pick_restore_failed"),
			zap.Error(err),
		)

		return errors.Join(cause, fmt.Errorf("resetting branch %s to %s failed: %w", branch, sha, err))
	}

	logger.Debug("branch reset to original tip", logfields.Event("cherry_pick_branch_restored"))

	return cause
}
