package backport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/dionisio-bot/dionisio/internal/cherrypick"
	"github.com/dionisio-bot/dionisio/internal/logfields"
	"github.com/dionisio-bot/dionisio/internal/semverutil"
)

var backportBranchRe = regexp.MustCompile(`^backport-(.+)-([0-9]+)$`)

// ParseBackportBranch returns the release tag and the number of the source
// pull request of a backport branch name.
func ParseBackportBranch(branch string) (tag string, prNumber int, err error) {
	m := backportBranchRe.FindStringSubmatch(branch)
	if m == nil {
		return "", 0, fmt.Errorf("%q is not a backport branch", branch)
	}

	prNumber, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("%q: invalid pull request number: %w", branch, err)
	}

	return m[1], prNumber, nil
}

// RebaseRequest describes recreating a backport branch from the current tip
// of its release branch.
type RebaseRequest struct {
	// BackportBranch is the head branch of the backport pull request.
	BackportBranch string
	IssueNumber    int
}

// Rebase resets the backport branch to the tip of its release branch and
// cherry-picks the merge commit of the source pull request again.
// It returns the sha of the new backport branch tip.
func (c *Coordinator) Rebase(ctx context.Context, owner, repo string, req *RebaseRequest) (string, error) {
	logger := c.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(req.BackportBranch),
	)

	tag, prNumber, err := ParseBackportBranch(req.BackportBranch)
	if err != nil {
		c.comment(ctx, logger, owner, repo, req.IssueNumber, "This pull request is not a backport, it can not be rebased")
		return "", &Error{Kind: KindVersionInvalid, Err: err}
	}

	if _, err := semverutil.ParseTag(tag); err != nil {
		c.comment(ctx, logger, owner, repo, req.IssueNumber, "Could not find a valid version to patch")
		return "", &Error{Kind: KindVersionInvalid, Tag: tag, Err: err}
	}

	source, err := c.clt.GetPullRequest(ctx, owner, repo, prNumber)
	if err != nil {
		return "", hostFailure(tag, fmt.Errorf("retrieving source pull request #%d failed: %w", prNumber, err))
	}

	if !source.Merged || source.MergeCommitSHA == "" {
		return "", hostFailure(tag, fmt.Errorf("source pull request #%d is not merged", prNumber))
	}

	releaseBranch := ReleaseBranch(tag)

	var sha string
	err = c.serializer.Run(serializerKey(owner, repo, req.BackportBranch), func() error {
		release, err := c.clt.GetBranch(ctx, owner, repo, releaseBranch)
		if err != nil {
			return fmt.Errorf("retrieving release branch failed: %w", err)
		}

		if err := c.clt.UpdateRef(ctx, owner, repo, req.BackportBranch, release.CommitSHA, true); err != nil {
			return fmt.Errorf("resetting backport branch failed: %w", err)
		}

		sha, err = c.picker.CherryPick(ctx, owner, repo, source.MergeCommitSHA, req.BackportBranch)
		return err
	})
	if err != nil {
		var conflictErr *cherrypick.ConflictError
		if errors.As(err, &conflictErr) {
			conflictErr.Base = releaseBranch

			logger.Info("rebase has conflicts", logfields.Event("backport_rebase_conflict"))

			c.comment(ctx, logger, owner, repo, req.IssueNumber, conflictComment(conflictErr, "rebase this pull request", ""))

			return "", &Error{Kind: KindConflict, Tag: tag, Conflict: conflictErr}
		}

		return "", hostFailure(tag, err)
	}

	logger.Info(
		"backport branch rebased",
		logfields.Event("backport_rebased"),
		logfields.Commit(sha),
	)

	return sha, nil
}
