package backport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/logfields"
	"github.com/dionisio-bot/dionisio/internal/semverutil"
)

// maxParallelTags limits how many tags of a BatchRequest are processed
// concurrently.
const maxParallelTags = 4

// BatchRequest describes the backport of a pull request to multiple
// releases.
type BatchRequest struct {
	SourceCommitSHA string
	SourcePR        SourcePR
	Tags            []string
	Assignee        string
	IssueNumber     int
}

// Result is the result of backporting to a single tag of a BatchRequest.
type Result struct {
	Tag string
	// Outcome is set when the backport was created.
	Outcome *Outcome
	// Skipped is true when nothing had to be done for the tag.
	Skipped    bool
	SkipReason string
	Err        *Error
}

// Backport backports the pull request to every tag of req.
// Each tag is processed independently, a failure for one tag does not
// affect the others. The results are returned in the order of req.Tags.
//
// For a tag X.Y.Z the release X.Y.(Z-1) must exist, the release branch is
// created from it if necessary. Tags with patch version 0 are skipped.
func (c *Coordinator) Backport(ctx context.Context, owner, repo string, req *BatchRequest) []*Result {
	logger := c.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(req.SourcePR.Number),
	)

	if len(req.Tags) == 0 {
		c.comment(ctx, logger, owner, repo, req.IssueNumber, "Please provide a list of tags to backport")
		return nil
	}

	results := make([]*Result, len(req.Tags))

	var g errgroup.Group
	g.SetLimit(maxParallelTags)

	for i, tag := range req.Tags {
		g.Go(func() error {
			results[i] = c.backportTag(ctx, logger.With(logfields.Release(tag)), owner, repo, req, tag)
			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (c *Coordinator) backportTag(ctx context.Context, logger *zap.Logger, owner, repo string, req *BatchRequest, tag string) *Result {
	result := Result{Tag: tag}

	fail := func(err *Error) *Result {
		result.Err = err
		// conflicts are reported by Run
		if err.Kind != KindConflict {
			c.comment(ctx, logger, owner, repo, req.IssueNumber, tagFailedComment(err))
		}

		logger.Info(
			"backport failed",
			logfields.Event("backport_failed"),
			zap.Stringer("backport.error_kind", err.Kind),
			zap.Error(err),
		)

		return &result
	}

	skip := func(reason string) *Result {
		result.Skipped = true
		result.SkipReason = reason

		logger.Info("backport skipped", logfields.Event("backport_skipped"), zap.String("reason", reason))

		return &result
	}

	previous, ok, err := semverutil.PreviousPatch(tag)
	if err != nil {
		return fail(&Error{Kind: KindVersionInvalid, Tag: tag, Err: err})
	}

	_, err = c.clt.GetReleaseByTag(ctx, owner, repo, tag)
	if err == nil {
		c.comment(ctx, logger, owner, repo, req.IssueNumber, fmt.Sprintf("%s already exists in the project", tag))
		return skip("release already exists")
	}
	if !errors.Is(err, githubclt.ErrNotFound) {
		return fail(hostFailure(tag, fmt.Errorf("looking up release failed: %w", err)))
	}

	if !ok {
		return skip("release has no previous patch release")
	}

	_, err = c.clt.GetReleaseByTag(ctx, owner, repo, previous)
	if err != nil {
		if errors.Is(err, githubclt.ErrNotFound) {
			return fail(&Error{Kind: KindPreviousReleaseMissing, Tag: tag, Err: fmt.Errorf("release %s: %w", previous, err)})
		}

		return fail(hostFailure(tag, fmt.Errorf("looking up previous release failed: %w", err)))
	}

	outcome, err := c.Run(ctx, owner, repo, &Request{
		SourceCommitSHA: req.SourceCommitSHA,
		SourcePR:        req.SourcePR,
		Tag:             tag,
		BaseRef:         previous,
		Assignee:        req.Assignee,
		IssueNumber:     req.IssueNumber,
		Retrigger:       fmt.Sprintf("%s backport %s", c.commandPrefix, tag),
	})
	if err != nil {
		return fail(AsError(err))
	}

	result.Outcome = outcome

	return &result
}

// PatchRequest describes the backport of a pull request to the next patch
// release.
type PatchRequest struct {
	SourceCommitSHA string
	SourcePR        SourcePR
	Assignee        string
	IssueNumber     int
}

// Patch backports the pull request to the release following the latest
// published release. The release branch is created from the latest release
// if it does not exist.
func (c *Coordinator) Patch(ctx context.Context, owner, repo string, req *PatchRequest) (*Outcome, error) {
	logger := c.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(req.SourcePR.Number),
	)

	latest, err := c.clt.LatestRelease(ctx, owner, repo)
	if err != nil {
		if errors.Is(err, githubclt.ErrNotFound) {
			return nil, &Error{Kind: KindPreviousReleaseMissing, Err: err}
		}
		return nil, hostFailure("", fmt.Errorf("retrieving latest release failed: %w", err))
	}

	next, err := semverutil.NextPatch(latest.TagName)
	if err != nil {
		c.comment(ctx, logger, owner, repo, req.IssueNumber, "Could not find a valid version to patch")
		return nil, &Error{Kind: KindVersionInvalid, Tag: latest.TagName, Err: err}
	}

	logger.Debug(
		"patch release determined",
		logfields.Event("backport_patch_release_determined"),
		logfields.Release(next),
		zap.String("github.latest_release", latest.TagName),
	)

	return c.Run(ctx, owner, repo, &Request{
		SourceCommitSHA: req.SourceCommitSHA,
		SourcePR:        req.SourcePR,
		Tag:             next,
		BaseRef:         latest.TagName,
		Assignee:        req.Assignee,
		IssueNumber:     req.IssueNumber,
		Retrigger:       c.commandPrefix + " patch",
	})
}

// FormatResults renders a summary of the results of a batch backport.
func FormatResults(results []*Result) string {
	var sb strings.Builder

	sb.WriteString("Backport results:\n")

	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(&sb, "- %s: failed (%s)\n", r.Tag, r.Err.Kind)
		case r.Skipped:
			fmt.Fprintf(&sb, "- %s: skipped, %s\n", r.Tag, r.SkipReason)
		case r.Outcome.PullRequest != nil:
			fmt.Fprintf(&sb, "- %s: #%d\n", r.Tag, r.Outcome.PullRequest.Number)
		default:
			fmt.Fprintf(&sb, "- %s: pull request already exists\n", r.Tag)
		}
	}

	return sb.String()
}
