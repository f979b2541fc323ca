package backport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dionisio-bot/dionisio/internal/cherrypick"
	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/keyqueue"
)

const (
	repoOwner = "dionisio-bot"
	repo      = "app"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sourcePR() SourcePR {
	return SourcePR{Number: 10, NodeID: "PR_10", Title: "fix: crash on startup", Author: "alice"}
}

func newTestCoordinator(t *testing.T, host *fakeHost, picker *fakePicker) *Coordinator {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	q := keyqueue.New()
	t.Cleanup(q.Wait)

	return NewCoordinator(host, picker, q, WithReleaseWorkflow("new-release.yml", "develop"))
}

func TestRunCreatesReleaseBranchAndPullRequest(t *testing.T) {
	host := newFakeHost()
	host.refs["6.5.1"] = "tagsha"
	host.milestones = []*githubclt.Milestone{
		{Number: 1, Title: "6.4.0"},
		{Number: 2, Title: "6.5.2"},
	}
	picker := newFakePicker(host)
	c := newTestCoordinator(t, host, picker)

	outcome, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5.2",
		BaseRef:         "6.5.1",
		Assignee:        "bob",
		IssueNumber:     10,
	})
	require.NoError(t, err)

	assert.Equal(t, "release-6.5.2", outcome.ReleaseBranch)
	assert.Equal(t, "backport-6.5.2-10", outcome.BackportBranch)
	assert.Equal(t, "Patch 6.5.2", outcome.ProjectTitle)
	assert.True(t, outcome.CherryPicked)
	require.NotNil(t, outcome.PullRequest)

	assert.Equal(t, []string{"release-6.5.2", "backport-6.5.2-10"}, host.createdRefs)
	assert.Equal(t, "picked-mergesha", host.branches["backport-6.5.2-10"])
	assert.Equal(t, "tagsha", host.branches["release-6.5.2"])

	require.Len(t, host.dispatches, 1)
	assert.Equal(t, dispatch{
		Workflow: "new-release.yml",
		Ref:      "develop",
		Inputs:   map[string]any{"name": "patch", "base-ref": "6.5.1"},
	}, host.dispatches[0])

	assert.Equal(t, []pickCall{{CommitSHA: "mergesha", Branch: "backport-6.5.2-10"}}, picker.Calls())

	require.Len(t, host.createdPRs, 1)
	assert.Equal(t, createdPR{
		Head:  "backport-6.5.2-10",
		Base:  "release-6.5.2",
		Title: "fix: crash on startup",
		Body:  "Backport of #10\n\n@alice",
	}, host.createdPRs[0])

	prNumber := outcome.PullRequest.Number
	assert.Equal(t, []string{"alice"}, host.reviewers[prNumber])
	assert.Equal(t, []string{"bob"}, host.assignees[prNumber])
	assert.Equal(t, []string{"backport"}, host.labels[prNumber])
	assert.Equal(t, 2, host.setMilestones[prNumber])

	assert.ElementsMatch(t,
		[]string{"PR_10", outcome.PullRequest.NodeID},
		host.projectItems["PROJECT_Patch 6.5.2"],
	)
	assert.Len(t, host.commentsContaining(`Pull request added to Project: "Patch 6.5.2"`), 1)
}

func TestRunUsesExistingReleaseBranchAndProject(t *testing.T) {
	host := newFakeHost()
	host.branches["release-6.5.2"] = "releasetip"
	host.projects["Patch 6.5.2"] = &githubclt.Project{ID: "P1", Title: "Patch 6.5.2"}
	picker := newFakePicker(host)
	c := newTestCoordinator(t, host, picker)

	outcome, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5.2",
		IssueNumber:     10,
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.PullRequest)

	assert.Empty(t, host.dispatches)
	assert.Equal(t, []string{"backport-6.5.2-10"}, host.createdRefs)
	assert.Len(t, host.projects, 1)
	assert.Len(t, host.projectItems["P1"], 2)
}

func TestRunExistingBackportBranchSkipsCherryPick(t *testing.T) {
	host := newFakeHost()
	host.branches["release-6.5.2"] = "releasetip"
	host.branches["backport-6.5.2-10"] = "resolvedmanually"
	picker := newFakePicker(host)
	c := newTestCoordinator(t, host, picker)

	outcome, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5.2",
		IssueNumber:     10,
	})
	require.NoError(t, err)

	assert.False(t, outcome.CherryPicked)
	assert.Empty(t, picker.Calls())
	assert.Equal(t, "resolvedmanually", host.branches["backport-6.5.2-10"])
	assert.Len(t, host.createdPRs, 1)
}

func TestRunExistingPullRequestIsNotAnError(t *testing.T) {
	host := newFakeHost()
	host.branches["release-6.5.2"] = "releasetip"
	picker := newFakePicker(host)
	c := newTestCoordinator(t, host, picker)

	req := Request{SourceCommitSHA: "mergesha", SourcePR: sourcePR(), Tag: "6.5.2", IssueNumber: 10}

	_, err := c.Run(context.Background(), repoOwner, repo, &req)
	require.NoError(t, err)

	outcome, err := c.Run(context.Background(), repoOwner, repo, &req)
	require.NoError(t, err)
	assert.Nil(t, outcome.PullRequest)
	assert.Len(t, host.createdPRs, 1)
	assert.Len(t, picker.Calls(), 1)
}

func TestRunConflict(t *testing.T) {
	host := newFakeHost()
	host.branches["release-6.5.2"] = "releasetip"
	picker := newFakePicker(host)
	picker.conflicts["backport-6.5.2-10"] = true
	c := newTestCoordinator(t, host, picker)

	_, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5.2",
		IssueNumber:     10,
		Retrigger:       "/dionisio backport 6.5.2",
	})
	require.Error(t, err)

	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindConflict, bErr.Kind)
	require.NotNil(t, bErr.Conflict)
	assert.Equal(t, []string{"mergesha"}, bErr.Conflict.Commits)
	assert.Equal(t, "backport-6.5.2-10", bErr.Conflict.Head)
	assert.Equal(t, "release-6.5.2", bErr.Conflict.Base)

	var conflictErr *cherrypick.ConflictError
	assert.ErrorAs(t, err, &conflictErr)

	assert.Empty(t, host.createdPRs)
	assert.Empty(t, host.deletedRefs)
	assert.Contains(t, host.branches, "backport-6.5.2-10")

	comments := host.commentsContaining("git cherry-pick mergesha")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "git checkout backport-6.5.2-10")
	assert.Contains(t, comments[0], "`/dionisio backport 6.5.2`")
}

func TestRunCherryPickFailureDeletesBackportBranch(t *testing.T) {
	host := newFakeHost()
	host.branches["release-6.5.2"] = "releasetip"
	picker := newFakePicker(host)
	picker.failures["backport-6.5.2-10"] = errors.New("502 bad gateway")
	c := newTestCoordinator(t, host, picker)

	req := Request{SourceCommitSHA: "mergesha", SourcePR: sourcePR(), Tag: "6.5.2", IssueNumber: 10}

	_, err := c.Run(context.Background(), repoOwner, repo, &req)
	require.Error(t, err)
	assert.Equal(t, KindHostFailure, AsError(err).Kind)
	assert.Equal(t, []string{"backport-6.5.2-10"}, host.deletedRefs)
	assert.NotContains(t, host.branches, "backport-6.5.2-10")
	assert.Empty(t, host.createdPRs)

	outcome, err := c.Run(context.Background(), repoOwner, repo, &req)
	require.NoError(t, err)
	assert.True(t, outcome.CherryPicked)
	assert.Len(t, picker.Calls(), 2)
	assert.Equal(t, "picked-mergesha", host.branches["backport-6.5.2-10"])
	assert.Len(t, host.createdPRs, 1)
}

func TestRunInvalidTag(t *testing.T) {
	host := newFakeHost()
	c := newTestCoordinator(t, host, newFakePicker(host))

	_, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5",
	})

	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindVersionInvalid, bErr.Kind)
	assert.Empty(t, host.createdRefs)
	assert.Empty(t, host.projects)
}

func TestRunMissingReleaseBranchWithoutBaseRef(t *testing.T) {
	host := newFakeHost()
	c := newTestCoordinator(t, host, newFakePicker(host))

	_, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5.2",
	})

	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindHostFailure, bErr.Kind)
}

func TestRunMilestoneFailureIsAdvisory(t *testing.T) {
	host := newFakeHost()
	host.branches["release-6.5.2"] = "releasetip"
	host.milestoneErr = assert.AnError
	c := newTestCoordinator(t, host, newFakePicker(host))

	outcome, err := c.Run(context.Background(), repoOwner, repo, &Request{
		SourceCommitSHA: "mergesha",
		SourcePR:        sourcePR(),
		Tag:             "6.5.2",
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.PullRequest)
	assert.Empty(t, host.setMilestones)
}

func TestParseBackportBranch(t *testing.T) {
	tag, nr, err := ParseBackportBranch("backport-6.5.2-1234")
	require.NoError(t, err)
	assert.Equal(t, "6.5.2", tag)
	assert.Equal(t, 1234, nr)

	tag, nr, err = ParseBackportBranch("backport-7.0.0-rc.1-5")
	require.NoError(t, err)
	assert.Equal(t, "7.0.0-rc.1", tag)
	assert.Equal(t, 5, nr)

	for _, b := range []string{"main", "backport-6.5.2", "release-6.5.2", "backport--x"} {
		_, _, err := ParseBackportBranch(b)
		assert.Errorf(t, err, "branch: %s", b)
	}
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "previous_release_missing", KindPreviousReleaseMissing.String())
}
