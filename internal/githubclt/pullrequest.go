package githubclt

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/go-github/v59/github"
)

// PullRequest is a snapshot of a pull request.
type PullRequest struct {
	Number int
	NodeID string
	URL    string
	Title  string
	Body   string
	Author string
	State  string
	Merged bool
	// MergeCommitSHA is the sha of the commit that was created when the
	// pull request was merged.
	MergeCommitSHA string
	HeadRef        string
	HeadSHA        string
	BaseRef        string
	// Mergeable is nil when github did not compute the mergeability yet.
	Mergeable      *bool
	MergeableState string
	Labels         []string
	Milestone      string
}

// GetPullRequest returns a snapshot of the pull request.
func (clt *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		if hasStatusCode(err, http.StatusNotFound) {
			return nil, fmt.Errorf("pull request #%d: %w", number, ErrNotFound)
		}
		return nil, clt.wrapRetryableErrors(err)
	}

	result := PullRequest{
		Number:         pr.GetNumber(),
		NodeID:         pr.GetNodeID(),
		URL:            pr.GetHTMLURL(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		Author:         pr.GetUser().GetLogin(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		HeadRef:        pr.GetHead().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		BaseRef:        pr.GetBase().GetRef(),
		Mergeable:      pr.Mergeable,
		MergeableState: pr.GetMergeableState(),
		Milestone:      pr.GetMilestone().GetTitle(),
		Labels:         make([]string, 0, len(pr.Labels)),
	}

	for _, l := range pr.Labels {
		result.Labels = append(result.Labels, l.GetName())
	}

	return &result, nil
}

// CreatedPullRequest identifies a newly opened pull request.
type CreatedPullRequest struct {
	Number int
	NodeID string
	URL    string
}

// CreatePullRequest opens a pull request from head into base.
// If an open pull request for head and base exists, an error wrapping
// ErrAlreadyExists is returned.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*CreatedPullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		if hasStatusCode(err, http.StatusUnprocessableEntity) && errMessageContains(err, "already exists") {
			return nil, fmt.Errorf("pull request for %s into %s: %w", head, base, ErrAlreadyExists)
		}
		return nil, clt.wrapRetryableErrors(err)
	}

	return &CreatedPullRequest{
		Number: pr.GetNumber(),
		NodeID: pr.GetNodeID(),
		URL:    pr.GetHTMLURL(),
	}, nil
}

// UpdatePullRequestBody replaces the description of the pull request.
func (clt *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Body: github.String(body),
	})
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// RequestReviewers requests reviews from the given users.
func (clt *Client) RequestReviewers(ctx context.Context, owner, repo string, number int, logins []string) error {
	_, _, err := clt.restClt.PullRequests.RequestReviewers(ctx, owner, repo, number, github.ReviewersRequest{
		Reviewers: logins,
	})
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// ListPullRequestsWithMilestone returns the numbers of all open pull
// requests that are assigned to the milestone.
func (clt *Client) ListPullRequestsWithMilestone(ctx context.Context, owner, repo string, milestoneNumber int) ([]int, error) {
	var result []int

	opts := github.IssueListByRepoOptions{
		Milestone:   strconv.Itoa(milestoneNumber),
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		issues, resp, err := clt.restClt.Issues.ListByRepo(ctx, owner, repo, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				result = append(result, issue.GetNumber())
			}
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// PullRequestsForCommit returns the numbers of the open pull requests that
// contain the commit.
func (clt *Client) PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]int, error) {
	prs, _, err := clt.restClt.PullRequests.ListPullRequestsWithCommit(ctx, owner, repo, sha, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	result := make([]int, 0, len(prs))
	for _, pr := range prs {
		if pr.GetState() == "open" {
			result = append(result, pr.GetNumber())
		}
	}

	return result, nil
}
