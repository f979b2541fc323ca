package githubclt

import (
	"context"

	"github.com/google/go-github/v59/github"
)

// Comment is an issue or pull request comment.
type Comment struct {
	ID     int64
	Body   string
	Author string
}

// Milestone is a repository milestone.
type Milestone struct {
	Number int
	Title  string
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// UpdateIssueComment replaces the body of an existing comment.
func (clt *Client) UpdateIssueComment(ctx context.Context, owner, repo string, commentID int64, comment string) error {
	_, _, err := clt.restClt.Issues.EditComment(ctx, owner, repo, commentID, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// ListIssueComments returns all comments of an issue or pull request in
// creation order.
func (clt *Client) ListIssueComments(ctx context.Context, owner, repo string, issueOrPRNr int) ([]*Comment, error) {
	var result []*Comment

	opts := github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		comments, resp, err := clt.restClt.Issues.ListComments(ctx, owner, repo, issueOrPRNr, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, c := range comments {
			result = append(result, &Comment{
				ID:     c.GetID(),
				Body:   c.GetBody(),
				Author: c.GetUser().GetLogin(),
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// ReplaceLabels sets the labels of the issue or pull request to labels.
func (clt *Client) ReplaceLabels(ctx context.Context, owner, repo string, issueOrPRNr int, labels []string) error {
	_, _, err := clt.restClt.Issues.ReplaceLabelsForIssue(ctx, owner, repo, issueOrPRNr, labels)
	return clt.wrapRetryableErrors(err)
}

// AddLabels adds labels to the issue or pull request.
func (clt *Client) AddLabels(ctx context.Context, owner, repo string, issueOrPRNr int, labels []string) error {
	_, _, err := clt.restClt.Issues.AddLabelsToIssue(ctx, owner, repo, issueOrPRNr, labels)
	return clt.wrapRetryableErrors(err)
}

// AddAssignees assigns users to the issue or pull request.
func (clt *Client) AddAssignees(ctx context.Context, owner, repo string, issueOrPRNr int, logins []string) error {
	_, _, err := clt.restClt.Issues.AddAssignees(ctx, owner, repo, issueOrPRNr, logins)
	return clt.wrapRetryableErrors(err)
}

// ListMilestones returns all open milestones of the repository.
func (clt *Client) ListMilestones(ctx context.Context, owner, repo string) ([]*Milestone, error) {
	var result []*Milestone

	opts := github.MilestoneListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		milestones, resp, err := clt.cachedRestClt.Issues.ListMilestones(ctx, owner, repo, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, m := range milestones {
			result = append(result, &Milestone{Number: m.GetNumber(), Title: m.GetTitle()})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// SetMilestone assigns the milestone to the issue or pull request.
func (clt *Client) SetMilestone(ctx context.Context, owner, repo string, issueOrPRNr, milestoneNumber int) error {
	_, _, err := clt.restClt.Issues.Edit(ctx, owner, repo, issueOrPRNr, &github.IssueRequest{
		Milestone: github.Int(milestoneNumber),
	})
	return clt.wrapRetryableErrors(err)
}
