package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shurcooL/githubv4"
)

// Project is a github projects (v2) board.
type Project struct {
	ID     string
	Title  string
	Number int
}

// PullRequestHasProjects returns true if the pull request with the given
// html URL is an item of at least one project.
func (clt *Client) PullRequestHasProjects(ctx context.Context, prURL string) (bool, error) {
	var q struct {
		Resource struct {
			PullRequest struct {
				ProjectsV2 struct {
					TotalCount int
				} `graphql:"projectsV2(first: 1)"`
			} `graphql:"... on PullRequest"`
		} `graphql:"resource(url: $url)"`
	}

	u, err := url.Parse(prURL)
	if err != nil {
		return false, fmt.Errorf("parsing pull request url failed: %w", err)
	}

	vars := map[string]any{
		"url": githubv4.URI{URL: u},
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return false, clt.wrapGraphQLRetryableErrors(err)
	}

	return q.Resource.PullRequest.ProjectsV2.TotalCount > 0, nil
}

// FindProject returns the open organization project with exactly the given
// title.
// If it does not exist, an error wrapping ErrNotFound is returned.
func (clt *Client) FindProject(ctx context.Context, org, title string) (*Project, error) {
	var q struct {
		Organization struct {
			ProjectsV2 struct {
				Nodes []struct {
					ID     string
					Title  string
					Number int
				}
			} `graphql:"projectsV2(first: 100, query: $query)"`
		} `graphql:"organization(login: $login)"`
	}

	vars := map[string]any{
		"login": githubv4.String(org),
		"query": githubv4.String(fmt.Sprintf("is:open %q", title)),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	// the search is a fuzzy match, the exact title is checked here
	for _, n := range q.Organization.ProjectsV2.Nodes {
		if n.Title == title {
			return &Project{ID: n.ID, Title: n.Title, Number: n.Number}, nil
		}
	}

	return nil, fmt.Errorf("project %q: %w", title, ErrNotFound)
}

// CreateProject creates an organization project.
func (clt *Client) CreateProject(ctx context.Context, org, title string) (*Project, error) {
	var q struct {
		Organization struct {
			ID string
		} `graphql:"organization(login: $login)"`
	}

	err := clt.graphQLClt.Query(ctx, &q, map[string]any{"login": githubv4.String(org)})
	if err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	if q.Organization.ID == "" {
		return nil, fmt.Errorf("organization %q: %w", org, ErrNotFound)
	}

	var m struct {
		CreateProjectV2 struct {
			ProjectV2 struct {
				ID     string
				Title  string
				Number int
			} `graphql:"projectV2"`
		} `graphql:"createProjectV2(input: $input)"`
	}

	input := githubv4.CreateProjectV2Input{
		OwnerID: githubv4.ID(q.Organization.ID),
		Title:   githubv4.String(title),
	}

	if err := clt.graphQLClt.Mutate(ctx, &m, input, nil); err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	p := m.CreateProjectV2.ProjectV2
	if p.ID == "" {
		return nil, errors.New("github returned a project without id")
	}

	return &Project{ID: p.ID, Title: p.Title, Number: p.Number}, nil
}

// AddProjectItem adds the issue or pull request with the node id contentID
// to the project.
// Adding an item that is already part of the project is a no-op.
func (clt *Client) AddProjectItem(ctx context.Context, projectID, contentID string) error {
	var m struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string
			}
		} `graphql:"addProjectV2ItemById(input: $input)"`
	}

	input := githubv4.AddProjectV2ItemByIdInput{
		ProjectID: githubv4.ID(projectID),
		ContentID: githubv4.ID(contentID),
	}

	if err := clt.graphQLClt.Mutate(ctx, &m, input, nil); err != nil {
		return clt.wrapGraphQLRetryableErrors(err)
	}

	return nil
}

// EnqueuePullRequest adds the pull request to the merge queue of its base
// branch.
func (clt *Client) EnqueuePullRequest(ctx context.Context, prNodeID string) error {
	var m struct {
		EnqueuePullRequest struct {
			ClientMutationID string
		} `graphql:"enqueuePullRequest(input: $input)"`
	}

	input := githubv4.EnqueuePullRequestInput{
		PullRequestID: githubv4.ID(prNodeID),
	}

	if err := clt.graphQLClt.Mutate(ctx, &m, input, nil); err != nil {
		return clt.wrapGraphQLRetryableErrors(err)
	}

	return nil
}

// EnableAutoMerge enables auto-merge with the given merge method for the
// pull request.
func (clt *Client) EnableAutoMerge(ctx context.Context, prNodeID string, method githubv4.PullRequestMergeMethod) error {
	var m struct {
		EnablePullRequestAutoMerge struct {
			ClientMutationID string
		} `graphql:"enablePullRequestAutoMerge(input: $input)"`
	}

	input := githubv4.EnablePullRequestAutoMergeInput{
		PullRequestID: githubv4.ID(prNodeID),
		MergeMethod:   &method,
	}

	if err := clt.graphQLClt.Mutate(ctx, &m, input, nil); err != nil {
		return clt.wrapGraphQLRetryableErrors(err)
	}

	return nil
}
