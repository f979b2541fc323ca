package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v59/github"

	"github.com/dionisio-bot/dionisio/internal/boterr"
)

// Branch is the tip of a git branch.
type Branch struct {
	Name      string
	CommitSHA string
	TreeSHA   string
}

// Commit is a git commit object.
type Commit struct {
	SHA     string
	TreeSHA string
	Message string
	Parents []string
}

// GetBranch returns the tip of the branch.
// If the branch does not exist, an error wrapping ErrNotFound is returned.
func (clt *Client) GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error) {
	// GetBranch does not return a github.ErrorResponse for unexpected
	// status codes, the status is checked via resp instead.
	b, resp, err := clt.restClt.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("branch %q: %w", branch, ErrNotFound)
			}

			if resp.StatusCode >= 500 && resp.StatusCode < 600 {
				return nil, boterr.NewRetryableAnytimeError(err)
			}
		}

		return nil, clt.wrapRetryableErrors(err)
	}

	commit := b.GetCommit()
	if commit.GetSHA() == "" {
		return nil, errors.New("github returned a branch without commit sha")
	}

	return &Branch{
		Name:      b.GetName(),
		CommitSHA: commit.GetSHA(),
		TreeSHA:   commit.GetCommit().GetTree().GetSHA(),
	}, nil
}

// GetCommit returns the git commit with the given sha.
func (clt *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	c, _, err := clt.restClt.Git.GetCommit(ctx, owner, repo, sha)
	if err != nil {
		if hasStatusCode(err, http.StatusNotFound) {
			return nil, fmt.Errorf("commit %q: %w", sha, ErrNotFound)
		}
		return nil, clt.wrapRetryableErrors(err)
	}

	result := Commit{
		SHA:     c.GetSHA(),
		TreeSHA: c.GetTree().GetSHA(),
		Message: c.GetMessage(),
		Parents: make([]string, 0, len(c.Parents)),
	}

	for _, p := range c.Parents {
		result.Parents = append(result.Parents, p.GetSHA())
	}

	return &result, nil
}

// CreateCommit creates a git commit object and returns its sha.
// The commit is not referenced by any branch.
func (clt *Client) CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	commit := github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(treeSHA)},
		Parents: make([]*github.Commit, 0, len(parents)),
	}

	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.String(p)})
	}

	c, _, err := clt.restClt.Git.CreateCommit(ctx, owner, repo, &commit, nil)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	return c.GetSHA(), nil
}

func branchRef(branch string) string {
	return "refs/heads/" + branch
}

// CreateRef creates the branch pointing to sha.
// If the branch already exists, an error wrapping ErrAlreadyExists is
// returned.
func (clt *Client) CreateRef(ctx context.Context, owner, repo, branch, sha string) error {
	_, _, err := clt.restClt.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String(branchRef(branch)),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		if hasStatusCode(err, http.StatusUnprocessableEntity) && errMessageContains(err, "already exists") {
			return fmt.Errorf("branch %q: %w", branch, ErrAlreadyExists)
		}
		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// UpdateRef moves the branch to sha.
// When force is false the update must be a fast-forward.
func (clt *Client) UpdateRef(ctx context.Context, owner, repo, branch, sha string, force bool) error {
	_, _, err := clt.restClt.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String(branchRef(branch)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, force)
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// DeleteRef deletes the branch.
// If the branch does not exist, an error wrapping ErrNotFound is returned.
func (clt *Client) DeleteRef(ctx context.Context, owner, repo, branch string) error {
	_, err := clt.restClt.Git.DeleteRef(ctx, owner, repo, branchRef(branch))
	if err != nil {
		// github responds with 422 "Reference does not exist" instead of 404
		if hasStatusCode(err, http.StatusNotFound) ||
			(hasStatusCode(err, http.StatusUnprocessableEntity) && errMessageContains(err, "does not exist")) {
			return fmt.Errorf("branch %q: %w", branch, ErrNotFound)
		}
		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// Merge merges head into the base branch and returns the tree sha of the
// resulting merge commit.
// If the merge results in a conflict, an error wrapping ErrMergeConflict is
// returned.
func (clt *Client) Merge(ctx context.Context, owner, repo, base, head, message string) (string, error) {
	req := github.RepositoryMergeRequest{
		Base: github.String(base),
		Head: github.String(head),
	}
	if message != "" {
		req.CommitMessage = github.String(message)
	}

	c, resp, err := clt.restClt.Repositories.Merge(ctx, owner, repo, &req)
	if err != nil {
		if hasStatusCode(err, http.StatusConflict) {
			return "", fmt.Errorf("merging %s into %s: %w", head, base, ErrMergeConflict)
		}
		return "", clt.wrapRetryableErrors(err)
	}

	if resp != nil && resp.StatusCode == http.StatusNoContent {
		return "", fmt.Errorf("merging %s into %s: base already contains head", head, base)
	}

	treeSHA := c.GetCommit().GetTree().GetSHA()
	if treeSHA == "" {
		return "", errors.New("github returned a merge commit without tree sha")
	}

	return treeSHA, nil
}
