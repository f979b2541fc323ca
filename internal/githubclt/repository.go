package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v59/github"
)

// Release is a published github release.
type Release struct {
	TagName string
	Name    string
}

// ReadFile returns the content of the file at path in the given git ref.
// If the file does not exist, an error wrapping ErrNotFound is returned.
func (clt *Client) ReadFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	file, _, _, err := clt.cachedRestClt.Repositories.GetContents(
		ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		if hasStatusCode(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%s@%s: %w", path, ref, ErrNotFound)
		}
		return nil, clt.wrapRetryableErrors(err)
	}

	if file == nil {
		return nil, fmt.Errorf("%s@%s is a directory", path, ref)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding content of %s@%s failed: %w", path, ref, err)
	}

	return []byte(content), nil
}

// GetReleaseByTag returns the release for the tag.
// If no release exists for the tag, an error wrapping ErrNotFound is returned.
func (clt *Client) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*Release, error) {
	r, _, err := clt.cachedRestClt.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		if hasStatusCode(err, http.StatusNotFound) {
			return nil, fmt.Errorf("release %q: %w", tag, ErrNotFound)
		}
		return nil, clt.wrapRetryableErrors(err)
	}

	return &Release{TagName: r.GetTagName(), Name: r.GetName()}, nil
}

// LatestRelease returns the most recent published release.
// If the repository has no releases, an error wrapping ErrNotFound is
// returned.
func (clt *Client) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	r, _, err := clt.restClt.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		if hasStatusCode(err, http.StatusNotFound) {
			return nil, fmt.Errorf("latest release: %w", ErrNotFound)
		}
		return nil, clt.wrapRetryableErrors(err)
	}

	return &Release{TagName: r.GetTagName(), Name: r.GetName()}, nil
}

// DispatchWorkflow triggers a workflow_dispatch event for the workflow
// file on ref.
func (clt *Client) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]any) error {
	_, err := clt.restClt.Actions.CreateWorkflowDispatchEventByFileName(
		ctx, owner, repo, workflowFile,
		github.CreateWorkflowDispatchEventRequest{Ref: ref, Inputs: inputs},
	)
	return clt.wrapRetryableErrors(err)
}

// CheckRun describes a completed check run.
type CheckRun struct {
	Name       string
	HeadSHA    string
	Conclusion string
	Title      string
	Summary    string
}

// CreateCheckRun creates a completed check run for a commit.
func (clt *Client) CreateCheckRun(ctx context.Context, owner, repo string, run *CheckRun) error {
	if run.HeadSHA == "" {
		return errors.New("head sha is empty")
	}

	_, _, err := clt.restClt.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
		Name:        run.Name,
		HeadSHA:     run.HeadSHA,
		Status:      github.String("completed"),
		Conclusion:  github.String(run.Conclusion),
		CompletedAt: &github.Timestamp{Time: time.Now()},
		Output: &github.CheckRunOutput{
			Title:   github.String(run.Title),
			Summary: github.String(run.Summary),
		},
	})
	return clt.wrapRetryableErrors(err)
}

// ResolveRef returns the sha of the commit that ref points to.
// ref can be a branch name, a tag name or a commit sha.
func (clt *Client) ResolveRef(ctx context.Context, owner, repo, ref string) (string, error) {
	sha, _, err := clt.restClt.Repositories.GetCommitSHA1(ctx, owner, repo, ref, "")
	if err != nil {
		if hasStatusCode(err, http.StatusNotFound) || hasStatusCode(err, http.StatusUnprocessableEntity) {
			return "", fmt.Errorf("ref %q: %w", ref, ErrNotFound)
		}
		return "", clt.wrapRetryableErrors(err)
	}

	return sha, nil
}
