package backport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dionisio-bot/dionisio/internal/cherrypick"
	"github.com/dionisio-bot/dionisio/internal/githubclt"
)

type createdPR struct {
	Head, Base, Title, Body string
}

type dispatch struct {
	Workflow, Ref string
	Inputs        map[string]any
}

type fakeHost struct {
	mu sync.Mutex

	branches      map[string]string
	refs          map[string]string
	releases      map[string]bool
	latestRelease string
	pullRequests  map[int]*githubclt.PullRequest
	milestones    []*githubclt.Milestone
	projects      map[string]*githubclt.Project
	projectItems  map[string][]string

	createdRefs   []string
	createdPRs    []createdPR
	reviewers     map[int][]string
	assignees     map[int][]string
	labels        map[int][]string
	setMilestones map[int]int
	comments      []string
	dispatches    []dispatch
	updatedRefs   map[string]string
	deletedRefs   []string

	nextPRNumber int
	milestoneErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		branches:      map[string]string{},
		refs:          map[string]string{},
		releases:      map[string]bool{},
		pullRequests:  map[int]*githubclt.PullRequest{},
		projects:      map[string]*githubclt.Project{},
		projectItems:  map[string][]string{},
		reviewers:     map[int][]string{},
		assignees:     map[int][]string{},
		labels:        map[int][]string{},
		setMilestones: map[int]int{},
		updatedRefs:   map[string]string{},
		nextPRNumber:  100,
	}
}

func (f *fakeHost) GetBranch(_ context.Context, _, _, branch string) (*githubclt.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sha, ok := f.branches[branch]
	if !ok {
		return nil, fmt.Errorf("branch %q: %w", branch, githubclt.ErrNotFound)
	}

	return &githubclt.Branch{Name: branch, CommitSHA: sha, TreeSHA: "tree-" + sha}, nil
}

func (f *fakeHost) ResolveRef(_ context.Context, _, _, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sha, ok := f.refs[ref]; ok {
		return sha, nil
	}

	if sha, ok := f.branches[ref]; ok {
		return sha, nil
	}

	return "", fmt.Errorf("ref %q: %w", ref, githubclt.ErrNotFound)
}

func (f *fakeHost) CreateRef(_ context.Context, _, _, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.branches[branch]; ok {
		return fmt.Errorf("branch %q: %w", branch, githubclt.ErrAlreadyExists)
	}

	f.branches[branch] = sha
	f.createdRefs = append(f.createdRefs, branch)

	return nil
}

func (f *fakeHost) UpdateRef(_ context.Context, _, _, branch, sha string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.branches[branch] = sha
	f.updatedRefs[branch] = sha

	return nil
}

func (f *fakeHost) DeleteRef(_ context.Context, _, _, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.branches[branch]; !ok {
		return fmt.Errorf("branch %q: %w", branch, githubclt.ErrNotFound)
	}

	delete(f.branches, branch)
	f.deletedRefs = append(f.deletedRefs, branch)

	return nil
}

func (f *fakeHost) GetPullRequest(_ context.Context, _, _ string, number int) (*githubclt.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pr, ok := f.pullRequests[number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d: %w", number, githubclt.ErrNotFound)
	}

	return pr, nil
}

func (f *fakeHost) CreatePullRequest(_ context.Context, _, _, head, base, title, body string) (*githubclt.CreatedPullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pr := range f.createdPRs {
		if pr.Head == head && pr.Base == base {
			return nil, fmt.Errorf("pull request %s: %w", head, githubclt.ErrAlreadyExists)
		}
	}

	f.createdPRs = append(f.createdPRs, createdPR{Head: head, Base: base, Title: title, Body: body})
	f.nextPRNumber++

	return &githubclt.CreatedPullRequest{
		Number: f.nextPRNumber,
		NodeID: fmt.Sprintf("PR_%d", f.nextPRNumber),
	}, nil
}

func (f *fakeHost) RequestReviewers(_ context.Context, _, _ string, number int, logins []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reviewers[number] = append(f.reviewers[number], logins...)

	return nil
}

func (f *fakeHost) AddAssignees(_ context.Context, _, _ string, number int, logins []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.assignees[number] = append(f.assignees[number], logins...)

	return nil
}

func (f *fakeHost) AddLabels(_ context.Context, _, _ string, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.labels[number] = append(f.labels[number], labels...)

	return nil
}

func (f *fakeHost) ListMilestones(context.Context, string, string) ([]*githubclt.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.milestoneErr != nil {
		return nil, f.milestoneErr
	}

	return f.milestones, nil
}

func (f *fakeHost) SetMilestone(_ context.Context, _, _ string, number, milestoneNumber int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setMilestones[number] = milestoneNumber

	return nil
}

func (f *fakeHost) CreateIssueComment(_ context.Context, _, _ string, _ int, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.comments = append(f.comments, comment)

	return nil
}

func (f *fakeHost) GetReleaseByTag(_ context.Context, _, _, tag string) (*githubclt.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.releases[tag] {
		return nil, fmt.Errorf("release %q: %w", tag, githubclt.ErrNotFound)
	}

	return &githubclt.Release{TagName: tag, Name: tag}, nil
}

func (f *fakeHost) LatestRelease(context.Context, string, string) (*githubclt.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.latestRelease == "" {
		return nil, fmt.Errorf("latest release: %w", githubclt.ErrNotFound)
	}

	return &githubclt.Release{TagName: f.latestRelease}, nil
}

func (f *fakeHost) DispatchWorkflow(_ context.Context, _, _, workflowFile, ref string, inputs map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dispatches = append(f.dispatches, dispatch{Workflow: workflowFile, Ref: ref, Inputs: inputs})

	return nil
}

func (f *fakeHost) FindProject(_ context.Context, _, title string) (*githubclt.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.projects[title]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", title, githubclt.ErrNotFound)
	}

	return p, nil
}

func (f *fakeHost) CreateProject(_ context.Context, _, title string) (*githubclt.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := githubclt.Project{ID: "PROJECT_" + title, Title: title, Number: len(f.projects) + 1}
	f.projects[title] = &p

	return &p, nil
}

func (f *fakeHost) AddProjectItem(_ context.Context, projectID, contentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.projectItems[projectID] = append(f.projectItems[projectID], contentID)

	return nil
}

func (f *fakeHost) commentsContaining(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []string
	for _, c := range f.comments {
		if strings.Contains(c, substr) {
			result = append(result, c)
		}
	}

	return result
}

type pickCall struct {
	CommitSHA, Branch string
}

// fakePicker cherry-picks by moving the branch to a new fake commit.
type fakePicker struct {
	host *fakeHost

	mu        sync.Mutex
	calls     []pickCall
	conflicts map[string]bool

	// failures are returned once for the branch
	failures map[string]error
}

func newFakePicker(host *fakeHost) *fakePicker {
	return &fakePicker{host: host, conflicts: map[string]bool{}, failures: map[string]error{}}
}

func (p *fakePicker) CherryPick(ctx context.Context, owner, repo, commitSHA, branch string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, pickCall{CommitSHA: commitSHA, Branch: branch})
	conflict := p.conflicts[branch]
	failure := p.failures[branch]
	delete(p.failures, branch)
	p.mu.Unlock()

	if failure != nil {
		return "", failure
	}

	if conflict {
		return "", &cherrypick.ConflictError{Commits: []string{commitSHA}, Head: branch}
	}

	sha := "picked-" + commitSHA
	if err := p.host.UpdateRef(ctx, owner, repo, branch, sha, true); err != nil {
		return "", err
	}

	return sha, nil
}

func (p *fakePicker) Calls() []pickCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]pickCall(nil), p.calls...)
}
