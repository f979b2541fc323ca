package cherrypick

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dionisio-bot/dionisio/internal/githubclt"
)

// fakeGit is an in-memory git host.
// Trees are maps of file names to contents, their sha is derived from their
// content.
type fakeGit struct {
	mu       sync.Mutex
	trees    map[string]map[string]string
	commits  map[string]*githubclt.Commit
	branches map[string]string
	// refHistory records every value a branch pointed to
	refHistory map[string][]string
	commitSeq  int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		trees:      map[string]map[string]string{},
		commits:    map[string]*githubclt.Commit{},
		branches:   map[string]string{},
		refHistory: map[string][]string{},
	}
}

func (f *fakeGit) storeTree(files map[string]string) string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s;", k, files[k])
	}

	sha := "tree:" + sb.String()
	f.trees[sha] = files

	return sha
}

func (f *fakeGit) commit(message string, files map[string]string, parents ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addCommit(message, f.storeTree(files), parents)
}

func (f *fakeGit) addCommit(message, treeSHA string, parents []string) string {
	f.commitSeq++
	sha := fmt.Sprintf("c%d", f.commitSeq)

	f.commits[sha] = &githubclt.Commit{
		SHA:     sha,
		TreeSHA: treeSHA,
		Message: message,
		Parents: parents,
	}

	return sha
}

func (f *fakeGit) setBranch(branch, sha string) {
	f.branches[branch] = sha
	f.refHistory[branch] = append(f.refHistory[branch], sha)
}

func (f *fakeGit) files(commitSHA string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.trees[f.commits[commitSHA].TreeSHA]
}

func (f *fakeGit) GetBranch(_ context.Context, _, _, branch string) (*githubclt.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sha, ok := f.branches[branch]
	if !ok {
		return nil, fmt.Errorf("branch %q: %w", branch, githubclt.ErrNotFound)
	}

	return &githubclt.Branch{Name: branch, CommitSHA: sha, TreeSHA: f.commits[sha].TreeSHA}, nil
}

func (f *fakeGit) GetCommit(_ context.Context, _, _, sha string) (*githubclt.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.commits[sha]
	if !ok {
		return nil, fmt.Errorf("commit %q: %w", sha, githubclt.ErrNotFound)
	}

	cpy := *c
	cpy.Parents = append([]string(nil), c.Parents...)

	return &cpy, nil
}

func (f *fakeGit) CreateCommit(_ context.Context, _, _, message, treeSHA string, parents []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.trees[treeSHA]; !ok {
		return "", fmt.Errorf("tree %q: %w", treeSHA, githubclt.ErrNotFound)
	}

	for _, p := range parents {
		if _, ok := f.commits[p]; !ok {
			return "", fmt.Errorf("parent %q: %w", p, githubclt.ErrNotFound)
		}
	}

	return f.addCommit(message, treeSHA, append([]string(nil), parents...)), nil
}

func (f *fakeGit) UpdateRef(_ context.Context, _, _, branch, sha string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.commits[sha]; !ok {
		return fmt.Errorf("commit %q: %w", sha, githubclt.ErrNotFound)
	}

	f.setBranch(branch, sha)

	return nil
}

// Merge does a three-way merge of head into base.
// The merge base is the first parent of the base tip, which is where the
// temporary commit of a cherry-pick points to.
func (f *fakeGit) Merge(_ context.Context, _, _, base, head, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	baseTip := f.commits[f.branches[base]]
	headCommit := f.commits[head]
	mergeBase := f.commits[baseTip.Parents[0]]

	ours := f.trees[baseTip.TreeSHA]
	theirs := f.trees[headCommit.TreeSHA]
	ancestor := f.trees[mergeBase.TreeSHA]

	result := map[string]string{}
	names := map[string]struct{}{}
	for _, m := range []map[string]string{ours, theirs, ancestor} {
		for k := range m {
			names[k] = struct{}{}
		}
	}

	for name := range names {
		o, t, a := ours[name], theirs[name], ancestor[name]
		switch {
		case t == a, o == t:
			if o != "" {
				result[name] = o
			}
		case o == a:
			if t != "" {
				result[name] = t
			}
		default:
			return "", fmt.Errorf("merging %s into %s: %w", head, base, githubclt.ErrMergeConflict)
		}
	}

	treeSHA := f.storeTree(result)
	sha := f.addCommit(message, treeSHA, []string{baseTip.SHA, head})
	f.setBranch(base, sha)

	return treeSHA, nil
}
