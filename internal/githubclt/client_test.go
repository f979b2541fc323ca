package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dionisio-bot/dionisio/internal/boterr"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	clt, err := NewWithHTTPClient(srv.Client(), srv.URL)
	require.NoError(t, err)

	return clt
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/branches/main", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"name": "main",
			"commit": map[string]any{
				"sha": "c1",
				"commit": map[string]any{
					"tree": map[string]any{"sha": "t1"},
				},
			},
		})
	})

	clt := newTestClient(t, mux)

	b, err := clt.GetBranch(context.Background(), "o", "r", "main")
	require.NoError(t, err)
	assert.Equal(t, &Branch{Name: "main", CommitSHA: "c1", TreeSHA: "t1"}, b)
}

func TestGetBranchNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/branches/missing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "Branch not found"})
	})

	clt := newTestClient(t, mux)

	_, err := clt.GetBranch(context.Background(), "o", "r", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetCommitParents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/git/commits/abc", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"sha":     "abc",
			"message": "fix bug",
			"tree":    map[string]any{"sha": "tree1"},
			"parents": []map[string]any{{"sha": "p1"}},
		})
	})

	clt := newTestClient(t, mux)

	c, err := clt.GetCommit(context.Background(), "o", "r", "abc")
	require.NoError(t, err)
	assert.Equal(t, &Commit{SHA: "abc", TreeSHA: "tree1", Message: "fix bug", Parents: []string{"p1"}}, c)
}

func TestCreateCommitSendsTreeAndParents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/git/commits", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, "temp", req.Message)
		assert.Equal(t, "tree1", req.Tree)
		assert.Equal(t, []string{"p1"}, req.Parents)

		writeJSON(t, w, http.StatusCreated, map[string]any{"sha": "new"})
	})

	clt := newTestClient(t, mux)

	sha, err := clt.CreateCommit(context.Background(), "o", "r", "temp", "tree1", []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, "new", sha)
}

func TestCreateRefAlreadyExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/git/refs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Reference already exists",
		})
	})

	clt := newTestClient(t, mux)

	err := clt.CreateRef(context.Background(), "o", "r", "backport-1.2.3-5", "abc")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateRefForce(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/git/refs/heads/release-1.2.3", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)

		var req struct {
			SHA   string `json:"sha"`
			Force bool   `json:"force"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc", req.SHA)
		assert.True(t, req.Force)

		writeJSON(t, w, http.StatusOK, map[string]any{"ref": "refs/heads/release-1.2.3"})
	})

	clt := newTestClient(t, mux)

	require.NoError(t, clt.UpdateRef(context.Background(), "o", "r", "release-1.2.3", "abc", true))
}

func TestDeleteRefNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/git/refs/heads/gone", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Reference does not exist",
		})
	})

	clt := newTestClient(t, mux)

	err := clt.DeleteRef(context.Background(), "o", "r", "gone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMergeConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/merges", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusConflict, map[string]any{"message": "Merge conflict"})
	})

	clt := newTestClient(t, mux)

	_, err := clt.Merge(context.Background(), "o", "r", "release-1.2.3", "abc", "")
	require.ErrorIs(t, err, ErrMergeConflict)
}

func TestMergeReturnsTree(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/merges", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"base":"release-1.2.3","head":"abc"}`, string(body))

		writeJSON(t, w, http.StatusCreated, map[string]any{
			"sha": "merge",
			"commit": map[string]any{
				"tree": map[string]any{"sha": "mergetree"},
			},
		})
	})

	clt := newTestClient(t, mux)

	tree, err := clt.Merge(context.Background(), "o", "r", "release-1.2.3", "abc", "")
	require.NoError(t, err)
	assert.Equal(t, "mergetree", tree)
}

func TestServerErrorsAreRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/git/commits/abc", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusBadGateway, map[string]any{"message": "bad gateway"})
	})

	clt := newTestClient(t, mux)

	_, err := clt.GetCommit(context.Background(), "o", "r", "abc")
	require.Error(t, err)
	assert.True(t, boterr.IsRetryable(err))
}

func TestGraphQLServerErrorsAreRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	clt := newTestClient(t, mux)

	_, err := clt.PullRequestHasProjects(context.Background(), "https://github.com/o/r/pull/1")
	require.Error(t, err)
	assert.True(t, boterr.IsRetryable(err))
}

func TestPullRequestHasProjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://github.com/o/r/pull/1", req.Variables["url"])
		assert.Contains(t, req.Query, "$url:URI!")

		writeJSON(t, w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"resource": map[string]any{
					"projectsV2": map[string]any{"totalCount": 2},
				},
			},
		})
	})

	clt := newTestClient(t, mux)

	has, err := clt.PullRequestHasProjects(context.Background(), "https://github.com/o/r/pull/1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFindProjectMatchesExactTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"organization": map[string]any{
					"projectsV2": map[string]any{
						"nodes": []map[string]any{
							{"id": "P1", "title": "Patch 1.2.30", "number": 1},
							{"id": "P2", "title": "Patch 1.2.3", "number": 2},
						},
					},
				},
			},
		})
	})

	clt := newTestClient(t, mux)

	p, err := clt.FindProject(context.Background(), "o", "Patch 1.2.3")
	require.NoError(t, err)
	assert.Equal(t, &Project{ID: "P2", Title: "Patch 1.2.3", Number: 2}, p)

	_, err = clt.FindProject(context.Background(), "o", "Patch 9.9.9")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/contents/package.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "develop", r.URL.Query().Get("ref"))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			// {"version":"6.5.1-develop"}
			"content": "eyJ2ZXJzaW9uIjoiNi41LjEtZGV2ZWxvcCJ9",
		})
	})

	clt := newTestClient(t, mux)

	content, err := clt.ReadFile(context.Background(), "o", "r", "package.json", "develop")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"6.5.1-develop"}`, string(content))
}
