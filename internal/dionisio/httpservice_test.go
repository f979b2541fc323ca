package dionisio

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPageShowsPendingTasks(t *testing.T) {
	f, err := NewEventFilter(`.repository.owner.login == "RocketChat"`)
	require.NoError(t, err)

	tl := startTestLoop(t, WithEventFilter(f), WithJira(&fakeJira{}))

	release := make(chan struct{})
	tl.Queue().Schedule(prKey(testOwner, testRepo, 42), func() { <-release })

	svc := NewHTTPService(tl.EvLoop, "/dionisio")
	mux := http.NewServeMux()
	svc.RegisterHandlers(mux, "/")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	close(release)
	tl.Stop()

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "RocketChat/Rocket.Chat#42")
	assert.Contains(t, body, "<code>/dionisio</code>")
	assert.Contains(t, body, "enabled")
	assert.Contains(t, body, "repository.owner.login")
}

func TestStatusPageWithoutPendingTasks(t *testing.T) {
	tl := startTestLoop(t)
	tl.Stop()

	svc := NewHTTPService(tl.EvLoop, "/dionisio")

	rec := httptest.NewRecorder()
	svc.HandlerStatusFunc(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no tasks pending")
	assert.Contains(t, rec.Body.String(), "disabled")
}
