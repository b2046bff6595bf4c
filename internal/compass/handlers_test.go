package compass

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-compass/internal/auth"
	"github.com/imadgeboyega/kiekky-compass/internal/common/utils"
)

const testSecret = "test-secret"

func newTestRouter(repo *fakeRepo) *mux.Router {
	router := mux.NewRouter()
	RegisterRoutes(router, NewHandler(newTestService(repo, nil)), nil, auth.NewMiddleware(testSecret))
	return router
}

func authedRequest(t *testing.T, method, path, body, uid string) *http.Request {
	t.Helper()

	token, err := utils.GenerateJWT(utils.NewAccessClaims(uid, uid, time.Hour), testSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_RequireAuth(t *testing.T) {
	router := newTestRouter(newFakeRepo(newProfile("me", ArchetypeCreator, "hiking")))

	for _, path := range []string{"/api/v1/compass/discover", "/api/v1/compass/tokens"} {
		rec := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compass/discover", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)
}

func TestHandlers_Discover(t *testing.T) {
	repo := newFakeRepo(
		newProfile("me", ArchetypeCreator, "hiking"),
		newProfile("a", ArchetypeExplorer, "hiking"),
	)
	router := newTestRouter(repo)

	rec := serve(router, authedRequest(t, http.MethodGet, "/api/v1/compass/discover", "", "me"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DiscoverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "a", resp.Matches[0].Profile.UID)

	long := "/api/v1/compass/discover?interest=" + strings.Repeat("x", 65)
	rec = serve(router, authedRequest(t, http.MethodGet, long, "", "me"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_DiscoverHidesInternalErrors(t *testing.T) {
	repo := newFakeRepo(newProfile("me", ArchetypeCreator, "hiking"))
	repo.queryErr = errStoreDown
	router := newTestRouter(repo)

	rec := serve(router, authedRequest(t, http.MethodGet, "/api/v1/compass/discover", "", "me"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestHandlers_LogSwipe(t *testing.T) {
	broke := newProfile("broke", ArchetypeCreator, "hiking")
	broke.Compass.ConnectionTokens.Count = 0
	repo := newFakeRepo(
		newProfile("me", ArchetypeCreator, "hiking"),
		broke,
		newProfile("t", ArchetypeOrganizer, "chess"),
	)
	router := newTestRouter(repo)

	t.Run("connect", func(t *testing.T) {
		rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/swipes", `{"target_id":"t","action":"connect"}`, "me"))
		require.Equal(t, http.StatusOK, rec.Code)

		var result SwipeResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, MaxTokens-1, result.RemainingTokens)
	})

	t.Run("requires tokens", func(t *testing.T) {
		rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/swipes", `{"target_id":"t","action":"connect"}`, "broke"))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.JSONEq(t, `{"error":"requiresTokens"}`, rec.Body.String())
	})

	t.Run("invalid action", func(t *testing.T) {
		rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/swipes", `{"target_id":"t","action":"superlike"}`, "me"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/swipes", `{`, "me"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown target", func(t *testing.T) {
		rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/swipes", `{"target_id":"ghost","action":"skip"}`, "me"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandlers_RecordShown(t *testing.T) {
	repo := newFakeRepo(newProfile("me", ArchetypeCreator, "hiking"))
	router := newTestRouter(repo)

	rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/seen", `{"profile_ids":["a","b"]}`, "me"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, repo.get("me").Compass.SeenProfileIDs, 2)

	rec = serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/seen", `{"profile_ids":[]}`, "me"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_TokensAndOnboarding(t *testing.T) {
	repo := newFakeRepo(newProfile("me", ArchetypeCreator, "hiking"), newProfile("new", ArchetypeCreator))
	router := newTestRouter(repo)

	rec := serve(router, authedRequest(t, http.MethodGet, "/api/v1/compass/tokens", "", "me"))
	require.Equal(t, http.StatusOK, rec.Code)
	var tokens TokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, MaxTokens, tokens.Count)
	assert.Equal(t, MaxTokens, tokens.Max)

	rec = serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/onboarding/complete", "", "me"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"initialized":true}`, rec.Body.String())

	rec = serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/onboarding/complete", "", "new"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_OnboardingRejectsInvalidDNA(t *testing.T) {
	me := newProfile("me", ArchetypeCreator, "hiking")
	me.DNA.SocialTempo = "crowd"
	router := newTestRouter(newFakeRepo(me))

	rec := serve(router, authedRequest(t, http.MethodPost, "/api/v1/compass/onboarding/complete", "", "me"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
