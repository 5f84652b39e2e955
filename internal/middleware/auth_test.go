package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/steveterryp/copov3/internal/auth"
	"github.com/steveterryp/copov3/internal/database/testutil"
	"github.com/steveterryp/copov3/internal/middleware"
	"github.com/steveterryp/copov3/internal/models"
)

type authFixture struct {
	db       *gorm.DB
	sessions *iauth.SessionService
	user     *models.User
	clock    *time.Time
	engine   *gin.Engine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	current := time.Now()
	clockPtr := &current
	clock := func() time.Time { return *clockPtr }

	tokens, err := iauth.NewTokenService(iauth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "copov-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Clock:         clock,
	})
	require.NoError(t, err)

	store, err := iauth.NewRefreshStore(db, clock)
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, tokens, store, clock)
	require.NoError(t, err)

	user := &models.User{Email: "user@example.com", Password: "x", Role: models.RoleUser, Status: models.UserActive}
	require.NoError(t, db.Create(user).Error)

	engine := gin.New()
	engine.Use(middleware.Auth(sessions, middleware.CookieOptions{}))
	engine.GET("/whoami", func(c *gin.Context) {
		current, ok := middleware.UserFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": current.ID, "role": current.Role})
	})

	return &authFixture{db: db, sessions: sessions, user: user, clock: clockPtr, engine: engine}
}

func (f *authFixture) issue(t *testing.T) iauth.TokenPair {
	t.Helper()
	pair, err := f.sessions.Issue(context.Background(), f.user, iauth.RefreshMetadata{})
	require.NoError(t, err)
	return pair
}

func TestAuthAcceptsBearerHeader(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.issue(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	res := httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), f.user.ID)
}

func TestAuthAcceptsAccessCookie(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.issue(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AccessCookieName, Value: pair.AccessToken})

	res := httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestAuthRejectsMissingAndGarbageTokens(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	res := httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, "Bearer", res.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res = httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestAuthRefreshesExpiredAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.issue(t)

	*f.clock = f.clock.Add(16 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AccessCookieName, Value: pair.AccessToken})
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: pair.RefreshToken})

	res := httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	// Both cookies are reissued on the refreshed response.
	cookies := res.Result().Cookies()
	names := make(map[string]string, len(cookies))
	for _, cookie := range cookies {
		names[cookie.Name] = cookie.Value
	}
	require.NotEmpty(t, names[middleware.AccessCookieName])
	require.Equal(t, pair.RefreshToken, names[middleware.RefreshCookieName])
}

func TestAuthExpiredAccessWithoutRefreshCookieFails(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.issue(t)

	*f.clock = f.clock.Add(16 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	res := httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestAuthExpiredAccessWithRevokedRefreshFails(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.issue(t)

	require.NoError(t, f.sessions.Revoke(context.Background(), pair.RefreshToken))
	*f.clock = f.clock.Add(16 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AccessCookieName, Value: pair.AccessToken})
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: pair.RefreshToken})

	res := httptest.NewRecorder()
	f.engine.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}
