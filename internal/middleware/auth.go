package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/auditctx"
	iauth "github.com/steveterryp/copov3/internal/auth"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/pkg/errors"
	"github.com/steveterryp/copov3/pkg/response"
)

const CtxClaimsKey = "authClaims"

// CurrentUser is the authenticated identity injected into the request context.
type CurrentUser struct {
	ID    string
	Email string
	Role  models.Role
}

// Model adapts the identity for the permission evaluator.
func (u CurrentUser) Model() *models.User {
	return &models.User{ID: u.ID, Email: u.Email, Role: u.Role}
}

// UserFromContext extracts the authenticated identity set by Auth.
func UserFromContext(c *gin.Context) (CurrentUser, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return CurrentUser{}, false
	}
	claims, ok := v.(*iauth.Claims)
	if !ok {
		return CurrentUser{}, false
	}
	return CurrentUser{ID: claims.UserID, Email: claims.Email, Role: claims.Role}, true
}

// Auth enforces JWT authentication. The access token is read from the bearer
// header or the access cookie; an expired access token is refreshed
// synchronously when a valid refresh cookie is present, with both cookies
// reissued before the handler runs.
func Auth(sessions *iauth.SessionService, cookies CookieOptions) gin.HandlerFunc {
	tokens := sessions.Tokens()

	return func(c *gin.Context) {
		token := extractAccessToken(c)
		if token == "" {
			unauthorized(c)
			return
		}

		claims, err := tokens.VerifyAccessToken(token)
		if err != nil {
			if !iauth.IsExpired(err) {
				unauthorized(c)
				return
			}

			refreshed, ok := tryRefresh(c, sessions, cookies)
			if !ok {
				unauthorized(c)
				return
			}
			claims = refreshed
		}

		c.Set(CtxClaimsKey, claims)

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			UserID:    claims.UserID,
			Email:     claims.Email,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// tryRefresh performs the synchronous refresh round-trip. The middleware
// blocks until the refresh completes; there is no background refresh.
func tryRefresh(c *gin.Context, sessions *iauth.SessionService, cookies CookieOptions) (*iauth.Claims, bool) {
	refreshToken, err := c.Cookie(RefreshCookieName)
	if err != nil || strings.TrimSpace(refreshToken) == "" {
		return nil, false
	}

	pair, _, err := sessions.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		return nil, false
	}

	claims, err := sessions.Tokens().VerifyAccessToken(pair.AccessToken)
	if err != nil {
		return nil, false
	}

	tokens := sessions.Tokens()
	SetAuthCookies(c, pair, tokens.AccessTTL(), tokens.RefreshTTL(), cookies)

	return claims, true
}

func extractAccessToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}

	cookie, err := c.Cookie(AccessCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie)
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}
