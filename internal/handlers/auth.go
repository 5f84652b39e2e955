package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/auth"
	"github.com/steveterryp/copov3/internal/middleware"
	"github.com/steveterryp/copov3/internal/services"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
	"github.com/steveterryp/copov3/pkg/metrics"
	"github.com/steveterryp/copov3/pkg/response"
)

// AuthHandler serves login, refresh, logout and identity endpoints.
type AuthHandler struct {
	users    *services.UserService
	sessions *auth.SessionService
	audit    *services.AuditService
	cookies  middleware.CookieOptions
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users *services.UserService, sessions *auth.SessionService, audit *services.AuditService, cookies middleware.CookieOptions) (*AuthHandler, error) {
	if users == nil {
		return nil, errors.New("auth handler: user service is required")
	}
	if sessions == nil {
		return nil, errors.New("auth handler: session service is required")
	}
	return &AuthHandler{users: users, sessions: sessions, audit: audit, cookies: cookies}, nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	User         userInfo `json:"user"`
}

type userInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// Login verifies credentials, issues a token pair and sets session cookies.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		if h.audit != nil {
			h.audit.TrackActivity(c.Request.Context(), services.AuditEntry{
				Type:      services.AuditTypeActivity,
				Action:    "auth.login",
				Result:    "failure",
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
				Metadata:  map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))},
			})
		}
		if errors.Is(err, services.ErrAccountDisabled) || errors.Is(err, apperrors.ErrInvalidCredentials) {
			response.Error(c, apperrors.ErrInvalidCredentials)
			return
		}
		response.Error(c, err)
		return
	}

	pair, err := h.sessions.Issue(c.Request.Context(), user, auth.RefreshMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	if h.audit != nil {
		h.audit.TrackActivity(c.Request.Context(), services.AuditEntry{
			UserID:    user.ID,
			Type:      services.AuditTypeActivity,
			Action:    "auth.login",
			Result:    "success",
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
	}

	tokens := h.sessions.Tokens()
	middleware.SetAuthCookies(c, pair, tokens.AccessTTL(), tokens.RefreshTTL(), h.cookies)

	response.Success(c, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User: userInfo{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  string(user.Role),
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a valid refresh token for a new access token. The refresh
// token may arrive in the body or the refresh cookie. Any failure is a 401.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if cookie, err := c.Cookie(middleware.RefreshCookieName); err == nil {
			token = strings.TrimSpace(cookie)
		}
	}
	if token == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	pair, user, err := h.sessions.Refresh(c.Request.Context(), token)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	tokens := h.sessions.Tokens()
	middleware.SetAuthCookies(c, pair, tokens.AccessTTL(), tokens.RefreshTTL(), h.cookies)

	response.Success(c, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User: userInfo{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  string(user.Role),
		},
	})
}

// Logout revokes the presented refresh token and clears session cookies.
func (h *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(middleware.RefreshCookieName); err == nil {
		if token := strings.TrimSpace(cookie); token != "" {
			_ = h.sessions.Revoke(c.Request.Context(), token)
		}
	}

	middleware.ClearAuthCookies(c, h.cookies)

	if user, ok := middleware.UserFromContext(c); ok && h.audit != nil {
		h.audit.TrackActivity(c.Request.Context(), services.AuditEntry{
			UserID:    user.ID,
			Type:      services.AuditTypeActivity,
			Action:    "auth.logout",
			Result:    "success",
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
	}

	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// Me returns the authenticated identity.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, userInfo{
		ID:    user.ID,
		Email: user.Email,
		Role:  string(user.Role),
	})
}
