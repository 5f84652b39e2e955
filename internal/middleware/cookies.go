package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/steveterryp/copov3/internal/auth"
)

const (
	// AccessCookieName stores the short-lived access token.
	AccessCookieName = "access_token"
	// RefreshCookieName stores the long-lived refresh token.
	RefreshCookieName = "refresh_token"
)

// CookieOptions controls how session cookies are written.
type CookieOptions struct {
	Domain string
	Secure bool
}

// SetAuthCookies writes both credentials as HTTP-only SameSite=Lax cookies.
// Max-age follows each token's lifetime.
func SetAuthCookies(c *gin.Context, pair iauth.TokenPair, accessTTL, refreshTTL time.Duration, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookieName, pair.AccessToken, int(accessTTL.Seconds()), "/", opts.Domain, opts.Secure, true)
	c.SetCookie(RefreshCookieName, pair.RefreshToken, int(refreshTTL.Seconds()), "/", opts.Domain, opts.Secure, true)
}

// ClearAuthCookies expires both session cookies.
func ClearAuthCookies(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookieName, "", -1, "/", opts.Domain, opts.Secure, true)
	c.SetCookie(RefreshCookieName, "", -1, "/", opts.Domain, opts.Secure, true)
}
