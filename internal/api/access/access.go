// Package access implements the session bridge: the two endpoints that turn a
// credential a reader holds (an emailed tokenized link or a typed access code)
// into an HttpOnly session cookie. The token itself never appears in a
// response body — it travels inbound in the URL or form and outbound only in
// the Set-Cookie header, so nothing the document page can inspect carries it.
package access

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/qalampress/bookvault/internal/codes"
	"github.com/qalampress/bookvault/internal/config"
	"github.com/qalampress/bookvault/internal/telemetry"
	"github.com/qalampress/bookvault/internal/token"
)

// Handler serves the access bridge endpoints.
type Handler struct {
	cfg *config.Config

	// verifier checks inbound link tokens (issued with linkTTL).
	verifier *token.Issuer
	// sessionIssuer re-issues the verified claims with the session's own TTL
	// so the cookie never carries a credential that outlives it.
	sessionIssuer *token.Issuer

	registry *codes.Registry
}

// NewHandler creates the bridge handler. Both issuers share the signing
// secret; they differ only in the TTL they stamp into new tokens.
func NewHandler(cfg *config.Config, registry *codes.Registry) *Handler {
	return &Handler{
		cfg:           cfg,
		verifier:      token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.LinkTTL),
		sessionIssuer: token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.SessionTTL),
		registry:      registry,
	}
}

// OpenLink handles GET /access?token=<signed>.
//
// A valid token is exchanged for a fresh session-scoped token set as a cookie,
// followed by a redirect to the protected page. Every failure redirects to the
// renew page with an error marker the frontend turns into a "request new
// access" prompt; no failure detail beyond missing vs. invalid is exposed.
func (h *Handler) OpenLink(c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		h.redirectRenew(c, "missing_token")
		return
	}

	claims, err := h.verifier.Verify(raw)
	if err != nil {
		telemetry.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
		h.redirectRenew(c, "invalid_token")
		return
	}
	telemetry.TokenVerificationsTotal.WithLabelValues("ok").Inc()

	sessionToken, err := h.sessionIssuer.Issue(claims.Email, claims.ResourceID)
	if err != nil {
		slog.Error("failed to issue session token", "error", err)
		h.redirectRenew(c, "invalid_token")
		return
	}

	h.setSessionCookie(c, sessionToken)

	// Preserve the reader's locale across the redirect; the protected page
	// renders in it.
	target := h.cfg.Access.ProtectedPath
	if locale := c.Query("locale"); locale != "" {
		target += "?locale=" + url.QueryEscape(locale)
	}
	c.Redirect(http.StatusFound, target)
}

type verifyCodeRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// VerifyCode handles POST /verify-code.
//
// On success the session cookie is set and {"success": true} returned; the
// frontend then navigates to the protected page itself. Every redemption
// failure maps to the same {"error": "invalid"} body so the form cannot be
// used to probe whether the email or the code was wrong.
func (h *Handler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid"})
		return
	}

	sessionToken, err := h.registry.Redeem(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, codes.ErrInvalidCode) {
			telemetry.CodeRedemptionsTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid"})
			return
		}
		slog.Error("code redemption failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	telemetry.CodeRedemptionsTotal.WithLabelValues("ok").Inc()

	// The redeemed token carries linkTTL; re-stamp it with the session TTL so
	// the cookie credential matches the cookie lifetime.
	claims, err := h.verifier.Verify(sessionToken)
	if err == nil {
		if reissued, issueErr := h.sessionIssuer.Issue(claims.Email, claims.ResourceID); issueErr == nil {
			sessionToken = reissued
		}
	}

	h.setSessionCookie(c, sessionToken)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logout handles POST /logout by expiring the session cookie.
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Access.CookieName, "", -1, "/", "", h.cfg.Server.IsProduction(), true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// setSessionCookie installs the session token as an HttpOnly cookie. Secure is
// tied to the environment so local development over plain HTTP still works.
func (h *Handler) setSessionCookie(c *gin.Context, sessionToken string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cfg.Access.CookieName,
		sessionToken,
		int(h.cfg.Access.SessionTTL.Seconds()),
		"/",
		"",
		h.cfg.Server.IsProduction(),
		true,
	)
}

func (h *Handler) redirectRenew(c *gin.Context, marker string) {
	c.Redirect(http.StatusFound, h.cfg.Access.RenewPath+"?error="+url.QueryEscape(marker))
}
