// Package documents implements the protected document proxy. The PDF bytes
// live in a private storage backend the browser can never reach directly; the
// proxy re-verifies the caller's credential on every request, streams the
// bytes through, and answers with headers that keep every intermediate cache
// from retaining a copy tied to one identity.
//
// The endpoint deliberately answers in plain text on failure rather than
// redirecting: it is fetched by the browser's PDF viewer, not navigated to,
// and a redirect would be invisible inside an <object> element.
package documents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qalampress/bookvault/internal/codes"
	"github.com/qalampress/bookvault/internal/config"
	"github.com/qalampress/bookvault/internal/db/models"
	"github.com/qalampress/bookvault/internal/db/repositories"
	"github.com/qalampress/bookvault/internal/safego"
	"github.com/qalampress/bookvault/internal/storage"
	"github.com/qalampress/bookvault/internal/telemetry"
	"github.com/qalampress/bookvault/internal/token"
	"github.com/qalampress/bookvault/internal/watermark"
)

// Handler streams protected documents to credentialed readers.
type Handler struct {
	cfg      *config.Config
	verifier *token.Issuer
	registry *codes.Registry
	backend  storage.Backend
	logs     *repositories.AccessLogRepository
	stamper  watermark.Decorator
}

// NewHandler creates the document proxy handler.
func NewHandler(cfg *config.Config, registry *codes.Registry, backend storage.Backend, logs *repositories.AccessLogRepository, stamper watermark.Decorator) *Handler {
	if stamper == nil {
		stamper = watermark.Noop{}
	}
	return &Handler{
		cfg:      cfg,
		verifier: token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.LinkTTL),
		registry: registry,
		backend:  backend,
		logs:     logs,
		stamper:  stamper,
	}
}

// identity is the resolved credential a request presented.
type identity struct {
	email      string
	resourceID string
	authMethod string
}

// Serve handles GET <protected_path>/*token and GET <protected_path>?code=...
//
// Credential resolution order: session cookie, then path token, then access
// code. Token checks are pure signature verification (no storage hit), so they
// go first; only a code forces a registry lookup. Status codes: 401 when no
// credential was presented at all (prompts the client to re-authenticate),
// 403 when a credential was presented but failed verification, 404 for an
// unknown resource, 500 when the storage backend fails.
func (h *Handler) Serve(c *gin.Context) {
	ident, status := h.resolveIdentity(c)
	if ident == nil {
		switch status {
		case http.StatusUnauthorized:
			c.String(http.StatusUnauthorized, "access credential required")
		case http.StatusInternalServerError:
			c.String(http.StatusInternalServerError, "internal error")
		default:
			c.String(http.StatusForbidden, "invalid or expired access credential")
		}
		return
	}

	docPath, ok := h.resolveDocument(ident.resourceID)
	if !ok {
		c.String(http.StatusNotFound, "document not found")
		return
	}

	fetchCtx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Access.FetchTimeout)
	defer cancel()

	reader, err := h.backend.Open(fetchCtx, docPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.String(http.StatusNotFound, "document not found")
			return
		}
		slog.Error("document fetch failed", "resource", ident.resourceID, "error", err)
		c.String(http.StatusInternalServerError, "document temporarily unavailable")
		return
	}
	defer func() { reader.Close() }()

	var body io.Reader = reader
	if h.cfg.Access.WatermarkEnabled {
		stamped, err := h.stamper.Apply(fetchCtx, reader, ident.email)
		if err != nil {
			// Watermarking is a display concern; serve the original rather
			// than fail the request. The decorator may have consumed part of
			// the stream, so re-open before falling back.
			slog.Warn("watermark pass failed, serving original", "error", err)
			reader.Close()
			reader, err = h.backend.Open(fetchCtx, docPath)
			if err != nil {
				slog.Error("document refetch failed", "resource", ident.resourceID, "error", err)
				c.String(http.StatusInternalServerError, "document temporarily unavailable")
				return
			}
			body = reader
		} else {
			body = stamped
		}
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", "inline")
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, body); err != nil {
		// Reader navigated away mid-stream; nothing left to send them.
		slog.Debug("document stream aborted", "resource", ident.resourceID, "error", err)
		return
	}

	telemetry.DocumentDownloadsTotal.WithLabelValues(ident.resourceID, ident.authMethod).Inc()
	h.recordAccess(c, ident)
}

// resolveIdentity tries each credential channel in order. The returned status
// is meaningful only when identity is nil.
func (h *Handler) resolveIdentity(c *gin.Context) (*identity, int) {
	presented := false

	// 1. Session cookie.
	if cookie, err := c.Cookie(h.cfg.Access.CookieName); err == nil && cookie != "" {
		presented = true
		if claims, err := h.verifier.Verify(cookie); err == nil {
			telemetry.TokenVerificationsTotal.WithLabelValues("ok").Inc()
			return &identity{email: claims.Email, resourceID: claims.ResourceID, authMethod: models.AuthMethodSession}, 0
		}
		telemetry.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
	}

	// 2. Token embedded in the path (single-use deep links).
	if raw := strings.Trim(c.Param("token"), "/"); raw != "" {
		presented = true
		if claims, err := h.verifier.Verify(raw); err == nil {
			telemetry.TokenVerificationsTotal.WithLabelValues("ok").Inc()
			return &identity{email: claims.Email, resourceID: claims.ResourceID, authMethod: models.AuthMethodToken}, 0
		}
		telemetry.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
	}

	// 3. Access code, the only channel that costs a storage lookup.
	code := c.Query("code")
	if code == "" {
		code = c.GetHeader("X-Access-Code")
	}
	if code != "" {
		presented = true
		email := c.Query("email")
		signed, err := h.registry.Redeem(c.Request.Context(), email, code)
		if err != nil {
			if errors.Is(err, codes.ErrInvalidCode) {
				telemetry.CodeRedemptionsTotal.WithLabelValues("invalid").Inc()
				return nil, http.StatusForbidden
			}
			slog.Error("code redemption failed during document fetch", "error", err)
			return nil, http.StatusInternalServerError
		}
		telemetry.CodeRedemptionsTotal.WithLabelValues("ok").Inc()
		if claims, err := h.verifier.Verify(signed); err == nil {
			return &identity{email: claims.Email, resourceID: claims.ResourceID, authMethod: models.AuthMethodCode}, 0
		}
	}

	if !presented {
		return nil, http.StatusUnauthorized
	}
	return nil, http.StatusForbidden
}

// resolveDocument maps a resource handle from a credential onto a storage
// path. The handle is never a URL or a path the client controls; only entries
// in the configured document table can ever be fetched.
func (h *Handler) resolveDocument(resourceID string) (string, bool) {
	if path, ok := h.cfg.Access.Documents[resourceID]; ok && path != "" {
		return path, true
	}
	if resourceID == h.cfg.Access.DefaultResource && h.cfg.Access.DefaultDocument != "" {
		return h.cfg.Access.DefaultDocument, true
	}
	return "", false
}

// recordAccess writes the access log entry fire-and-forget: the reader already
// has their document, so a logging failure must never surface.
func (h *Handler) recordAccess(c *gin.Context, ident *identity) {
	if h.logs == nil {
		return
	}

	ip := c.ClientIP()
	ua := c.Request.UserAgent()
	entry := &models.AccessLog{
		Email:      ident.email,
		ResourceID: ident.resourceID,
		AuthMethod: ident.authMethod,
	}
	if ip != "" {
		entry.IPAddress = &ip
	}
	if ua != "" {
		entry.UserAgent = &ua
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.logs.CreateAccessLog(ctx, entry); err != nil {
			slog.Warn("failed to record access log", "resource", entry.ResourceID, "error", err)
		}
	})
}
