// Package admin implements the administrative API: issuing access codes,
// emailing tokenized access links, and reviewing the access log. Every route
// in this group sits behind the bearer-key middleware; the handlers assume an
// authenticated caller.
package admin

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qalampress/bookvault/internal/codes"
	"github.com/qalampress/bookvault/internal/config"
	"github.com/qalampress/bookvault/internal/db/models"
	"github.com/qalampress/bookvault/internal/db/repositories"
	"github.com/qalampress/bookvault/internal/mailer"
	"github.com/qalampress/bookvault/internal/safego"
	"github.com/qalampress/bookvault/internal/telemetry"
	"github.com/qalampress/bookvault/internal/token"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler serves the administrative endpoints.
type Handler struct {
	cfg      *config.Config
	registry *codes.Registry
	codeRepo *repositories.AccessCodeRepository
	logRepo  *repositories.AccessLogRepository
	issuer   *token.Issuer
	mail     *mailer.Mailer
}

// NewHandler creates the admin handler. mail may be nil when outbound email
// is not configured; the send-link endpoint then reports the link instead of
// sending it.
func NewHandler(cfg *config.Config, registry *codes.Registry, codeRepo *repositories.AccessCodeRepository, logRepo *repositories.AccessLogRepository, mail *mailer.Mailer) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		codeRepo: codeRepo,
		logRepo:  logRepo,
		issuer:   token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.LinkTTL),
		mail:     mail,
	}
}

type createCodeRequest struct {
	// ValidityDays defaults to the registry's standard window when omitted.
	ValidityDays int `json:"validity_days"`
	// Email binds the code to one address. Omitted means a classroom code any
	// address may redeem.
	Email *string `json:"email"`
	// ResourceID defaults to the catalog-wide resource when omitted.
	ResourceID string `json:"resource_id"`
}

type codeResponse struct {
	ID           string     `json:"id"`
	Code         string     `json:"code,omitempty"`
	Email        *string    `json:"email"`
	ResourceID   string     `json:"resource_id"`
	ValidityDays int        `json:"validity_days"`
	Used         bool       `json:"used"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CreateCode handles POST /admin/codes. The response is the only place the
// raw code ever appears; afterwards administrators can re-display it via the
// list endpoint, which decrypts the stored display copy.
func (h *Handler) CreateCode(c *gin.Context) {
	var req createCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ValidityDays < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validity_days must not be negative"})
		return
	}

	raw, code, err := h.registry.Generate(c.Request.Context(), req.ValidityDays, req.Email, req.ResourceID)
	if err != nil {
		slog.Error("failed to generate access code", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate access code"})
		return
	}

	c.JSON(http.StatusCreated, toCodeResponse(code, raw))
}

// ListCodes handles GET /admin/codes?limit=&offset=. Stored display copies
// are decrypted so an administrator can read a code back to a customer.
func (h *Handler) ListCodes(c *gin.Context) {
	limit, offset := pagination(c)

	list, err := h.codeRepo.ListAccessCodes(c.Request.Context(), limit, offset)
	if err != nil {
		slog.Error("failed to list access codes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list access codes"})
		return
	}

	out := make([]codeResponse, 0, len(list))
	for _, code := range list {
		out = append(out, toCodeResponse(code, h.registry.Reveal(code)))
	}
	c.JSON(http.StatusOK, gin.H{"codes": out, "limit": limit, "offset": offset})
}

// ListLogs handles GET /admin/logs?email=&limit=&offset=.
func (h *Handler) ListLogs(c *gin.Context) {
	limit, offset := pagination(c)

	entries, err := h.logRepo.ListAccessLogs(c.Request.Context(), c.Query("email"), limit, offset)
	if err != nil {
		slog.Error("failed to list access logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list access logs"})
		return
	}
	if entries == nil {
		entries = []*models.AccessLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "limit": limit, "offset": offset})
}

type sendLinkRequest struct {
	Email      string `json:"email" binding:"required,email"`
	ResourceID string `json:"resource_id"`
}

// SendLink handles POST /admin/send-link: issues a fresh time-limited token
// for the given reader and emails them the access link. The signed token is
// never included in the response; the emailed link is its only copy.
func (h *Handler) SendLink(c *gin.Context) {
	var req sendLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
		return
	}
	resourceID := req.ResourceID
	if resourceID == "" {
		resourceID = h.cfg.Access.DefaultResource
	}

	signed, err := h.issuer.Issue(req.Email, resourceID)
	if err != nil {
		slog.Error("failed to issue access token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue access link"})
		return
	}

	if h.mail == nil || !h.mail.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbound email is not configured"})
		return
	}

	email := req.Email
	linkTTL := h.cfg.Access.LinkTTL
	safego.Go(func() {
		if err := h.mail.SendAccessLink(email, signed, linkTTL); err != nil {
			slog.Error("failed to send access link email", "error", err)
			return
		}
		telemetry.AccessLinkEmailsSentTotal.Inc()
	})

	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"email":       req.Email,
		"resource_id": resourceID,
		"expires_in":  linkTTL.String(),
	})
}

func toCodeResponse(code *models.AccessCode, raw string) codeResponse {
	return codeResponse{
		ID:           code.ID,
		Code:         raw,
		Email:        code.Email,
		ResourceID:   code.ResourceID,
		ValidityDays: code.ValidityDays,
		Used:         code.Used,
		ExpiresAt:    code.ExpiresAt,
		RedeemedAt:   code.RedeemedAt,
		CreatedAt:    code.CreatedAt,
	}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
