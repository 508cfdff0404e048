package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/qalampress/bookvault/internal/codes"
	"github.com/qalampress/bookvault/internal/config"
	"github.com/qalampress/bookvault/internal/crypto"
	"github.com/qalampress/bookvault/internal/db/models"
	"github.com/qalampress/bookvault/internal/db/repositories"
	"github.com/qalampress/bookvault/internal/storage"
	"github.com/qalampress/bookvault/internal/token"
)

const (
	testSecret = "unit-test-signing-secret-at-least-32ch"
	pdfBody    = "%PDF-1.7 test document body"
)

type fakeBackend struct {
	docs    map[string][]byte
	openErr error
}

func (b *fakeBackend) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	data, ok := b.docs[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBackend) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.docs[path]
	return ok, nil
}

func (b *fakeBackend) Stat(_ context.Context, path string) (*storage.DocumentInfo, error) {
	data, ok := b.docs[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.DocumentInfo{Path: path, Size: int64(len(data))}, nil
}

type fakeCodeStore struct {
	codes map[string]*models.AccessCode
}

func (s *fakeCodeStore) CreateAccessCode(_ context.Context, code *models.AccessCode) error {
	if s.codes == nil {
		s.codes = make(map[string]*models.AccessCode)
	}
	s.codes[code.CodeHash] = code
	return nil
}

func (s *fakeCodeStore) FindRedeemableCode(_ context.Context, email, codeHash string, now time.Time) (*models.AccessCode, error) {
	code, ok := s.codes[codeHash]
	if !ok || code.Used || code.Expired(now) {
		return nil, nil
	}
	if code.Email != nil && !strings.EqualFold(*code.Email, email) {
		return nil, nil
	}
	return code, nil
}

func (s *fakeCodeStore) MarkCodeUsed(_ context.Context, id string, at time.Time) (bool, error) {
	for _, code := range s.codes {
		if code.ID == id && !code.Used {
			code.Used = true
			code.RedeemedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Environment = "development"
	cfg.Security.SigningSecret = testSecret
	cfg.Access.LinkTTL = 10 * time.Minute
	cfg.Access.SessionTTL = 30 * time.Minute
	cfg.Access.CookieName = "book_session"
	cfg.Access.ProtectedPath = "/book"
	cfg.Access.RenewPath = "/access/renew"
	cfg.Access.DefaultResource = "private/all"
	cfg.Access.DefaultDocument = "private/book.pdf"
	cfg.Access.Documents = map[string]string{"book-1": "private/book-1.pdf"}
	cfg.Access.FetchTimeout = 30 * time.Second
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config, backend storage.Backend, store codes.Store, logs *repositories.AccessLogRepository) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.LinkTTL)
	registry := codes.NewRegistry(store, crypto.NewFieldCipher(""), issuer, cfg.Access.SingleUse, cfg.Access.DefaultResource)
	h := NewHandler(cfg, registry, backend, logs, nil)

	r := gin.New()
	r.GET("/book/*token", h.Serve)
	return r
}

func defaultBackend() *fakeBackend {
	return &fakeBackend{docs: map[string][]byte{
		"private/book.pdf":   []byte(pdfBody),
		"private/book-1.pdf": []byte(pdfBody),
	}}
}

func issueToken(t *testing.T, ttl time.Duration, email, resourceID string) string {
	t.Helper()
	signed, err := token.NewIssuer(testSecret, ttl).Issue(email, resourceID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return signed
}

func TestServe_SessionCookie(t *testing.T) {
	cfg := testConfig()
	r := newTestRouter(t, cfg, defaultBackend(), &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != pdfBody {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "inline" {
		t.Errorf("expected inline disposition, got %q", cd)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store, no-cache, must-revalidate" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
	if p := w.Header().Get("Pragma"); p != "no-cache" {
		t.Errorf("unexpected Pragma %q", p)
	}
}

func TestServe_PathToken(t *testing.T) {
	cfg := testConfig()
	r := newTestRouter(t, cfg, defaultBackend(), &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/"+issueToken(t, 10*time.Minute, "a@b.com", "book-1"), nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != pdfBody {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
}

func TestServe_NoCredential(t *testing.T) {
	r := newTestRouter(t, testConfig(), defaultBackend(), &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "%PDF") {
		t.Error("no document bytes may be served without a credential")
	}
}

func TestServe_ExpiredCookieToken(t *testing.T) {
	r := newTestRouter(t, testConfig(), defaultBackend(), &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, -time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "%PDF") {
		t.Error("no document bytes may be served for an expired credential")
	}
}

func TestServe_TamperedPathToken(t *testing.T) {
	r := newTestRouter(t, testConfig(), defaultBackend(), &fakeCodeStore{}, nil)

	signed, err := token.NewIssuer("a-completely-different-signing-key-32ch", 10*time.Minute).Issue("a@b.com", "book-1")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/"+signed, nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestServe_AccessCodeQuery(t *testing.T) {
	store := &fakeCodeStore{}
	email := "reader@example.com"
	sum := sha256.Sum256([]byte("ABCDEF123456"))
	_ = store.CreateAccessCode(context.Background(), &models.AccessCode{
		ID:         "code-1",
		Email:      &email,
		CodeHash:   hex.EncodeToString(sum[:]),
		ResourceID: "private/all",
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	})
	r := newTestRouter(t, testConfig(), defaultBackend(), store, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/?code=abcdef123456&email=reader@example.com", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != pdfBody {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
}

func TestServe_AccessCodeHeader(t *testing.T) {
	store := &fakeCodeStore{}
	sum := sha256.Sum256([]byte("ABCDEF123456"))
	_ = store.CreateAccessCode(context.Background(), &models.AccessCode{
		ID:         "code-1",
		CodeHash:   hex.EncodeToString(sum[:]),
		ResourceID: "private/all",
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	})
	r := newTestRouter(t, testConfig(), defaultBackend(), store, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/?email=reader@example.com", nil)
	req.Header.Set("X-Access-Code", "ABCDEF123456")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServe_InvalidAccessCode(t *testing.T) {
	r := newTestRouter(t, testConfig(), defaultBackend(), &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/?code=000000000000&email=x@y.com", nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestServe_UnknownResource(t *testing.T) {
	r := newTestRouter(t, testConfig(), defaultBackend(), &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "no-such-resource")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServe_MissingDocument(t *testing.T) {
	backend := &fakeBackend{docs: map[string][]byte{}}
	r := newTestRouter(t, testConfig(), backend, &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServe_BackendError(t *testing.T) {
	backend := defaultBackend()
	backend.openErr = io.ErrUnexpectedEOF
	r := newTestRouter(t, testConfig(), backend, &fakeCodeStore{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// failingStamper reads part of the document before giving up, the way a real
// decorator would fail midway through parsing.
type failingStamper struct{}

func (failingStamper) Apply(_ context.Context, doc io.Reader, _ string) (io.Reader, error) {
	var buf [4]byte
	_, _ = doc.Read(buf[:])
	return nil, io.ErrUnexpectedEOF
}

func TestServe_WatermarkFailureServesFullDocument(t *testing.T) {
	cfg := testConfig()
	cfg.Access.WatermarkEnabled = true

	gin.SetMode(gin.TestMode)
	issuer := token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.LinkTTL)
	registry := codes.NewRegistry(&fakeCodeStore{}, crypto.NewFieldCipher(""), issuer, false, cfg.Access.DefaultResource)
	h := NewHandler(cfg, registry, defaultBackend(), nil, failingStamper{})

	r := gin.New()
	r.GET("/book/*token", h.Serve)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// The fallback must serve the document from the start, not the remainder
	// the decorator left behind.
	if w.Body.String() != pdfBody {
		t.Errorf("truncated or altered document: %q", w.Body.String())
	}
}

func TestServe_CookiePreferredOverPathToken(t *testing.T) {
	cfg := testConfig()
	r := newTestRouter(t, cfg, defaultBackend(), &fakeCodeStore{}, nil)

	// Valid cookie plus an expired path token: the cookie wins, so the
	// request still succeeds.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/"+issueToken(t, -time.Minute, "a@b.com", "book-1"), nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServe_RecordsAccessLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectExec("INSERT INTO access_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	logs := repositories.NewAccessLogRepository(sqlx.NewDb(db, "postgres"))
	r := newTestRouter(t, testConfig(), defaultBackend(), &fakeCodeStore{}, logs)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/book/", nil)
	req.AddCookie(&http.Cookie{Name: "book_session", Value: issueToken(t, 30*time.Minute, "a@b.com", "private/all")})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// The log write is fire-and-forget on a goroutine; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("access log insert never happened: %v", mock.ExpectationsWereMet())
}
