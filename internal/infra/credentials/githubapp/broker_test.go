package githubapp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scanforge/internal/domain/credentials"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

type stubClock struct{ now time.Time }

func (s *stubClock) Now() time.Time { return s.now }

func testPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// githubStub records token issuance and revocation requests.
type githubStub struct {
	mu          sync.Mutex
	issueBody   map[string]any
	issueAuth   string
	revokeAuth  string
	issueStatus int
}

func (g *githubStub) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.issueAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&g.issueBody))
		status := g.issueStatus
		g.mu.Unlock()

		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		if status == http.StatusCreated {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "ghs_issued_token"})
		}
	})
	mux.HandleFunc("DELETE /installation/token", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.revokeAuth = r.Header.Get("Authorization")
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestBroker(t *testing.T, baseURL string) (*Broker, *stubClock) {
	t.Helper()
	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	broker, err := NewBroker(Config{
		AppID:          "12345",
		InstallationID: 42,
		PrivateKeyPEM:  testPrivateKeyPEM(t),
		BaseURL:        baseURL,
	}, clock, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return broker, clock
}

func TestBroker_Issue(t *testing.T) {
	t.Parallel()

	stub := &githubStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	broker, clock := newTestBroker(t, srv.URL)
	scanID := uuid.New()

	cred, err := broker.Issue(context.Background(), scanID, "https://github.com/acme/widgets.git", 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, scanID, cred.ScanID())
	assert.Equal(t, "ghs_issued_token", cred.Token())
	assert.Equal(t, credentials.ScopeRepositoryReadOnly, cred.Scope())
	assert.Equal(t, clock.now.Add(10*time.Minute), cred.ExpiresAt())

	// The token request narrows to the single repository with read-only
	// contents access.
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []any{"widgets"}, stub.issueBody["repositories"])
	assert.Equal(t, map[string]any{"contents": "read"}, stub.issueBody["permissions"])
	assert.True(t, strings.HasPrefix(stub.issueAuth, "Bearer "), "issuance authenticates with the app JWT")
	assert.Equal(t, 3, len(strings.Split(strings.TrimPrefix(stub.issueAuth, "Bearer "), ".")), "app JWT is a three-part token")
}

func TestBroker_Issue_ClampsTTL(t *testing.T) {
	t.Parallel()

	stub := &githubStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	broker, clock := newTestBroker(t, srv.URL)
	cred, err := broker.Issue(context.Background(), uuid.New(), "https://github.com/acme/widgets", 4*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(credentials.MaxTTL), cred.ExpiresAt())
}

func TestBroker_Issue_UpstreamRejection(t *testing.T) {
	t.Parallel()

	stub := &githubStub{issueStatus: http.StatusUnprocessableEntity}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	broker, _ := newTestBroker(t, srv.URL)
	_, err := broker.Issue(context.Background(), uuid.New(), "https://github.com/acme/widgets", time.Minute)
	assert.ErrorIs(t, err, credentials.ErrIssueFailed)
}

func TestBroker_Issue_RejectsRepositoryWithoutName(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker(t, "http://127.0.0.1:0")
	_, err := broker.Issue(context.Background(), uuid.New(), "https://github.com", time.Minute)
	assert.ErrorIs(t, err, credentials.ErrIssueFailed)
}

func TestBroker_Revoke(t *testing.T) {
	t.Parallel()

	stub := &githubStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	broker, _ := newTestBroker(t, srv.URL)
	cred, err := broker.Issue(context.Background(), uuid.New(), "https://github.com/acme/widgets", time.Minute)
	require.NoError(t, err)

	require.NoError(t, broker.Revoke(context.Background(), cred.ID()))

	// Revocation authenticates as the token being revoked.
	stub.mu.Lock()
	revokeAuth := stub.revokeAuth
	stub.mu.Unlock()
	assert.Equal(t, "token ghs_issued_token", revokeAuth)

	// A second revoke finds no tracked token and succeeds without a request.
	stub.mu.Lock()
	stub.revokeAuth = ""
	stub.mu.Unlock()
	require.NoError(t, broker.Revoke(context.Background(), cred.ID()))
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Empty(t, stub.revokeAuth)
}

func TestBroker_Revoke_UnknownCredential(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker(t, "http://127.0.0.1:0")
	assert.NoError(t, broker.Revoke(context.Background(), uuid.New()))
}

func TestNewBroker_RejectsBadKey(t *testing.T) {
	t.Parallel()

	_, err := NewBroker(Config{
		AppID:          "12345",
		InstallationID: 42,
		PrivateKeyPEM:  []byte("not a key"),
	}, &stubClock{now: time.Now()}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}
