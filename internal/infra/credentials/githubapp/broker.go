// Package githubapp implements the credential broker on top of GitHub App
// installation tokens: short-lived, scoped to a single repository, and
// restricted to read-only contents access.
package githubapp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/credentials"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

// Config identifies the GitHub App and installation this broker issues
// tokens for.
type Config struct {
	// AppID is the GitHub App identifier used as the JWT issuer claim.
	AppID string

	// InstallationID selects the installation whose tokens are minted.
	InstallationID int64

	// PrivateKeyPEM is the app's RSA signing key in PEM form.
	PrivateKeyPEM []byte

	// BaseURL overrides the GitHub API endpoint, for GitHub Enterprise or tests.
	BaseURL string
}

var _ credentials.Broker = (*Broker)(nil)

// Broker issues installation tokens narrowed to one repository with
// contents:read permission. Tokens are remembered by credential ID until
// revoked so revocation can authenticate as the token itself.
type Broker struct {
	cfg        Config
	signingKey *rsa.PrivateKey
	httpClient *http.Client
	// limiter keeps token traffic inside the GitHub Apps API budget.
	limiter *common.RateLimiter
	clock   scanning.TimeProvider

	mu     sync.Mutex
	issued map[uuid.UUID]string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBroker constructs a GitHub App credential broker.
func NewBroker(cfg Config, clock scanning.TimeProvider, log *logger.Logger, tracer trace.Tracer) (*Broker, error) {
	key, err := parsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing app private key: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &Broker{
		cfg:        cfg,
		signingKey: key,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    common.NewRateLimiter(10, 20),
		clock:      clock,
		issued:     make(map[uuid.UUID]string),
		logger:     log.With("component", "githubapp_broker"),
		tracer:     tracer,
	}, nil
}

// Issue mints an installation token scoped to the single repository in the
// URL, clamped to the platform TTL ceiling. The token value appears only in
// the returned credential, never in logs or traces.
func (b *Broker) Issue(ctx context.Context, scanID uuid.UUID, repository string, ttl time.Duration) (*credentials.Credential, error) {
	ctx, span := b.tracer.Start(ctx, "githubapp.issue_credential",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.String("repository", repository),
		),
	)
	defer span.End()

	if ttl <= 0 || ttl > credentials.MaxTTL {
		ttl = credentials.MaxTTL
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", credentials.ErrIssueFailed, err)
	}

	repoName, err := repositoryName(repository)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", credentials.ErrIssueFailed, err)
	}

	appJWT, err := b.signAppJWT()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: signing app JWT: %w", credentials.ErrIssueFailed, err)
	}

	reqBody, err := json.Marshal(map[string]any{
		"repositories": []string{repoName},
		"permissions":  map[string]string{"contents": "read"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credentials.ErrIssueFailed, err)
	}

	endpoint := fmt.Sprintf("%s/app/installations/%d/access_tokens", b.cfg.BaseURL, b.cfg.InstallationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credentials.ErrIssueFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", credentials.ErrIssueFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%w: unexpected status %d: %s", credentials.ErrIssueFailed, resp.StatusCode, body)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request rejected")
		return nil, err
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: decoding token response: %w", credentials.ErrIssueFailed, err)
	}

	cred := credentials.New(scanID, repository, tokenResp.Token, b.clock.Now(), ttl)

	b.mu.Lock()
	b.issued[cred.ID()] = tokenResp.Token
	b.mu.Unlock()

	span.SetAttributes(attribute.String("credential_id", cred.ID().String()))
	b.logger.Info(ctx, "Issued scoped credential",
		"scan_id", scanID, "credential_id", cred.ID(), "expires_at", cred.ExpiresAt())
	return cred, nil
}

// Revoke invalidates the installation token upstream. Idempotent: revoking an
// unknown or already-revoked credential succeeds.
func (b *Broker) Revoke(ctx context.Context, credentialID uuid.UUID) error {
	ctx, span := b.tracer.Start(ctx, "githubapp.revoke_credential",
		trace.WithAttributes(attribute.String("credential_id", credentialID.String())),
	)
	defer span.End()

	b.mu.Lock()
	token, ok := b.issued[credentialID]
	b.mu.Unlock()
	if !ok {
		span.AddEvent("credential_unknown_or_revoked")
		return nil
	}

	endpoint := b.cfg.BaseURL + "/installation/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoking credential: %w", err)
	}
	defer resp.Body.Close()

	// 401 means the token already expired or was revoked; both satisfy revocation.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusUnauthorized {
		err := fmt.Errorf("revoking credential: unexpected status %d", resp.StatusCode)
		span.RecordError(err)
		return err
	}

	b.mu.Lock()
	delete(b.issued, credentialID)
	b.mu.Unlock()

	b.logger.Info(ctx, "Revoked credential", "credential_id", credentialID)
	return nil
}

// signAppJWT builds the RS256-signed app JWT GitHub requires for
// installation-token requests. The issued-at claim is backdated a minute to
// absorb clock skew.
func (b *Broker) signAppJWT() (string, error) {
	now := b.clock.Now()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]any{
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": b.cfg.AppID,
	})
	if err != nil {
		return "", err
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, b.signingKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// repositoryName extracts the "name" part of an owner/name repository URL.
func repositoryName(repository string) (string, error) {
	u, err := url.Parse(repository)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL: %w", err)
	}
	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("repository URL %q has no owner/name path", repository)
	}
	return parts[len(parts)-1], nil
}
