package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"friendclub/internal/atproto"
	"friendclub/internal/domain"

	"github.com/google/uuid"
)

// IdentityResolver locates the DID and data server behind a login identifier.
type IdentityResolver interface {
	ResolveHandleToDID(ctx context.Context, handle string) (string, error)
	ResolvePDS(ctx context.Context, did string) (string, error)
}

// Connector opens an authenticated repository client on pdsURL. It returns
// the client and the account's handle.
type Connector func(ctx context.Context, pdsURL, identifier, password string) (domain.RepoClient, string, error)

// Sweeper removes an identity's own expired records after login.
type Sweeper interface {
	SweepIdentity(ctx context.Context, client domain.RepoClient) (int, error)
}

// TokenGenerator mints CSRF tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// ATProtoConnector logs in with an app password via createSession.
func ATProtoConnector(httpClient *http.Client) Connector {
	return func(ctx context.Context, pdsURL, identifier, password string) (domain.RepoClient, string, error) {
		creds, err := atproto.CreateSession(ctx, httpClient, pdsURL, identifier, password)
		if err != nil {
			return nil, "", err
		}
		return atproto.NewClient(pdsURL, *creds, httpClient), creds.Handle, nil
	}
}

type AuthService struct {
	sessions domain.SessionRepository
	resolver IdentityResolver
	connect  Connector
	tokens   TokenGenerator
	sweeper  Sweeper
	now      func() time.Time
}

func NewAuthService(sessions domain.SessionRepository, resolver IdentityResolver, connect Connector, tokens TokenGenerator, sweeper Sweeper) *AuthService {
	return &AuthService{
		sessions: sessions,
		resolver: resolver,
		connect:  connect,
		tokens:   tokens,
		sweeper:  sweeper,
		now:      time.Now,
	}
}

// Login authenticates against the identity's own data server and registers
// a session. The identity's expired records are swept before returning.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*domain.Session, error) {
	identifier = strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if identifier == "" || password == "" {
		return nil, domain.ErrInvalidInput
	}

	did, err := s.resolver.ResolveHandleToDID(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}
	pds, err := s.resolver.ResolvePDS(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data server: %w", err)
	}

	client, handle, err := s.connect(ctx, pds, identifier, password)
	if err != nil {
		var xe *atproto.XRPCError
		if errors.As(err, &xe) && (xe.Status == http.StatusUnauthorized || xe.Name == "AuthenticationRequired") {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if client.DID() != did {
		return nil, fmt.Errorf("failed to create session: server returned %s for %s", client.DID(), did)
	}

	csrf, err := s.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate csrf token: %w", err)
	}

	if handle == "" && !strings.HasPrefix(identifier, "did:") {
		handle = identifier
	}
	sess := &domain.Session{
		ID:        uuid.NewString(),
		DID:       did,
		Handle:    handle,
		CSRFToken: csrf,
		CreatedAt: s.now(),
		Client:    client,
	}
	if err := s.sessions.Create(sess); err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("did", did),
		slog.String("handle", handle))

	if s.sweeper != nil {
		if _, err := s.sweeper.SweepIdentity(ctx, client); err != nil {
			slog.Warn("login sweep failed",
				slog.String("did", did),
				slog.String("error", err.Error()))
		}
	}

	return sess, nil
}

func (s *AuthService) Logout(sessionID string) error {
	return s.sessions.Delete(sessionID)
}

func (s *AuthService) ValidateSession(sessionID string) (*domain.Session, error) {
	return s.sessions.Get(sessionID)
}
