package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/router"
)

// BackendRegistry is the slice of the router this service needs.
type BackendRegistry interface {
	Resolve(sourceID string) (*router.Backend, error)
	DefaultSource() string
	LoginTargets() []router.Target
}

// CredentialWriter records the credential pair for later re-login by
// the payment registration path.
type CredentialWriter interface {
	Upsert(ctx context.Context, userID, source, catUsername, catPassword string) error
}

type Service struct {
	registry    BackendRegistry
	sessions    *ils.SessionManager
	credentials CredentialWriter
	jwt         *JWTManager
	sessionTTL  time.Duration
}

type Session struct {
	Token    string
	UserID   string
	Source   string
	PatronID string
	Patron   *ils.Patron
}

func NewService(registry BackendRegistry, sessions *ils.SessionManager, credentials CredentialWriter, jwt *JWTManager, sessionTTL time.Duration) *Service {
	return &Service{
		registry:    registry,
		sessions:    sessions,
		credentials: credentials,
		jwt:         jwt,
		sessionTTL:  sessionTTL,
	}
}

// Login authenticates a patron against the selected backend. An empty
// source falls back to the default login target; that fallback is only
// acceptable here, never for record-bearing operations.
func (s *Service) Login(ctx context.Context, source, username, password string) (*Session, error) {
	if source == "" {
		source = s.registry.DefaultSource()
	}
	backend, err := s.registry.Resolve(source)
	if err != nil {
		return nil, err
	}
	if !backend.Driver.SupportsLogin() {
		return nil, ils.ConfigurationError("source " + source + " does not support patron login")
	}

	patron, err := s.sessions.Login(ctx, backend.Driver, username, password)
	if err != nil {
		return nil, err
	}

	// The web user id is stable per (source, patron) pair so repeated
	// logins keep pointing payment transactions at the same record.
	userID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(source+"|"+username)).String()
	if err := s.credentials.Upsert(ctx, userID, source, username, password); err != nil {
		return nil, err
	}

	token, err := s.jwt.Mint(userID, source, username, patron.ID, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:    token,
		UserID:   userID,
		Source:   source,
		PatronID: patron.ID,
		Patron:   patron,
	}, nil
}

func (s *Service) LoginTargets() []router.Target {
	return s.registry.LoginTargets()
}
