package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"testline/internal/config"
	"testline/internal/domain"
	"testline/internal/engine/auth"
	"testline/internal/events"
	"testline/internal/export"
	"testline/internal/metrics"
	"testline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
		NewID:  func() string { return uuid.NewString() },
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// emit appends an audit event inside tx using the engine clock.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID string, scope domain.Scope, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, scope.UserID, payload)
}

// begin opens a transaction and makes sure the acting user has a row.
func (e Engine) begin(ctx context.Context, scope domain.Scope) (*sql.Tx, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := e.Auth.EnsureUser(ctx, tx, scope, e.stamp()); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return tx, nil
}

func (e Engine) calculator() metrics.Calculator {
	return metrics.Calculator{Log: e.log(), Now: e.now, TrendDays: e.cfg().Reports.TrendDays}
}

func (e Engine) exporter() export.Exporter {
	c := e.cfg()
	return export.Exporter{
		Log:               e.log(),
		TestCaseMaxWidth:  c.Export.TestCaseMaxWidth,
		ExecutionMaxWidth: c.Export.ExecutionMaxWidth,
		Now:               e.now,
	}
}

// ErrInvalidInput marks request-level problems that are not field validation
// failures, such as a missing suite id.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// EnsureUser registers the acting user if unknown and returns it.
func (e Engine) EnsureUser(ctx context.Context, scope domain.Scope) (domain.User, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, scope.UserID)
}

// CreateUser adds a user. The id defaults to a fresh uuid.
func (e Engine) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	u.FullName = strings.TrimSpace(u.FullName)
	if u.Username == "" {
		return u, domain.ValidationErrors{{Field: "username", Message: "username is required"}}
	}
	if _, err := e.Repo.GetUserByUsername(ctx, u.Username); err == nil {
		return u, domain.ValidationErrors{{Field: "username", Message: fmt.Sprintf("username %q already exists", u.Username)}}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return u, err
	}
	if u.ID == "" {
		u.ID = e.newID()
	}
	u.CreatedAt = e.stamp()
	if err := e.Repo.InsertUser(ctx, nil, u); err != nil {
		return u, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx)
}

// CreateAPIKey mints a random key for the acting user. The plain key is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, scope domain.Scope, name string) (domain.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "tl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        e.newID(),
		UserID:    scope.UserID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, scope domain.Scope) ([]domain.APIKey, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, scope.UserID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, scope domain.Scope, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return e.Repo.DeleteAPIKey(ctx, scope.UserID, id)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
