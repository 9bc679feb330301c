// Package sqlite implements the storage interfaces over an embedded SQLite
// database (modernc.org/sqlite, no cgo), with schema migrations managed by
// golang-migrate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/storage"
)

const storageType = "sqlite"

var (
	_ storage.UserStore         = (*Store)(nil)
	_ storage.GraphStore        = (*Store)(nil)
	_ storage.GroupAdmin        = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.RevocationStore   = (*Store)(nil)
	_ storage.Pinger            = (*Store)(nil)
)

// Config configures the SQLite store.
type Config struct {
	// Path is the database file. Required.
	Path string

	// Migrate applies pending migrations on Open.
	Migrate bool

	// RefreshTokenTTL is the lifetime of issued refresh tokens (default: 30 days).
	RefreshTokenTTL time.Duration

	// Logger for store events (default: slog.Default()).
	Logger *slog.Logger
}

// Store implements every storage interface over one SQLite file.
type Store struct {
	db              *sql.DB
	refreshTokenTTL time.Duration
	now             func() time.Time
	logger          *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenDB opens the database file with foreign keys enforced and a single
// connection, which serializes writers.
func OpenDB(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg.Path)
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if err := MigrateUp(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = storage.DefaultRefreshTokenTTL
	}

	return &Store{
		db:              db,
		refreshTokenTTL: ttl,
		now:             time.Now,
		logger:          logger,
	}, nil
}

// DB returns the underlying handle, used by the migrate command.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.count("SELECT COUNT(*) FROM users") },
		func() int64 { return s.count("SELECT COUNT(*) FROM refresh_tokens WHERE revoked_at IS NULL") },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) count(query string) int64 {
	var n int64
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		s.logger.Debug("Failed to count rows", "error", err)
		return 0
	}
	return n
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// ============================================================
// UserStore Implementation
// ============================================================

const userColumns = `id, provider, provider_id, username, display_name, email, avatar_url, profile_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*storage.User, error) {
	var u storage.User
	var createdAt, updatedAt int64
	if err := row.Scan(&u.ID, &u.Provider, &u.ProviderID, &u.Username, &u.DisplayName,
		&u.Email, &u.AvatarURL, &u.ProfileURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// UpsertUser inserts the profile's identity or refreshes its profile fields.
func (s *Store) UpsertUser(ctx context.Context, profile *providers.Profile) (user *storage.User, err error) {
	ctx, span := s.startStorageSpan(ctx, "upsert_user")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "upsert_user", err, startTime) }()

	if profile == nil || profile.Provider == "" || profile.ID == "" {
		return nil, fmt.Errorf("profile must carry a provider and an ID")
	}

	now := toMillis(s.now())
	row := s.db.QueryRowContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider, provider_id) DO UPDATE SET
    username = excluded.username,
    display_name = excluded.display_name,
    email = excluded.email,
    avatar_url = excluded.avatar_url,
    profile_url = excluded.profile_url,
    updated_at = excluded.updated_at
RETURNING `+userColumns,
		uuid.NewString(), profile.Provider, profile.ID, profile.Username, profile.DisplayName,
		profile.Email, profile.AvatarURL, profile.ProfileURL, now, now)

	user, err = scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// GetUser returns the user with id.
func (s *Store) GetUser(ctx context.Context, id string) (user *storage.User, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_user")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_user", err, startTime) }()

	user, err = scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ============================================================
// GraphStore Implementation
// ============================================================

const groupColumns = `g.id, g.slug, g.name, g.description, g.created_at, g.updated_at`

func scanGroup(row rowScanner) (storage.Group, error) {
	var g storage.Group
	var createdAt, updatedAt int64
	if err := row.Scan(&g.ID, &g.Slug, &g.Name, &g.Description, &createdAt, &updatedAt); err != nil {
		return storage.Group{}, err
	}
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updatedAt)
	return g, nil
}

func (s *Store) queryGroups(ctx context.Context, query string, args ...any) ([]storage.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []storage.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) queryScopes(ctx context.Context, query string, args ...any) ([]storage.Scope, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scopes []storage.Scope
	for rows.Next() {
		var sc storage.Scope
		if err := rows.Scan(&sc.ID, &sc.Key, &sc.Description); err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// DirectGroups returns the groups the user belongs to directly.
func (s *Store) DirectGroups(ctx context.Context, userID string) (groups []storage.Group, err error) {
	ctx, span := s.startStorageSpan(ctx, "direct_groups")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "direct_groups", err, startTime) }()

	return s.queryGroups(ctx, `
SELECT `+groupColumns+`
FROM user_groups ug JOIN access_groups g ON g.id = ug.group_id
WHERE ug.user_id = ?
ORDER BY g.slug`, userID)
}

// GroupDependencies returns the groups groupID depends on.
func (s *Store) GroupDependencies(ctx context.Context, groupID string) ([]storage.Group, error) {
	return s.queryGroups(ctx, `
SELECT `+groupColumns+`
FROM group_dependencies d JOIN access_groups g ON g.id = d.dependency_id
WHERE d.group_id = ?
ORDER BY g.slug`, groupID)
}

// GroupScopes returns the scopes granted to groupID.
func (s *Store) GroupScopes(ctx context.Context, groupID string) ([]storage.Scope, error) {
	return s.queryScopes(ctx, `
SELECT sc.id, sc.key, sc.description
FROM group_scopes gs JOIN scopes sc ON sc.id = gs.scope_id
WHERE gs.group_id = ?
ORDER BY sc.key`, groupID)
}

// UserScopes returns the scopes granted directly to userID.
func (s *Store) UserScopes(ctx context.Context, userID string) ([]storage.Scope, error) {
	return s.queryScopes(ctx, `
SELECT sc.id, sc.key, sc.description
FROM user_scopes us JOIN scopes sc ON sc.id = us.scope_id
WHERE us.user_id = ?
ORDER BY sc.key`, userID)
}

// ============================================================
// GroupAdmin Implementation
// ============================================================

// CreateGroup adds a group. Slugs are unique.
func (s *Store) CreateGroup(ctx context.Context, slug, name, description string) (*storage.Group, error) {
	if slug == "" {
		return nil, fmt.Errorf("group slug is required")
	}
	if name == "" {
		name = slug
	}

	now := s.now()
	g := &storage.Group{
		ID:          uuid.NewString(),
		Slug:        slug,
		Name:        name,
		Description: description,
		CreatedAt:   fromMillis(toMillis(now)),
		UpdatedAt:   fromMillis(toMillis(now)),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_groups (id, slug, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Slug, g.Name, g.Description, toMillis(now), toMillis(now))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("group %q: %w", slug, storage.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// CreateScope adds a scope. Keys are unique.
func (s *Store) CreateScope(ctx context.Context, key, description string) (*storage.Scope, error) {
	if key == "" {
		return nil, fmt.Errorf("scope key is required")
	}

	sc := &storage.Scope{ID: uuid.NewString(), Key: key, Description: description}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scopes (id, key, description) VALUES (?, ?, ?)`, sc.ID, sc.Key, sc.Description)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("scope %q: %w", key, storage.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create scope: %w", err)
	}
	return sc, nil
}

// GetGroupBySlug returns the group with slug.
func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*storage.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM access_groups g WHERE g.slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// GetScopeByKey returns the scope with key.
func (s *Store) GetScopeByKey(ctx context.Context, key string) (*storage.Scope, error) {
	var sc storage.Scope
	err := s.db.QueryRowContext(ctx, `SELECT id, key, description FROM scopes WHERE key = ?`, key).
		Scan(&sc.ID, &sc.Key, &sc.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scope: %w", err)
	}
	return &sc, nil
}

// ListGroups returns all groups ordered by slug.
func (s *Store) ListGroups(ctx context.Context) ([]storage.Group, error) {
	return s.queryGroups(ctx, `SELECT `+groupColumns+` FROM access_groups g ORDER BY g.slug`)
}

// insertEdge inserts a join row. Duplicates are ignored and missing endpoints
// map to ErrNotFound.
func (s *Store) insertEdge(ctx context.Context, table, fromColumn, toColumn, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT DO NOTHING`, table, fromColumn, toColumn),
		from, to)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", table, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// AddUserToGroup adds a direct membership.
func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	return s.insertEdge(ctx, "user_groups", "user_id", "group_id", userID, groupID)
}

// AddGroupDependency makes groupID depend on dependencyID.
func (s *Store) AddGroupDependency(ctx context.Context, groupID, dependencyID string) error {
	if groupID == dependencyID {
		return storage.ErrSelfDependency
	}
	return s.insertEdge(ctx, "group_dependencies", "group_id", "dependency_id", groupID, dependencyID)
}

// GrantScope grants scopeID to groupID.
func (s *Store) GrantScope(ctx context.Context, groupID, scopeID string) error {
	return s.insertEdge(ctx, "group_scopes", "group_id", "scope_id", groupID, scopeID)
}

// GrantUserScope grants scopeID to userID directly.
func (s *Store) GrantUserScope(ctx context.Context, userID, scopeID string) error {
	return s.insertEdge(ctx, "user_scopes", "user_id", "scope_id", userID, scopeID)
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

const refreshTokenColumns = `id, user_id, provider, token_hash, expires_at, user_agent, ip_address, created_at, revoked_at, replaced_by_hash`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, t *storage.RefreshToken) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO refresh_tokens (id, user_id, provider, token_hash, expires_at, user_agent, ip_address, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Provider, t.TokenHash, toMillis(t.ExpiresAt), t.UserAgent, t.IPAddress, toMillis(t.CreatedAt))
	return err
}

func (s *Store) newRefreshToken(userID, provider, hash string, client security.ClientInfo) *storage.RefreshToken {
	now := fromMillis(toMillis(s.now()))
	return storage.NewRefreshToken(uuid.NewString(), userID, provider, hash, client, now, s.refreshTokenTTL)
}

// CreateRefreshToken issues a new refresh token for userID.
func (s *Store) CreateRefreshToken(ctx context.Context, userID, provider string, client security.ClientInfo) (raw string, token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "create_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "create_refresh_token", err, startTime) }()

	raw, hash, err := storage.NewRefreshValue()
	if err != nil {
		return "", nil, err
	}

	token = s.newRefreshToken(userID, provider, hash, client)
	if err = insertRefreshToken(ctx, s.db, token); err != nil {
		if isForeignKeyViolation(err) {
			return "", nil, fmt.Errorf("user %q: %w", userID, storage.ErrNotFound)
		}
		return "", nil, fmt.Errorf("create refresh token: %w", err)
	}
	return raw, token, nil
}

// RotateRefreshToken revokes existing and inserts its replacement in one
// transaction. The revoking update only matches a live row, so a concurrent
// rotation that already won leaves zero affected rows.
func (s *Store) RotateRefreshToken(ctx context.Context, existing *storage.RefreshToken, client security.ClientInfo) (raw string, token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "rotate_refresh_token", err, startTime) }()

	raw, hash, err := storage.NewRefreshValue()
	if err != nil {
		return "", nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	res, err := tx.ExecContext(ctx, `
UPDATE refresh_tokens SET revoked_at = ?, replaced_by_hash = ?
WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`,
		toMillis(now), hash, existing.ID, toMillis(now))
	if err != nil {
		return "", nil, fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", nil, fmt.Errorf("revoke rotated token: %w", err)
	}
	if affected != 1 {
		err = storage.ErrTokenAlreadyRotated
		return "", nil, err
	}

	token = s.newRefreshToken(existing.UserID, existing.Provider, hash, client)
	if err = insertRefreshToken(ctx, tx, token); err != nil {
		return "", nil, fmt.Errorf("insert rotated token: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit rotation: %w", err)
	}
	return raw, token, nil
}

// FindRefreshTokenByHash returns the token stored under hash.
func (s *Store) FindRefreshTokenByHash(ctx context.Context, hash string) (token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_refresh_token", err, startTime) }()

	var t storage.RefreshToken
	var expiresAt, createdAt int64
	var revokedAt sql.NullInt64
	var replacedBy sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.UserID, &t.Provider, &t.TokenHash, &expiresAt, &t.UserAgent, &t.IPAddress, &createdAt, &revokedAt, &replacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	if revokedAt.Valid {
		ts := fromMillis(revokedAt.Int64)
		t.RevokedAt = &ts
	}
	t.ReplacedByHash = replacedBy.String
	return &t, nil
}

// RevokeRefreshToken marks one token revoked. Revoking twice is a no-op.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, toMillis(s.now()), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	if count > 0 {
		s.logger.Info("Revoked refresh tokens for user", "user_id", userID, "count", count)
	}
	return count, nil
}

// ============================================================
// RevocationStore Implementation
// ============================================================

// Revoke records key as revoked for ttl.
func (s *Store) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO revoked_tokens (key, expires_at) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, toMillis(s.now().Add(ttl)))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeOnce records key for ttl unless a live revocation exists. A lapsed
// row for key is taken over.
func (s *Store) RevokeOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("revocation ttl must be positive")
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO revoked_tokens (key, expires_at) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
WHERE revoked_tokens.expires_at <= ?`,
		key, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return n > 0, nil
}

// IsRevoked reports whether key is revoked and not yet expired.
func (s *Store) IsRevoked(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens WHERE key = ? AND expires_at > ?`, key, toMillis(s.now())).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired deletes lapsed revocations and refresh tokens past their
// expiry plus the clock skew grace period.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, stmt := range []struct {
		query string
		arg   int64
	}{
		{`DELETE FROM revoked_tokens WHERE expires_at <= ?`, toMillis(now)},
		{`DELETE FROM refresh_tokens WHERE expires_at < ?`, toMillis(now.Add(-security.DefaultClockSkewGracePeriod))},
	} {
		res, err := s.db.ExecContext(ctx, stmt.query, stmt.arg)
		if err != nil {
			return total, fmt.Errorf("purge expired rows: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, storageType)
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	instrumentation.AddStorageResult(span, result)

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(startTime).Milliseconds()))
}
