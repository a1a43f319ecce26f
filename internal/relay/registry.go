package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// RoomRecord is a room's registry entry. Key hashes are bcrypt; the
// plaintext keys only ever travel in invite links and query params.
type RoomRecord struct {
	ID            string
	AccessKeyHash []byte
	HostKeyHash   []byte
	Closed        bool
	CreatedAt     time.Time
}

// VerifyAccessKey checks a plaintext key against the record. Rooms
// without an access key accept any key, including none.
func (r RoomRecord) VerifyAccessKey(key string) bool {
	if len(r.AccessKeyHash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(r.AccessKeyHash, []byte(key)) == nil
}

// HashKey derives the stored hash for a plaintext key. Empty keys hash
// to nil, meaning the room is open.
func HashKey(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash room key: %w", err)
	}
	return hash, nil
}

// Registry persists room records across relay restarts.
type Registry interface {
	CreateRoom(ctx context.Context, rec RoomRecord) error
	GetRoom(ctx context.Context, id string) (RoomRecord, bool, error)
	CloseRoom(ctx context.Context, id string) error
	Shutdown()
}

// MemoryRegistry keeps room records in process memory. Used when no
// database is configured and in tests.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string]RoomRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string]RoomRecord)}
}

func (m *MemoryRegistry) CreateRoom(_ context.Context, rec RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[rec.ID]; ok {
		return fmt.Errorf("room %s already exists", rec.ID)
	}
	m.rooms[rec.ID] = rec
	return nil
}

func (m *MemoryRegistry) GetRoom(_ context.Context, id string) (RoomRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[id]
	return rec, ok, nil
}

func (m *MemoryRegistry) CloseRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[id]
	if !ok {
		return nil
	}
	rec.Closed = true
	m.rooms[id] = rec
	return nil
}

func (m *MemoryRegistry) Shutdown() {}

// PostgresRegistry persists room records in Postgres.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry connects to the database and ensures the rooms
// table exists.
func NewPostgresRegistry(ctx context.Context, databaseURL string) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	r := &PostgresRegistry{pool: pool}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRegistry) migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id              TEXT PRIMARY KEY,
			access_key_hash BYTEA,
			host_key_hash   BYTEA,
			closed          BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create rooms table: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) CreateRoom(ctx context.Context, rec RoomRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, access_key_hash, host_key_hash, closed, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		rec.ID, rec.AccessKeyHash, rec.HostKeyHash, rec.Closed)
	if err != nil {
		return fmt.Errorf("create room %s: %w", rec.ID, err)
	}
	return nil
}

func (r *PostgresRegistry) GetRoom(ctx context.Context, id string) (RoomRecord, bool, error) {
	rec := RoomRecord{ID: id}
	err := r.pool.QueryRow(ctx, `
		SELECT access_key_hash, host_key_hash, closed, created_at
		FROM rooms WHERE id = $1`, id).
		Scan(&rec.AccessKeyHash, &rec.HostKeyHash, &rec.Closed, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoomRecord{}, false, nil
	}
	if err != nil {
		return RoomRecord{}, false, fmt.Errorf("get room %s: %w", id, err)
	}
	return rec, true, nil
}

func (r *PostgresRegistry) CloseRoom(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE rooms SET closed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("close room %s: %w", id, err)
	}
	return nil
}

func (r *PostgresRegistry) Shutdown() {
	r.pool.Close()
}
