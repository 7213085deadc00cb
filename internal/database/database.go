package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jukebox/internal/room"
	"jukebox/pkg/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database is the SQLite-backed room store. It is safe for concurrent use;
// writes that read-then-modify run in IMMEDIATE transactions so SQLite
// serializes them.
type Database struct {
	conn   *sqlx.DB
	logger *logrus.Logger
	codes  *room.CodeGenerator
	now    func() time.Time

	// Hot path statements, hit by every poll.
	getRoomStmt *sqlx.Stmt
	touchStmt   *sql.Stmt
}

// roomRow mirrors the rooms table. Timestamps are unix milliseconds so that
// range queries compare numerically.
type roomRow struct {
	Code           string `db:"code"`
	HostID         string `db:"host_id"`
	VotesToSkip    int    `db:"votes_to_skip"`
	GuestCanPause  bool   `db:"guest_can_pause"`
	CurrentTrackID string `db:"current_track_id"`
	CreatedAt      int64  `db:"created_at"`
	LastActivity   int64  `db:"last_activity"`
}

func (r roomRow) toModel() *models.Room {
	return &models.Room{
		Code:           r.Code,
		HostID:         r.HostID,
		VotesToSkip:    r.VotesToSkip,
		GuestCanPause:  r.GuestCanPause,
		CurrentTrackID: r.CurrentTrackID,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		LastActivity:   time.UnixMilli(r.LastActivity).UTC(),
	}
}

const roomColumns = `code, host_id, votes_to_skip, guest_can_pause, current_track_id, created_at, last_activity`

// NewDatabase opens (or creates) a SQLite database at dbPath and ensures the
// schema exists. Caller should Close() it when finished.
func NewDatabase(dbPath string, maxConns int, codes *room.CodeGenerator, logger *logrus.Logger) (*Database, error) {
	conn, err := sqlx.Open("sqlite3", dbPath+"?mode=rwc&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns < 1 {
		maxConns = 1
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(2)
	if dbPath == ":memory:" {
		// Each connection owns its own in-memory database; never recycle it.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetConnMaxLifetime(15 * time.Minute)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	if codes == nil {
		codes = room.NewCodeGenerator(0, "", 0)
	}

	db := &Database{
		conn:   conn,
		logger: logger,
		codes:  codes,
		now:    time.Now,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables is idempotent and safe to call on every start.
func (db *Database) createTables() error {
	roomsTable := `
	CREATE TABLE IF NOT EXISTS rooms (
		code TEXT PRIMARY KEY,
		host_id TEXT NOT NULL,
		votes_to_skip INTEGER NOT NULL CHECK (votes_to_skip >= 1),
		guest_can_pause BOOLEAN NOT NULL DEFAULT FALSE,
		current_track_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);`

	tokensTable := `
	CREATE TABLE IF NOT EXISTS provider_tokens (
		participant_id TEXT PRIMARY KEY,
		access_token BLOB NOT NULL,
		refresh_token BLOB,
		token_type TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_rooms_host ON rooms(host_id);",
		"CREATE INDEX IF NOT EXISTS idx_rooms_last_activity ON rooms(last_activity);",
	}

	for _, stmt := range append([]string{roomsTable, tokensTable}, indices...) {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.getRoomStmt, err = db.conn.Preparex(`SELECT ` + roomColumns + ` FROM rooms WHERE code = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get room statement: %w", err)
	}

	db.touchStmt, err = db.conn.Prepare(`UPDATE rooms SET last_activity = ? WHERE code = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch statement: %w", err)
	}

	return nil
}

// Close releases prepared statements and the connection pool.
func (db *Database) Close() error {
	if db.getRoomStmt != nil {
		db.getRoomStmt.Close()
	}
	if db.touchStmt != nil {
		db.touchStmt.Close()
	}
	return db.conn.Close()
}

// Ping checks database connectivity.
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Create inserts a room under a newly allocated code, retrying on collision.
func (db *Database) Create(ctx context.Context, hostID string, cfg models.RoomConfig) (*models.Room, error) {
	if err := room.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	now := db.now().UnixMilli()
	code, err := db.codes.Allocate(func(code string) (bool, error) {
		res, err := db.conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO rooms (`+roomColumns+`)
			VALUES (?, ?, ?, ?, '', ?, ?)`,
			code, hostID, cfg.VotesToSkip, cfg.GuestCanPause, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert room: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n == 1, nil
	})
	if err != nil {
		return nil, err
	}

	db.logger.WithFields(logrus.Fields{
		"code":          code,
		"votes_to_skip": cfg.VotesToSkip,
	}).Info("Room created")

	return db.Get(ctx, code)
}

// Get returns the room stored under code.
func (db *Database) Get(ctx context.Context, code string) (*models.Room, error) {
	var row roomRow
	if err := db.getRoomStmt.GetContext(ctx, &row, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", code, room.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return row.toModel(), nil
}

// Update applies patch to the room when hostID is its host.
func (db *Database) Update(ctx context.Context, code, hostID string, patch models.RoomPatch) (*models.Room, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row roomRow
	if err := tx.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM rooms WHERE code = ?`, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", code, room.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if row.HostID != hostID {
		return nil, fmt.Errorf("room %q: only the host may update it: %w", code, room.ErrForbidden)
	}

	updated, err := room.ApplyPatch(*row.toModel(), patch)
	if err != nil {
		return nil, err
	}

	now := db.now()
	_, err = tx.NamedExecContext(ctx, `
		UPDATE rooms
		SET votes_to_skip = :votes_to_skip, guest_can_pause = :guest_can_pause, last_activity = :last_activity
		WHERE code = :code`,
		map[string]interface{}{
			"votes_to_skip":   updated.VotesToSkip,
			"guest_can_pause": updated.GuestCanPause,
			"last_activity":   now.UnixMilli(),
			"code":            code,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to update room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit room update: %w", err)
	}

	updated.LastActivity = time.UnixMilli(now.UnixMilli()).UTC()
	return &updated, nil
}

// Touch records activity on a room.
func (db *Database) Touch(ctx context.Context, code string) error {
	res, err := db.touchStmt.ExecContext(ctx, db.now().UnixMilli(), code)
	if err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}
	return expectOneRow(res, code)
}

// SetCurrentTrack records the track the room's votes are counted against.
func (db *Database) SetCurrentTrack(ctx context.Context, code, trackID string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE rooms SET current_track_id = ? WHERE code = ?`, trackID, code)
	if err != nil {
		return fmt.Errorf("failed to set current track: %w", err)
	}
	return expectOneRow(res, code)
}

// Delete removes a room.
func (db *Database) Delete(ctx context.Context, code string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM rooms WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return expectOneRow(res, code)
}

// DeleteInactive removes rooms whose last activity is older than before.
func (db *Database) DeleteInactive(ctx context.Context, before time.Time) ([]string, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var codes []string
	cutoff := before.UnixMilli()
	if err := tx.SelectContext(ctx, &codes, `SELECT code FROM rooms WHERE last_activity < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("failed to find inactive rooms: %w", err)
	}
	if len(codes) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE last_activity < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("failed to delete inactive rooms: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit room cleanup: %w", err)
	}
	return codes, nil
}

// Count returns the number of stored rooms.
func (db *Database) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM rooms`); err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result, code string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %q: %w", code, room.ErrNotFound)
	}
	return nil
}

var _ room.Store = (*Database)(nil)
