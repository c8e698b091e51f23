package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kistrader/internal/domain"
	"kistrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the position database and verifies the
// schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection: the engine is the single writer and the Go driver
	// behaves best this way with SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Position database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		code         TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		side         TEXT NOT NULL,
		qty          INTEGER NOT NULL,
		entry        REAL NOT NULL,
		tp           REAL,
		sl           REAL,
		open_time    TIMESTAMP NOT NULL,
		close_time   TIMESTAMP,
		status       TEXT NOT NULL,
		exit_price   REAL,
		exit_reason  TEXT,
		score        REAL,
		rr           REAL,
		confidence   REAL,
		horizon      TEXT NOT NULL DEFAULT '',
		valid_until  TIMESTAMP,
		gross_pnl    REAL,
		pnl_pct      REAL,
		holding_days REAL,
		note         TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	CREATE INDEX IF NOT EXISTS idx_positions_code_status ON positions (code, status);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing position database")
		return r.db.Close()
	}
	return nil
}

// --- ports.PositionStore implementation ---

// Insert saves a new position and returns its assigned ID.
func (r *Repository) Insert(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (code, name, side, qty, entry, tp, sl, open_time, status,
	                       score, rr, confidence, horizon, valid_until, note)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Code, pos.Name, pos.Side, pos.Qty, pos.Entry,
		nullFloat(pos.TP), nullFloat(pos.SL), pos.OpenTime, pos.Status,
		nullFloat(pos.Score), nullFloat(pos.RR), nullFloat(pos.Confidence),
		pos.Horizon, nullTime(pos.ValidUntil), pos.Note)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for code %s: %w", pos.Code, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Code, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position inserted", map[string]interface{}{"positionID": id, "code": pos.Code, "status": pos.Status})
	return id, nil
}

const selectColumns = `
	id, code, name, side, qty, entry, tp, sl, open_time, close_time, status,
	exit_price, exit_reason, score, rr, confidence, horizon, valid_until,
	COALESCE(gross_pnl, 0), COALESCE(pnl_pct, 0), COALESCE(holding_days, 0), note`

// FindByStatus retrieves positions holding one of statuses, oldest first.
func (r *Repository) FindByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]*domain.Position, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("FindByStatus requires at least one status: %w", ports.ErrQueryFailed)
	}
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE status IN (%s) ORDER BY open_time ASC, id ASC`,
		selectColumns, placeholders(len(statuses)))

	rows, err := r.db.QueryContext(ctx, query, statusArgs(statuses)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions by status: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindByStatus: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// CodesByStatus retrieves the distinct codes holding one of statuses.
func (r *Repository) CodesByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]string, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("CodesByStatus requires at least one status: %w", ports.ErrQueryFailed)
	}
	query := fmt.Sprintf(`SELECT DISTINCT code FROM positions WHERE status IN (%s)`, placeholders(len(statuses)))

	rows, err := r.db.QueryContext(ctx, query, statusArgs(statuses)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query codes by status: %w", err)
	}
	defer rows.Close()

	codes := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code during CodesByStatus: %w", err)
		}
		codes = append(codes, code)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating code rows: %w", err)
	}
	return codes, nil
}

// UpdateStatus moves the position to status without touching trade facts.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.PositionStatus) error {
	const query = `UPDATE positions SET status = ? WHERE id = ?`
	return r.exec(ctx, id, query, status, id)
}

// ConfirmFill transitions PENDING -> OPEN, overwriting quantity and entry
// with the broker-reported values.
func (r *Repository) ConfirmFill(ctx context.Context, id int64, qty int64, entry float64) error {
	const query = `UPDATE positions SET status = ?, qty = ?, entry = ? WHERE id = ? AND status = ?`
	err := r.exec(ctx, id, query, domain.StatusOpen, qty, entry, id, domain.StatusPending)
	if err == nil {
		r.logger.Debug(ctx, "Fill confirmed", map[string]interface{}{"positionID": id, "qty": qty, "entry": entry})
	}
	return err
}

// MarkCancelled transitions PENDING -> CANCELLED, appending note.
func (r *Repository) MarkCancelled(ctx context.Context, id int64, at time.Time, reason domain.ExitReason, note string) error {
	const query = `
	UPDATE positions
	SET status = ?, close_time = ?, exit_reason = ?,
	    note = CASE WHEN note = '' THEN ? ELSE note || ' | ' || ? END
	WHERE id = ? AND status = ?`
	return r.exec(ctx, id, query, domain.StatusCancelled, at, reason, note, note, id, domain.StatusPending)
}

// ClosePosition moves an OPEN or EXPIRED position to CLOSED and persists the
// realized analytics derived from the stored entry, quantity and open time.
// Closing an already-terminal position returns ports.ErrNotFound.
func (r *Repository) ClosePosition(ctx context.Context, id int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason) error {
	const selectQuery = `SELECT entry, qty, open_time FROM positions WHERE id = ?`
	var entry float64
	var qty int64
	var openTime time.Time
	err := r.db.QueryRowContext(ctx, selectQuery, id).Scan(&entry, &qty, &openTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("position ID %d not found for close: %w", id, ports.ErrNotFound)
		}
		return fmt.Errorf("failed to load position ID %d for close: %w", id, err)
	}

	grossPnL := (exitPrice - entry) * float64(qty)
	pnlPct := 0.0
	if entry > 0 {
		pnlPct = (exitPrice - entry) / entry * 100.0
	}
	holdingDays := exitTime.Sub(openTime).Seconds() / 86400.0

	const updateQuery = `
	UPDATE positions
	SET status = ?, close_time = ?, exit_price = ?, exit_reason = ?,
	    gross_pnl = ?, pnl_pct = ?, holding_days = ?
	WHERE id = ? AND status IN (?, ?)`
	err = r.exec(ctx, id, updateQuery, domain.StatusClosed, exitTime, exitPrice, reason, grossPnL, pnlPct, holdingDays, id, domain.StatusOpen, domain.StatusExpired)
	if err == nil {
		r.logger.Debug(ctx, "Position closed", map[string]interface{}{"positionID": id, "reason": reason, "grossPnL": grossPnL})
	}
	return err
}

// FindAll retrieves every recorded position, newest first. Used by the CLI
// listing, not by the engine.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions ORDER BY open_time DESC, id DESC`, selectColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindAll: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- helpers ---

func (r *Repository) exec(ctx context.Context, id int64, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w (%w)", id, err, ports.ErrUpdateFailed)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position ID %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", id, ports.ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func statusArgs(statuses []domain.PositionStatus) []interface{} {
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// scanner is compatible with both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		side, status         string
		tp, sl               sql.NullFloat64
		score, rr, conf      sql.NullFloat64
		closeTime, validTill sql.NullTime
		exitPrice            sql.NullFloat64
		exitReason           sql.NullString
	)
	err := s.Scan(
		&p.ID, &p.Code, &p.Name, &side, &p.Qty, &p.Entry, &tp, &sl,
		&p.OpenTime, &closeTime, &status, &exitPrice, &exitReason,
		&score, &rr, &conf, &p.Horizon, &validTill,
		&p.GrossPnL, &p.PnLPct, &p.HoldingDays, &p.Note)
	if err != nil {
		return nil, err
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	p.TP = floatPtr(tp)
	p.SL = floatPtr(sl)
	p.Score = floatPtr(score)
	p.RR = floatPtr(rr)
	p.Confidence = floatPtr(conf)
	if closeTime.Valid {
		p.CloseTime = closeTime.Time
	}
	if validTill.Valid {
		p.ValidUntil = validTill.Time
	}
	if exitPrice.Valid {
		p.ExitPrice = exitPrice.Float64
	}
	if exitReason.Valid {
		p.ExitReason = domain.ExitReason(exitReason.String)
	}
	return p, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
