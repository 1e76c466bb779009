package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS risk_limits (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	limit_type    TEXT NOT NULL,
	limit_value   REAL NOT NULL,
	current_value REAL NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	auto_close    INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_limits_user ON risk_limits (user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_risk_limits_active
	ON risk_limits (user_id, symbol, limit_type) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS risk_alerts (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	alert_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	symbol      TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL DEFAULT '{}',
	dedupe_key  TEXT NOT NULL DEFAULT '',
	is_read     INTEGER NOT NULL DEFAULT 0,
	is_resolved INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_risk_alerts_user ON risk_alerts (user_id);

CREATE TABLE IF NOT EXISTS margin_calls (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	position_id       TEXT NOT NULL,
	symbol            TEXT NOT NULL DEFAULT '',
	margin_required   REAL NOT NULL,
	margin_available  REAL NOT NULL,
	margin_shortfall  REAL NOT NULL,
	liquidation_price REAL NOT NULL,
	current_price     REAL NOT NULL,
	status            TEXT NOT NULL,
	issued_at         INTEGER NOT NULL,
	resolved_at       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_margin_calls_user ON margin_calls (user_id);
`

// SQLiteStore implements core.ILimitStore and core.IAlertStore on SQLite
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const limitColumns = `id, user_id, symbol, limit_type, limit_value, current_value, status, auto_close, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLimit(row rowScanner) (core.RiskLimit, error) {
	var (
		l                    core.RiskLimit
		limitType, status    string
		autoClose            int
		createdAt, updatedAt int64
	)
	err := row.Scan(&l.ID, &l.UserID, &l.Symbol, &limitType, &l.LimitValue, &l.CurrentValue,
		&status, &autoClose, &createdAt, &updatedAt)
	if err != nil {
		return core.RiskLimit{}, err
	}
	l.LimitType = core.LimitType(limitType)
	l.Status = core.LimitStatus(status)
	l.AutoClose = autoClose != 0
	l.CreatedAt = time.Unix(0, createdAt).UTC()
	l.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return l, nil
}

func (s *SQLiteStore) GetLimit(ctx context.Context, id string) (*core.RiskLimit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+limitColumns+` FROM risk_limits WHERE id = ?`, id)
	l, err := scanLimit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.NotFoundError{Resource: "risk limit", ID: id}
		}
		return nil, fmt.Errorf("failed to read risk limit: %w", err)
	}
	return &l, nil
}

func (s *SQLiteStore) ListLimits(ctx context.Context, userID string) ([]core.RiskLimit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+limitColumns+` FROM risk_limits WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk limits: %w", err)
	}
	defer rows.Close()

	out := make([]core.RiskLimit, 0)
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk limit: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveLimit(ctx context.Context, l core.RiskLimit) error {
	query := `INSERT INTO risk_limits (` + limitColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			limit_value = excluded.limit_value,
			current_value = excluded.current_value,
			status = excluded.status,
			auto_close = excluded.auto_close,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, l.ID, l.UserID, l.Symbol, string(l.LimitType), l.LimitValue,
		l.CurrentValue, string(l.Status), boolToInt(l.AutoClose), l.CreatedAt.UnixNano(), l.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write risk limit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteLimit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM risk_limits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete risk limit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &apperrors.NotFoundError{Resource: "risk limit", ID: id}
	}
	return nil
}

func (s *SQLiteStore) ListLimitUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM risk_limits ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query limit users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const alertColumns = `id, user_id, alert_type, severity, title, message, symbol, data, dedupe_key, is_read, is_resolved, created_at, resolved_at`

func scanAlert(row rowScanner) (core.RiskAlert, error) {
	var (
		a                   core.RiskAlert
		alertType, severity string
		data                string
		isRead, isResolved  int
		createdAt           int64
		resolvedAt          sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.UserID, &alertType, &severity, &a.Title, &a.Message, &a.Symbol, &data,
		&a.DedupeKey, &isRead, &isResolved, &createdAt, &resolvedAt)
	if err != nil {
		return core.RiskAlert{}, err
	}
	a.AlertType = core.AlertType(alertType)
	a.Severity = core.AlertSeverity(severity)
	a.IsRead = isRead != 0
	a.IsResolved = isResolved != 0
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.ResolvedAt = fromNullTime(resolvedAt)
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
			return core.RiskAlert{}, fmt.Errorf("failed to unmarshal alert data: %w", err)
		}
	}
	return a, nil
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, a core.RiskAlert) error {
	data := []byte("{}")
	if len(a.Data) > 0 {
		var err error
		if data, err = json.Marshal(a.Data); err != nil {
			return fmt.Errorf("failed to marshal alert data: %w", err)
		}
	}

	query := `INSERT INTO risk_alerts (` + alertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_read = excluded.is_read,
			is_resolved = excluded.is_resolved,
			resolved_at = excluded.resolved_at`
	_, err := s.db.ExecContext(ctx, query, a.ID, a.UserID, string(a.AlertType), string(a.Severity), a.Title,
		a.Message, a.Symbol, string(data), a.DedupeKey, boolToInt(a.IsRead), boolToInt(a.IsResolved),
		a.CreatedAt.UnixNano(), toNullTime(a.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to write risk alert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*core.RiskAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM risk_alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.NotFoundError{Resource: "risk alert", ID: id}
		}
		return nil, fmt.Errorf("failed to read risk alert: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, userID string) ([]core.RiskAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM risk_alerts WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk alerts: %w", err)
	}
	defer rows.Close()

	out := make([]core.RiskAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const marginCallColumns = `id, user_id, position_id, symbol, margin_required, margin_available, margin_shortfall, liquidation_price, current_price, status, issued_at, resolved_at`

func scanMarginCall(row rowScanner) (core.MarginCall, error) {
	var (
		c          core.MarginCall
		status     string
		issuedAt   int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.UserID, &c.PositionID, &c.Symbol, &c.MarginRequired, &c.MarginAvailable,
		&c.MarginShortfall, &c.LiquidationPrice, &c.CurrentPrice, &status, &issuedAt, &resolvedAt)
	if err != nil {
		return core.MarginCall{}, err
	}
	c.Status = core.MarginCallStatus(status)
	c.IssuedAt = time.Unix(0, issuedAt).UTC()
	c.ResolvedAt = fromNullTime(resolvedAt)
	return c, nil
}

func (s *SQLiteStore) SaveMarginCall(ctx context.Context, c core.MarginCall) error {
	query := `INSERT INTO margin_calls (` + marginCallColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.UserID, c.PositionID, c.Symbol, c.MarginRequired,
		c.MarginAvailable, c.MarginShortfall, c.LiquidationPrice, c.CurrentPrice, string(c.Status),
		c.IssuedAt.UnixNano(), toNullTime(c.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to write margin call: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMarginCall(ctx context.Context, id string) (*core.MarginCall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marginCallColumns+` FROM margin_calls WHERE id = ?`, id)
	c, err := scanMarginCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.NotFoundError{Resource: "margin call", ID: id}
		}
		return nil, fmt.Errorf("failed to read margin call: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListMarginCalls(ctx context.Context, userID string) ([]core.MarginCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marginCallColumns+` FROM margin_calls WHERE user_id = ? ORDER BY issued_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query margin calls: %w", err)
	}
	defer rows.Close()

	out := make([]core.MarginCall, 0)
	for rows.Next() {
		c, err := scanMarginCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan margin call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CheckHealth pings the database
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
