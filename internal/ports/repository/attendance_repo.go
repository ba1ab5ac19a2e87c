package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"attendance.service/internal/core/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schemaSQL string

// Dialect selects placeholder style and constraint error decoding.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// AttendanceRepository is the database/sql implementation of the primary store.
type AttendanceRepository struct {
	DB      *sql.DB
	dialect Dialect
}

// NewAttendanceRepository creates a new instance.
func NewAttendanceRepository(db *sql.DB, dialect Dialect) *AttendanceRepository {
	return &AttendanceRepository{DB: db, dialect: dialect}
}

// Migrate applies the embedded schema. It is idempotent.
func (r *AttendanceRepository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const sessionColumns = `id, user_id, date_key,
	check_in_at, check_in_method, check_in_latitude, check_in_longitude, check_in_device,
	check_out_at, check_out_method, check_out_latitude, check_out_longitude, check_out_device,
	breaks, status, is_late, late_minutes, actual_work_minutes, break_minutes,
	is_early_out, early_out_minutes, is_manual_entry, version, created_at, updated_at`

// Get fetches one user-day record.
func (r *AttendanceRepository) Get(ctx context.Context, userID, dateKey string) (*model.AttendanceSession, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.user_id", userID))

	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE user_id = $1 AND date_key = $2`
	row := r.DB.QueryRowContext(ctx, r.rebind(query), userID, dateKey)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance session: %w", err)
	}
	return s, nil
}

// Create inserts a new session, relying on the (user_id, date_key) unique constraint.
func (r *AttendanceRepository) Create(ctx context.Context, s model.AttendanceSession) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.user_id", s.UserID))

	if err := s.Validate(); err != nil {
		return err
	}
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}

	query := `INSERT INTO attendance_sessions (` + sessionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
	                  $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	if _, err := r.DB.ExecContext(ctx, r.rebind(query), args...); err != nil {
		if r.isUniqueViolation(err) {
			return model.ErrDuplicateSession
		}
		return fmt.Errorf("failed to create attendance session: %w", err)
	}
	return nil
}

// Update overwrites a session if nobody else wrote it since expectedVersion was read.
func (r *AttendanceRepository) Update(ctx context.Context, s model.AttendanceSession, expectedVersion int64) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.user_id", s.UserID))

	if err := s.Validate(); err != nil {
		return err
	}
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}

	query := `UPDATE attendance_sessions
	          SET check_in_at = $1, check_in_method = $2, check_in_latitude = $3, check_in_longitude = $4, check_in_device = $5,
	              check_out_at = $6, check_out_method = $7, check_out_latitude = $8, check_out_longitude = $9, check_out_device = $10,
	              breaks = $11, status = $12, is_late = $13, late_minutes = $14, actual_work_minutes = $15, break_minutes = $16,
	              is_early_out = $17, early_out_minutes = $18, is_manual_entry = $19, version = $20, updated_at = $21
	          WHERE id = $22 AND version = $23`

	// sessionArgs is (id, user_id, date_key, <20 mutable columns>, version, created_at, updated_at).
	updateArgs := append([]any{}, args[3:23]...)
	updateArgs = append(updateArgs, args[24], s.ID, expectedVersion)

	res, err := r.DB.ExecContext(ctx, r.rebind(query), updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to update attendance session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// History lists a user's sessions inside the filter window, newest first.
func (r *AttendanceRepository) History(ctx context.Context, userID string, filter model.HistoryFilter) ([]model.AttendanceSession, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.user_id", userID))

	var (
		conds = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if filter.StartDate != nil && *filter.StartDate != "" {
		args = append(args, *filter.StartDate)
		conds = append(conds, fmt.Sprintf("date_key >= $%d", len(args)))
	}
	if filter.EndDate != nil && *filter.EndDate != "" {
		args = append(args, *filter.EndDate)
		conds = append(conds, fmt.Sprintf("date_key <= $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Skip)

	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE %s ORDER BY date_key DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	return r.list(ctx, query, args...)
}

// ListByDate returns all sessions of one calendar day.
func (r *AttendanceRepository) ListByDate(ctx context.Context, dateKey string) ([]model.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE date_key = $1 ORDER BY user_id`
	return r.list(ctx, query, dateKey)
}

func (r *AttendanceRepository) list(ctx context.Context, query string, args ...any) ([]model.AttendanceSession, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.AttendanceSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance sessions: %w", err)
	}
	return sessions, nil
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders to ? for SQLite. Queries using rebind reference each
// placeholder once and in ascending order.
func (r *AttendanceRepository) rebind(query string) string {
	if r.dialect != DialectSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

func (r *AttendanceRepository) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.AttendanceSession, error) {
	var (
		s                            model.AttendanceSession
		status, breaks               string
		inAt, outAt                  sql.NullTime
		inMethod, outMethod          sql.NullString
		inLat, inLng, outLat, outLng sql.NullFloat64
		inDevice, outDevice          sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.DateKey,
		&inAt, &inMethod, &inLat, &inLng, &inDevice,
		&outAt, &outMethod, &outLat, &outLng, &outDevice,
		&breaks, &status, &s.IsLate, &s.LateMinutes, &s.ActualWorkMinutes, &s.BreakMinutes,
		&s.IsEarlyOut, &s.EarlyOutMinutes, &s.IsManualEntry, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(breaks), &s.Breaks); err != nil {
		return nil, fmt.Errorf("corrupt breaks column: %w", err)
	}
	for i := range s.Breaks {
		s.Breaks[i].Start = s.Breaks[i].Start.UTC()
		if s.Breaks[i].End != nil {
			end := s.Breaks[i].End.UTC()
			s.Breaks[i].End = &end
		}
	}
	s.CheckIn = punchFromColumns(inAt, inMethod, inLat, inLng, inDevice)
	s.CheckOut = punchFromColumns(outAt, outMethod, outLat, outLng, outDevice)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("stored session %s is invalid: %w", s.ID, err)
	}
	return &s, nil
}

func punchFromColumns(at sql.NullTime, method sql.NullString, lat, lng sql.NullFloat64, device sql.NullString) *model.Punch {
	if !at.Valid {
		return nil
	}
	p := &model.Punch{Timestamp: at.Time.UTC(), Method: model.PunchMethod(method.String)}
	if lat.Valid && lng.Valid {
		p.Location = &model.Location{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if device.Valid {
		d := device.String
		p.DeviceInfo = &d
	}
	return p
}

func punchColumns(p *model.Punch) []any {
	if p == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	var lat, lng, device any
	if p.Location != nil {
		lat, lng = p.Location.Latitude, p.Location.Longitude
	}
	if p.DeviceInfo != nil {
		device = *p.DeviceInfo
	}
	return []any{p.Timestamp.UTC(), string(p.Method), lat, lng, device}
}

// sessionArgs lays out the 25 columns of sessionColumns in order.
func sessionArgs(s model.AttendanceSession) ([]any, error) {
	breaks := s.Breaks
	if breaks == nil {
		breaks = []model.Break{}
	}
	utc := make([]model.Break, len(breaks))
	for i, b := range breaks {
		utc[i] = model.Break{Start: b.Start.UTC()}
		if b.End != nil {
			end := b.End.UTC()
			utc[i].End = &end
		}
	}
	encoded, err := json.Marshal(utc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode breaks: %w", err)
	}

	args := []any{s.ID, s.UserID, s.DateKey}
	args = append(args, punchColumns(s.CheckIn)...)
	args = append(args, punchColumns(s.CheckOut)...)
	args = append(args,
		string(encoded), string(s.Status), s.IsLate, s.LateMinutes, s.ActualWorkMinutes, s.BreakMinutes,
		s.IsEarlyOut, s.EarlyOutMinutes, s.IsManualEntry, s.Version, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	return args, nil
}

var _ Repository = (*AttendanceRepository)(nil)
