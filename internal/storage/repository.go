package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertFailureSQL = `INSERT INTO payment_failures (
        order_id,
        gateway,
        error_code,
        error_message,
        amount,
        currency,
        customer_id,
        occurred_at,
        metadata
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id, created_at;`

	listFailuresBetweenSQL = `SELECT
        id,
        order_id,
        gateway,
        error_code,
        error_message,
        amount,
        currency,
        customer_id,
        occurred_at,
        metadata,
        created_at
    FROM payment_failures
    WHERE occurred_at >= $1
      AND occurred_at < $2
      AND ($3 = '' OR gateway = $3)
      AND ($4 = '' OR error_code = $4)
    ORDER BY occurred_at;`

	listRecentFailuresSQL = `SELECT
        id,
        order_id,
        gateway,
        error_code,
        error_message,
        amount,
        currency,
        customer_id,
        occurred_at,
        metadata,
        created_at
    FROM payment_failures
    WHERE ($2 = '' OR gateway = $2)
    ORDER BY occurred_at DESC
    LIMIT $1;`

	listRecentHighValueSQL = `SELECT
        id,
        order_id,
        gateway,
        error_code,
        error_message,
        amount,
        currency,
        customer_id,
        occurred_at,
        metadata,
        created_at
    FROM payment_failures
    WHERE amount >= $1
    ORDER BY occurred_at DESC
    LIMIT $2;`

	countFailuresSQL = `SELECT COUNT(*) FROM payment_failures;`

	deleteFailuresBeforeSQL = `DELETE FROM payment_failures WHERE occurred_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        rule,
        severity,
        message,
        gateway,
        error_code,
        thresholds,
        failure_ids,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        rule,
        severity,
        message,
        gateway,
        error_code,
        thresholds,
        failure_ids,
        fired_at,
        created_at
    FROM alerts
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE fired_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// FailureFilter narrows failure queries to a gateway and/or error code.
// Empty fields match everything.
type FailureFilter struct {
	Gateway   string
	ErrorCode string
}

// FailureStore defines operations for failure event persistence.
type FailureStore interface {
	InsertFailure(ctx context.Context, event FailureEvent) (int64, error)
	ListFailuresBetween(ctx context.Context, from, to time.Time, filter FailureFilter) ([]FailureEvent, error)
	ListRecentFailures(ctx context.Context, gateway string, limit int) ([]FailureEvent, error)
	ListRecentHighValue(ctx context.Context, minAmount decimal.Decimal, limit int) ([]FailureEvent, error)
	CountFailures(ctx context.Context) (int64, error)
	DeleteFailuresBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to failure events and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertFailure persists a failure event and returns its assigned ID.
func (s *Store) InsertFailure(ctx context.Context, event FailureEvent) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return 0, err
	}

	var errCode, errMsg, customer interface{}
	if event.ErrorCode != "" {
		errCode = event.ErrorCode
	}
	if event.ErrorMessage != "" {
		errMsg = event.ErrorMessage
	}
	if event.CustomerID != "" {
		customer = event.CustomerID
	}

	var id int64
	var createdAt time.Time
	row := pool.QueryRow(ctx, insertFailureSQL,
		event.OrderID,
		event.Gateway,
		errCode,
		errMsg,
		event.Amount.String(),
		event.Currency,
		customer,
		event.OccurredAt,
		metadata,
	)
	if scanErr := row.Scan(&id, &createdAt); scanErr != nil {
		return 0, fmt.Errorf("insert failure: %w", scanErr)
	}
	return id, nil
}

// ListFailuresBetween lists failure events with occurred_at in [from, to).
func (s *Store) ListFailuresBetween(ctx context.Context, from, to time.Time, filter FailureFilter) ([]FailureEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFailuresBetweenSQL, from, to, filter.Gateway, filter.ErrorCode)
	if queryErr != nil {
		return nil, fmt.Errorf("list failures between: %w", queryErr)
	}
	defer rows.Close()

	return collectFailures(rows)
}

// ListRecentFailures lists the most recent failures, newest first.
func (s *Store) ListRecentFailures(ctx context.Context, gateway string, limit int) ([]FailureEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFailuresSQL, limit, gateway)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent failures: %w", queryErr)
	}
	defer rows.Close()

	return collectFailures(rows)
}

// ListRecentHighValue lists the most recent failures at or above minAmount.
func (s *Store) ListRecentHighValue(ctx context.Context, minAmount decimal.Decimal, limit int) ([]FailureEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHighValueSQL, minAmount.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent high value: %w", queryErr)
	}
	defer rows.Close()

	return collectFailures(rows)
}

// CountFailures counts stored failure events.
func (s *Store) CountFailures(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countFailuresSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count failures: %w", scanErr)
	}
	return count, nil
}

// DeleteFailuresBefore removes failures older than the retention horizon.
func (s *Store) DeleteFailuresBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteFailuresBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete failures before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	thresholds, err := json.Marshal(alert.Thresholds)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("marshal thresholds: %w", err)
	}

	var errCode interface{}
	if alert.ErrorCode != "" {
		errCode = alert.ErrorCode
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.Rule,
		alert.Severity,
		alert.Message,
		alert.Gateway,
		errCode,
		thresholds,
		alert.FailureIDs,
		alert.FiredAt,
	)
	if scanErr := row.Scan(&alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var errCode sql.NullString
		var thresholds []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.Rule,
			&rec.Severity,
			&rec.Message,
			&rec.Gateway,
			&errCode,
			&thresholds,
			&rec.FailureIDs,
			&rec.FiredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if errCode.Valid {
			rec.ErrorCode = errCode.String
		}
		if len(thresholds) > 0 {
			if err := json.Unmarshal(thresholds, &rec.Thresholds); err != nil {
				return nil, fmt.Errorf("parse thresholds: %w", err)
			}
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectFailures(rows pgx.Rows) ([]FailureEvent, error) {
	events := make([]FailureEvent, 0)
	for rows.Next() {
		event, scanErr := scanFailure(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanFailure(rows pgx.Rows) (FailureEvent, error) {
	var (
		id        int64
		orderID   string
		gateway   string
		errCode   sql.NullString
		errMsg    sql.NullString
		amountStr string
		currency  string
		customer  sql.NullString
		occurred  time.Time
		metadata  []byte
		createdAt time.Time
	)

	if err := rows.Scan(
		&id,
		&orderID,
		&gateway,
		&errCode,
		&errMsg,
		&amountStr,
		&currency,
		&customer,
		&occurred,
		&metadata,
		&createdAt,
	); err != nil {
		return FailureEvent{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return FailureEvent{}, fmt.Errorf("parse amount: %w", err)
	}

	event := FailureEvent{
		ID:         id,
		OrderID:    orderID,
		Gateway:    gateway,
		Amount:     amount,
		Currency:   currency,
		OccurredAt: occurred,
		CreatedAt:  createdAt,
	}

	if errCode.Valid {
		event.ErrorCode = errCode.String
	}
	if errMsg.Valid {
		event.ErrorMessage = errMsg.String
	}
	if customer.Valid {
		event.CustomerID = customer.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return FailureEvent{}, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return event, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return encoded, nil
}
