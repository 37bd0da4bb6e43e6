package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// BookingRepo persists schedule bookings.  Rows are never deleted:
// cancellation flips the status and stamps cancelled_at, leaving the
// historical reach snapshot intact.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, submission_id, scheduled_date, assigned_channel_ids, total_estimated_reach,
       target_reach, target_met, reservation_token, status, created_at, cancelled_at`

// PersistBooking inserts a committed booking.
func (r *BookingRepo) PersistBooking(ctx context.Context, b model.ScheduleBooking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := r.CreateTx(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// CreateTx inserts a booking within the scope of an existing transaction.
// The caller must commit or roll back.  A second booking for the same
// submission yields ErrDuplicateSubmission.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b model.ScheduleBooking) error {
	ids, err := json.Marshal(b.AssignedChannelIDs)
	if err != nil {
		return err
	}
	var target sql.NullInt64
	if b.TargetReach != nil {
		target = sql.NullInt64{Int64: *b.TargetReach, Valid: true}
	}
	const q = `INSERT INTO schedule_bookings
        (id, submission_id, scheduled_date, assigned_channel_ids, total_estimated_reach,
         target_reach, target_met, reservation_token, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q, b.ID, b.SubmissionID, b.Date.Format(model.DateLayout), string(ids),
		b.TotalEstimatedReach, target, b.TargetMet, b.ReservationToken, string(model.BookingCommitted),
		b.CreatedAt.UTC())
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return ErrDuplicateSubmission
	}
	return err
}

// LoadBooking returns a booking by id, including cancelled tombstones.
func (r *BookingRepo) LoadBooking(ctx context.Context, id string) (model.ScheduleBooking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM schedule_bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleBooking{}, ErrBookingNotFound
	}
	return b, err
}

// ListCommittedSince returns the committed bookings scheduled on or after
// from, oldest date first.  Startup uses it to rebuild in-process capacity
// counters.
func (r *BookingRepo) ListCommittedSince(ctx context.Context, from time.Time) ([]model.ScheduleBooking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM schedule_bookings
         WHERE status = 'committed' AND scheduled_date >= ? ORDER BY scheduled_date, created_at, id`,
		from.Format(model.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ScheduleBooking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkCancelled tombstones a committed booking.  It returns ErrConflict
// when the booking is not in the committed state and ErrBookingNotFound
// when it does not exist.
func (r *BookingRepo) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedule_bookings SET status = 'cancelled', cancelled_at = ? WHERE id = ? AND status = 'committed'`,
		at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM schedule_bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookingNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func scanBooking(s rowScanner) (model.ScheduleBooking, error) {
	var (
		b         model.ScheduleBooking
		ids       []byte
		target    sql.NullInt64
		status    string
		cancelled sql.NullTime
	)
	if err := s.Scan(&b.ID, &b.SubmissionID, &b.Date, &ids, &b.TotalEstimatedReach, &target, &b.TargetMet,
		&b.ReservationToken, &status, &b.CreatedAt, &cancelled); err != nil {
		return model.ScheduleBooking{}, err
	}
	if err := json.Unmarshal(ids, &b.AssignedChannelIDs); err != nil {
		return model.ScheduleBooking{}, fmt.Errorf("booking %s channel ids: %w", b.ID, err)
	}
	if target.Valid {
		v := target.Int64
		b.TargetReach = &v
	}
	b.Status = model.BookingStatus(status)
	if cancelled.Valid {
		t := cancelled.Time
		b.CancelledAt = &t
	}
	return b, nil
}
