package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

var memberCols = []string{"id", "name", "handle", "follower_count", "size_tier", "families", "reach_factor", "status",
	"monthly_submission_limit", "created_at", "updated_at"}

var bookingCols = []string{"id", "submission_id", "scheduled_date", "assigned_channel_ids", "total_estimated_reach",
	"target_reach", "target_met", "reservation_token", "status", "created_at", "cancelled_at"}

func newMock(t *testing.T) (sqlmock.Sqlmock, *MemberRepo, *BookingRepo) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
		db.Close()
	})
	return mock, NewMemberRepo(db), NewBookingRepo(db)
}

func TestListActiveScansMembers(t *testing.T) {
	mock, members, _ := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("FROM members WHERE status = 'active'").WillReturnRows(
		sqlmock.NewRows(memberCols).
			AddRow("m1", "One", "@one", int64(12000), 3, `["house","techno"]`, 0.07, "active", 8, now, now).
			AddRow("m2", "Two", "@two", int64(900), 1, `["pop"]`, nil, "active", 4, now, now))

	got, err := members.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d members", len(got))
	}
	if got[0].SizeTier != 3 || !got[0].HasFamily("techno") || got[0].ReachFactor == nil || *got[0].ReachFactor != 0.07 {
		t.Fatalf("member 1 scanned wrong: %+v", got[0])
	}
	if got[1].ReachFactor != nil || got[1].Status != model.MemberActive || got[1].MonthlySubmissionLimit != 4 {
		t.Fatalf("member 2 scanned wrong: %+v", got[1])
	}
}

func TestListActiveRejectsUnknownStatus(t *testing.T) {
	mock, members, _ := newMock(t)
	now := time.Now()
	mock.ExpectQuery("FROM members").WillReturnRows(
		sqlmock.NewRows(memberCols).AddRow("m1", "One", "@one", int64(1), 1, `[]`, nil, "deleted", 1, now, now))
	if _, err := members.ListActive(context.Background()); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestGetMemberNotFound(t *testing.T) {
	mock, members, _ := newMock(t)
	mock.ExpectQuery("FROM members WHERE id").WithArgs("nope").WillReturnRows(sqlmock.NewRows(memberCols))
	if _, err := members.GetByID(context.Background(), "nope"); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestUpdateFollowersRecomputesTier(t *testing.T) {
	mock, members, _ := newMock(t)
	mock.ExpectExec("UPDATE members SET follower_count").
		WithArgs(int64(60_000), 4, sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := members.UpdateFollowers(context.Background(), "m1", 60_000, nil, model.DefaultTierTable()); err != nil {
		t.Fatalf("UpdateFollowers: %v", err)
	}

	mock.ExpectExec("UPDATE members SET follower_count").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := members.UpdateFollowers(context.Background(), "ghost", 1, nil, model.DefaultTierTable()); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func sampleBooking() model.ScheduleBooking {
	target := int64(1500)
	return model.ScheduleBooking{
		ID:                  "b-1",
		SubmissionID:        "s-1",
		Date:                time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC),
		AssignedChannelIDs:  []string{"m1", "m2"},
		TotalEstimatedReach: 1800,
		TargetReach:         &target,
		TargetMet:           true,
		ReservationToken:    "tok-1",
		Status:              model.BookingCommitted,
		CreatedAt:           time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPersistBooking(t *testing.T) {
	mock, _, bookings := newMock(t)
	b := sampleBooking()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO schedule_bookings").
		WithArgs("b-1", "s-1", "2030-01-02", `["m1","m2"]`, int64(1800), sqlmock.AnyArg(), true, "tok-1", "committed", b.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	if err := bookings.PersistBooking(context.Background(), b); err != nil {
		t.Fatalf("PersistBooking: %v", err)
	}
}

func TestPersistBookingDuplicateSubmission(t *testing.T) {
	mock, _, bookings := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO schedule_bookings").WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	if err := bookings.PersistBooking(context.Background(), sampleBooking()); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
}

func TestLoadBooking(t *testing.T) {
	mock, _, bookings := newMock(t)
	b := sampleBooking()
	cancelledAt := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM schedule_bookings WHERE id").WithArgs("b-1").WillReturnRows(
		sqlmock.NewRows(bookingCols).AddRow("b-1", "s-1", b.Date, `["m1","m2"]`, int64(1800), int64(1500), true,
			"tok-1", "cancelled", b.CreatedAt, cancelledAt))
	got, err := bookings.LoadBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("LoadBooking: %v", err)
	}
	if !got.Cancelled() || got.CancelledAt == nil || !got.CancelledAt.Equal(cancelledAt) {
		t.Fatalf("tombstone not scanned: %+v", got)
	}
	if len(got.AssignedChannelIDs) != 2 || got.AssignedChannelIDs[1] != "m2" || *got.TargetReach != 1500 {
		t.Fatalf("booking scanned wrong: %+v", got)
	}

	mock.ExpectQuery("FROM schedule_bookings WHERE id").WithArgs("missing").WillReturnRows(sqlmock.NewRows(bookingCols))
	if _, err := bookings.LoadBooking(context.Background(), "missing"); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}

func TestListCommittedSince(t *testing.T) {
	mock, _, bookings := newMock(t)
	b := sampleBooking()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'committed' AND scheduled_date >= ?")).WithArgs("2030-01-01").WillReturnRows(
		sqlmock.NewRows(bookingCols).
			AddRow("b-1", "s-1", b.Date, `["m1"]`, int64(10), nil, false, "tok-1", "committed", b.CreatedAt, nil).
			AddRow("b-2", "s-2", b.Date, `["m2","m3"]`, int64(20), int64(15), true, "tok-2", "committed", b.CreatedAt, nil))
	got, err := bookings.ListCommittedSince(context.Background(), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListCommittedSince: %v", err)
	}
	if len(got) != 2 || got[0].TargetReach != nil || got[1].ReservationToken != "tok-2" || len(got[1].AssignedChannelIDs) != 2 {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestMarkCancelled(t *testing.T) {
	mock, _, bookings := newMock(t)
	at := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE schedule_bookings SET status = 'cancelled'").WithArgs(at, "b-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := bookings.MarkCancelled(context.Background(), "b-1", at); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	mock.ExpectExec("UPDATE schedule_bookings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM schedule_bookings").WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	if err := bookings.MarkCancelled(context.Background(), "b-1", at); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec("UPDATE schedule_bookings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM schedule_bookings").WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	if err := bookings.MarkCancelled(context.Background(), "ghost", at); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}
