package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/repost-scheduler/internal/model"
)

// MemberRepo provides read access to the members table and the follower
// refresh write path.  Monthly usage counters are not stored here; they
// belong to the capacity ledger.
type MemberRepo struct {
	db *sql.DB
}

// NewMemberRepo returns a new MemberRepo bound to the given database.
func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{db: db} }

const memberColumns = `id, name, handle, follower_count, size_tier, families, reach_factor, status,
       monthly_submission_limit, created_at, updated_at`

// ListActive returns every member whose status is active, ordered by id so
// callers see a stable pool.
func (r *MemberRepo) ListActive(ctx context.Context) ([]model.Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID loads a single member regardless of status.
func (r *MemberRepo) GetByID(ctx context.Context, id string) (model.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, ErrMemberNotFound
	}
	return m, err
}

// UpdateFollowers stores a refreshed follower count and reach factor.  The
// size tier is recomputed from tt in the same statement so the two columns
// never disagree.
func (r *MemberRepo) UpdateFollowers(ctx context.Context, id string, followers int64, reachFactor *float64, tt model.TierTable) error {
	var m model.Member
	m.SetFollowerCount(followers, tt)
	var rf sql.NullFloat64
	if reachFactor != nil {
		rf = sql.NullFloat64{Float64: *reachFactor, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET follower_count = ?, size_tier = ?, reach_factor = ? WHERE id = ?`,
		m.FollowerCount, int(m.SizeTier), rf, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(s rowScanner) (model.Member, error) {
	var (
		m        model.Member
		tier     int
		families []byte
		rf       sql.NullFloat64
		status   string
	)
	if err := s.Scan(&m.ID, &m.Name, &m.Handle, &m.FollowerCount, &tier, &families, &rf, &status,
		&m.MonthlySubmissionLimit, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return model.Member{}, err
	}
	m.SizeTier = model.SizeTier(tier)
	if len(families) > 0 {
		if err := json.Unmarshal(families, &m.Families); err != nil {
			return model.Member{}, fmt.Errorf("member %s families: %w", m.ID, err)
		}
	}
	if rf.Valid {
		f := rf.Float64
		m.ReachFactor = &f
	}
	st, err := model.ParseMemberStatus(status)
	if err != nil {
		return model.Member{}, fmt.Errorf("member %s: %w", m.ID, err)
	}
	m.Status = st
	return m, nil
}
