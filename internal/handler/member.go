package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/middleware"
	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/repository"
)

// MemberStore is the member read path plus the follower refresh write.
type MemberStore interface {
	GetByID(ctx context.Context, id string) (model.Member, error)
	UpdateFollowers(ctx context.Context, id string, followers int64, reachFactor *float64, tt model.TierTable) error
}

// MemberHandler serves member lookups and follower refreshes.  Tiers must
// be the table the scorer uses so stored tiers match scoring.
type MemberHandler struct {
	Store MemberStore
	Tiers model.TierTable
	Log   zerolog.Logger
}

func NewMemberHandler(store MemberStore, tiers model.TierTable, log zerolog.Logger) *MemberHandler {
	return &MemberHandler{Store: store, Tiers: tiers, Log: log.With().Str("component", "http").Logger()}
}

type memberView struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Handle                 string   `json:"handle"`
	FollowerCount          int64    `json:"follower_count"`
	SizeTier               string   `json:"size_tier"`
	Families               []string `json:"families"`
	ReachFactor            float64  `json:"reach_factor"`
	EstimatedReach         int64    `json:"estimated_reach"`
	Status                 string   `json:"status"`
	MonthlySubmissionLimit int      `json:"monthly_submission_limit"`
}

func (h *MemberHandler) view(m model.Member) memberView {
	return memberView{
		ID:                     m.ID,
		Name:                   m.Name,
		Handle:                 m.Handle,
		FollowerCount:          m.FollowerCount,
		SizeTier:               m.SizeTier.String(),
		Families:               m.Families,
		ReachFactor:            m.EffectiveReachFactor(h.Tiers),
		EstimatedReach:         m.EstimatedReach(h.Tiers),
		Status:                 string(m.Status),
		MonthlySubmissionLimit: m.MonthlySubmissionLimit,
	}
}

// Get handles GET /v1/members/:id.
func (h *MemberHandler) Get(c echo.Context) error {
	m, err := h.Store.GetByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrMemberNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Str("member_id", c.Param("id")).Msg("load member")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, h.view(m))
}

type followersRequest struct {
	FollowerCount *int64   `json:"follower_count"`
	ReachFactor   *float64 `json:"reach_factor"`
}

// UpdateFollowers handles PATCH /v1/members/:id/followers.  The follower
// refresh collaborator posts the latest count and, optionally, a
// calibrated reach factor; the size tier is recomputed on write.
func (h *MemberHandler) UpdateFollowers(c echo.Context) error {
	var body followersRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.FollowerCount == nil || *body.FollowerCount < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "follower_count must be a non-negative integer"})
	}
	if rf := body.ReachFactor; rf != nil && (*rf < 0 || *rf > 1) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reach_factor must be between 0 and 1"})
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	err := h.Store.UpdateFollowers(ctx, id, *body.FollowerCount, body.ReachFactor, h.Tiers)
	if errors.Is(err, repository.ErrMemberNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Str("member_id", id).Msg("update followers")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	m, err := h.Store.GetByID(ctx, id)
	if err != nil {
		h.Log.Error().Err(err).Str("member_id", id).Msg("reload member")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	h.Log.Info().
		Str("member_id", id).
		Int64("followers", m.FollowerCount).
		Str("tier", m.SizeTier.String()).
		Str("by", middleware.UserID(c)).
		Msg("followers refreshed")
	return c.JSON(http.StatusOK, h.view(m))
}
