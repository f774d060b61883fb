package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"melodyquest/database"
	"melodyquest/models"
	"melodyquest/quiz/events"
)

type PlayerView struct {
	UserID   uint      `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

// TrackView hides the title and cover until the round is revealed.
type TrackView struct {
	ID             uint   `json:"id"`
	YoutubeVideoID string `json:"youtube_video_id"`
	Title          string `json:"title,omitempty"`
	CoverImageURL  string `json:"cover_image_url,omitempty"`
}

type RoundView struct {
	ID           uint       `json:"id"`
	RoundNumber  int        `json:"round_number"`
	StartedAt    *time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	WinnerUserID *uint      `json:"winner_user_id"`
	RevealFlag   bool       `json:"reveal_flag"`
	Track        *TrackView `json:"track,omitempty"`
}

// State is the snapshot clients load to resynchronize.
type State struct {
	Game         models.Game         `json:"game"`
	CategoryIDs  []uint              `json:"category_ids"`
	Players      []PlayerView        `json:"players"`
	CurrentRound *RoundView          `json:"current_round"`
	RoundsPlayed int                 `json:"rounds_played"`
	Scores       []events.ScoreEntry `json:"scores"`
}

// GetState assembles the game, its roster, the current round and the
// scoreboard. The current round is the one in progress, or else the next
// one that has not started.
func (o *Orchestrator) GetState(ctx context.Context, gameID uint) (State, error) {
	db := o.db.WithContext(ctx)

	var st State
	if err := db.First(&st.Game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return State{}, gameNotFound(gameID)
		}
		return State{}, err
	}

	st.CategoryIDs = []uint{}
	if err := db.Model(&models.GameCategory{}).Where("game_id = ?", gameID).Order("category_id").
		Pluck("category_id", &st.CategoryIDs).Error; err != nil {
		return State{}, fmt.Errorf("load categories: %w", err)
	}

	var members []models.GamePlayer
	if err := db.Where("game_id = ?", gameID).Order("id").Find(&members).Error; err != nil {
		return State{}, fmt.Errorf("load players: %w", err)
	}
	userIDs := make([]uint, len(members))
	for i, m := range members {
		userIDs[i] = m.UserID
	}
	var users []models.User
	if len(userIDs) > 0 {
		if err := db.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return State{}, fmt.Errorf("load users: %w", err)
		}
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	st.Players = make([]PlayerView, len(members))
	for i, m := range members {
		st.Players[i] = PlayerView{UserID: m.UserID, Username: names[m.UserID], JoinedAt: m.CreatedAt}
	}

	var rounds []models.Round
	if err := db.Where("game_id = ?", gameID).Order("round_number").Find(&rounds).Error; err != nil {
		return State{}, fmt.Errorf("load rounds: %w", err)
	}
	var current *models.Round
	for i := range rounds {
		if rounds[i].EndedAt != nil {
			st.RoundsPlayed++
		}
		if current == nil && rounds[i].InProgress() {
			current = &rounds[i]
		}
	}
	if current == nil {
		for i := range rounds {
			if rounds[i].StartedAt == nil {
				current = &rounds[i]
				break
			}
		}
	}

	scores, err := database.Scoreboard(ctx, o.db, gameID)
	if err != nil {
		return State{}, err
	}
	st.Scores = scores

	if current != nil {
		st.CurrentRound = o.roundView(ctx, *current)
	}
	return st, nil
}

func (o *Orchestrator) roundView(ctx context.Context, r models.Round) *RoundView {
	view := &RoundView{
		ID:           r.ID,
		RoundNumber:  r.RoundNumber,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		WinnerUserID: r.WinnerUserID,
		RevealFlag:   r.RevealFlag,
	}
	track, err := o.catalog.GetTrack(ctx, r.TrackID)
	if err != nil {
		o.logger.Warn("Track lookup failed", zap.Uint("trackID", r.TrackID), zap.Error(err))
		view.Track = &TrackView{ID: r.TrackID}
		return view
	}
	view.Track = &TrackView{ID: track.ID, YoutubeVideoID: track.YoutubeVideoID}
	if r.RevealFlag {
		view.Track.Title = track.Title
		view.Track.CoverImageURL = track.CoverImageURL
	}
	return view
}
