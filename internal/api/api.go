// Package api exposes the room lifecycle over HTTP. Handlers stay thin:
// validation plus a store or registry call; game progression lives in the
// host driver, not here.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
	"github.com/Ludge/goal-gala-quiz-time/internal/errors"
	"github.com/Ludge/goal-gala-quiz-time/internal/game"
	"github.com/Ludge/goal-gala-quiz-time/internal/host"
	"github.com/Ludge/goal-gala-quiz-time/internal/store"
)

// createRoomAttempts bounds join-code regeneration on collision.
const createRoomAttempts = 5

type Config struct {
	Router *gin.Engine
	Store  store.Store
	Games  *host.Registry
	Timing game.Timing
}

type API struct {
	store  store.Store
	games  *host.Registry
	timing game.Timing
}

func New(c Config) *API {
	a := &API{
		store:  c.Store,
		games:  c.Games,
		timing: c.Timing.WithDefaults(),
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/rooms", a.CreateRoom)
	v1.POST("/rooms/join", a.JoinRoom)
	v1.GET("/rooms/:id", a.GetRoom)
	v1.POST("/rooms/:id/start", a.StartGame)
	v1.POST("/rooms/:id/reset", a.ResetGame)
	v1.POST("/rooms/:id/answers", a.SubmitAnswer)
	v1.GET("/rooms/:id/leaderboard", a.GetLeaderboard)

	return a
}

type roomResponse struct {
	RoomID        string    `json:"room_id"`
	Code          string    `json:"code"`
	Phase         string    `json:"game_state"`
	QuestionIndex int       `json:"question_index"`
	CreateTime    time.Time `json:"created_at"`
}

type playerResponse struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"is_host"`
	Score    int    `json:"score"`
}

func toRoomResponse(r *domain.Room) roomResponse {
	return roomResponse{
		RoomID:        r.RoomID,
		Code:          r.Code,
		Phase:         string(r.Phase),
		QuestionIndex: r.QuestionIndex,
		CreateTime:    r.CreateTime,
	}
}

func toPlayerResponse(p *domain.Player) playerResponse {
	return playerResponse{
		PlayerID: p.PlayerID,
		Name:     p.Name,
		IsHost:   p.IsHost,
		Score:    p.Score,
	}
}

type createRoomRequest struct {
	HostName string `json:"host_name"`
}

type createRoomResponse struct {
	Room roomResponse   `json:"room"`
	Host playerResponse `json:"host"`
}

// CreateRoom makes a lobby room with a fresh join code and the creator as
// host. Code collisions regenerate instead of failing the request.
func (a *API) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := bind(c, &req); err != nil {
		abort(c, err)
		return
	}
	name, err := playerName(req.HostName)
	if err != nil {
		abort(c, err)
		return
	}

	var room *domain.Room
	for i := 0; i < createRoomAttempts; i++ {
		room, err = a.store.CreateRoom(c.Request.Context(), game.NewJoinCode())
		if err == nil {
			break
		}
		if !errors.Is(err, errors.CodeAlreadyExists) {
			abort(c, err)
			return
		}
	}
	if err != nil {
		abort(c, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("could not allocate a unique join code"),
			errors.WithCause(err)))
		return
	}

	hostPlayer, err := a.store.AddPlayer(c.Request.Context(), room.RoomID, name, true)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, createRoomResponse{
		Room: toRoomResponse(room),
		Host: toPlayerResponse(hostPlayer),
	})
}

type joinRoomRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type joinRoomResponse struct {
	Room   roomResponse   `json:"room"`
	Player playerResponse `json:"player"`
}

// JoinRoom adds a player by join code. Joining is a lobby-only operation and
// names must be unique within the room.
func (a *API) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := bind(c, &req); err != nil {
		abort(c, err)
		return
	}
	name, err := playerName(req.Name)
	if err != nil {
		abort(c, err)
		return
	}

	ctx := c.Request.Context()
	room, err := a.store.RoomByCode(ctx, strings.ToUpper(strings.TrimSpace(req.Code)))
	if err != nil {
		abort(c, err)
		return
	}
	if room.Phase != domain.PhaseLobby {
		abort(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room %s already started", room.Code)))
		return
	}

	players, err := a.store.ListPlayers(ctx, room.RoomID)
	if err != nil {
		abort(c, err)
		return
	}
	for _, p := range players {
		if strings.EqualFold(p.Name, name) {
			abort(c, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("name %q is taken in room %s", name, room.Code)))
			return
		}
	}

	player, err := a.store.AddPlayer(ctx, room.RoomID, name, false)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, joinRoomResponse{
		Room:   toRoomResponse(room),
		Player: toPlayerResponse(player),
	})
}

type getRoomResponse struct {
	Room    roomResponse     `json:"room"`
	Players []playerResponse `json:"players"`
}

func (a *API) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()

	room, err := a.store.RoomByID(ctx, c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	players, err := a.store.ListPlayers(ctx, room.RoomID)
	if err != nil {
		abort(c, err)
		return
	}

	resp := getRoomResponse{Room: toRoomResponse(room)}
	for i := range players {
		resp.Players = append(resp.Players, toPlayerResponse(&players[i]))
	}
	c.JSON(http.StatusOK, resp)
}

type startGameRequest struct {
	PlayerID string `json:"player_id"`
}

func (a *API) StartGame(c *gin.Context) {
	var req startGameRequest
	if err := bind(c, &req); err != nil {
		abort(c, err)
		return
	}

	if err := a.games.StartGame(c.Request.Context(), c.Param("id"), req.PlayerID); err != nil {
		abort(c, err)
		return
	}

	room, err := a.store.RoomByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": toRoomResponse(room)})
}

func (a *API) ResetGame(c *gin.Context) {
	var req startGameRequest
	if err := bind(c, &req); err != nil {
		abort(c, err)
		return
	}

	if err := a.games.Reset(c.Request.Context(), c.Param("id"), req.PlayerID); err != nil {
		abort(c, err)
		return
	}

	room, err := a.store.RoomByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": toRoomResponse(room)})
}

type submitAnswerRequest struct {
	PlayerID       string `json:"player_id"`
	QuestionID     string `json:"question_id"`
	SelectedOption int    `json:"selected_option_index"`
	TimeTakenMs    int64  `json:"time_taken_ms"`
}

type submitAnswerResponse struct {
	Correct bool `json:"is_correct"`
	Points  int  `json:"points"`
	Score   int  `json:"score"`
}

// SubmitAnswer records and grades one answer for the active question. Used
// by clients without a local engine; the rules match client.Engine exactly.
func (a *API) SubmitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if err := bind(c, &req); err != nil {
		abort(c, err)
		return
	}

	ctx := c.Request.Context()
	room, err := a.store.RoomByID(ctx, c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	if room.Phase != domain.PhaseQuestion {
		abort(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room %s has no active question", room.RoomID)))
		return
	}

	qs, err := a.store.ListQuestions(ctx, room.RoomID)
	if err != nil {
		abort(c, err)
		return
	}
	var question *domain.Question
	for i := range qs {
		if qs[i].QuestionID == req.QuestionID {
			question = &qs[i]
			break
		}
	}
	if question == nil {
		abort(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %s not found in room %s", req.QuestionID, room.RoomID)))
		return
	}
	if question.Number != room.QuestionIndex {
		abort(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question %s is not the active question", req.QuestionID)))
		return
	}
	if req.SelectedOption != domain.SentinelOption &&
		(req.SelectedOption < 0 || req.SelectedOption >= len(question.Options)) {
		abort(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option %d out of range for %d options",
				req.SelectedOption, len(question.Options))))
		return
	}

	correct := req.SelectedOption == question.CorrectOption
	answer, err := a.store.InsertAnswer(ctx, domain.Answer{
		PlayerID:       req.PlayerID,
		QuestionID:     question.QuestionID,
		SelectedOption: req.SelectedOption,
		ElapsedMs:      req.TimeTakenMs,
		Correct:        correct,
	})
	if err != nil {
		abort(c, err)
		return
	}

	resp := submitAnswerResponse{Correct: answer.Correct}
	if correct {
		resp.Points = game.Points(true, answer.ElapsedMs, a.timing.QuestionTime.Milliseconds())
		p, err := a.store.AddPlayerScore(ctx, req.PlayerID, resp.Points)
		if err != nil {
			abort(c, err)
			return
		}
		resp.Score = p.Score
	}
	c.JSON(http.StatusOK, resp)
}

type leaderboardEntryResponse struct {
	PlayerID    string `json:"player_id"`
	Name        string `json:"name"`
	Correct     int    `json:"correct_answers"`
	TotalTimeMs int64  `json:"total_time_ms"`
}

func (a *API) GetLeaderboard(c *gin.Context) {
	entries, err := a.store.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	resp := make([]leaderboardEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, leaderboardEntryResponse{
			PlayerID:    e.PlayerID,
			Name:        e.Name,
			Correct:     e.Correct,
			TotalTimeMs: e.TotalTimeMs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": resp})
}

func bind(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body"),
			errors.WithCause(err))
	}
	return nil
}

const maxNameLength = 24

func playerName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("name is required"))
	}
	if len(name) > maxNameLength {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("name longer than %d characters", maxNameLength))
	}
	return name, nil
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"error": gin.H{
			"code":    int(e.Code),
			"message": e.Error(),
		},
	})
}
