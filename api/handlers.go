package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"flowboard/domain"
	"flowboard/realtime"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Deps bundles everything the handlers compose per operation.
type Deps struct {
	Store       Storage
	Snapshots   SnapshotSource
	Evictor     CacheEvictor // optional
	Auth        Authenticator
	Gate        Gate
	Engine      Mover
	Recorder    Recorder
	Events      Broadcaster
	Hub         *realtime.Hub // nil when this process has no live transport
	RelaySecret string
	Logger      *log.Logger
}

type server struct {
	Deps
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	s := &server{Deps: d}

	e.POST("/api/boards", s.createBoard)
	e.GET("/api/boards/:id", s.getBoard)
	e.POST("/api/boards/:id/archive", s.archiveBoard)
	e.POST("/api/boards/:id/participants", s.addParticipant)
	e.GET("/api/boards/:id/activity", s.getActivity)
	e.GET("/api/boards/:id/stream", s.streamBoard)
	e.POST("/api/tasks", s.createTask)
	e.PATCH("/api/tasks/:id", s.updateTask)
	e.DELETE("/api/tasks/:id", s.deleteTask)
	e.POST("/api/tasks/:id/move", s.moveTask)
	e.POST("/internal/events", s.relayEvent)
	e.GET("/healthz", s.healthz)
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// writeError maps domain errors to responses. Denials and vanished entities
// are user-facing; everything else is an opaque 500.
func (s *server) writeError(c echo.Context, err error) error {
	var denied *domain.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		return c.JSON(http.StatusForbidden, map[string]string{
			"error":  "access denied",
			"reason": string(denied.Reason),
		})
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConcurrentModification):
		return c.String(http.StatusConflict, "concurrent modification, retry with fresh state")
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, "internal error")
	}
}

func (s *server) evict(c echo.Context, boardID string) {
	if s.Evictor != nil {
		s.Evictor.Evict(c.Request().Context(), boardID)
	}
}

func (s *server) healthz(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func (s *server) createBoard(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(c, &req); err != nil || req.Name == "" {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	board := domain.Board{
		ID:        uuid.NewString(),
		Name:      req.Name,
		OwnerID:   userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.CreateBoard(ctx, board); err != nil {
		return s.writeError(c, err)
	}
	s.Recorder.Record(ctx, board.ID, userID, domain.AuditBoardCreated, map[string]string{"name": board.Name})
	return c.JSON(http.StatusCreated, board)
}

func (s *server) getBoard(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if err := s.Gate.Authorize(ctx, userID, boardID, domain.ActionViewBoard); err != nil {
		return s.writeError(c, err)
	}
	snapshot, err := s.Snapshots.Snapshot(ctx, boardID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *server) archiveBoard(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if err := s.Gate.Authorize(ctx, userID, boardID, domain.ActionArchiveBoard); err != nil {
		return s.writeError(c, err)
	}
	if err := s.Store.ArchiveBoard(ctx, boardID); err != nil {
		return s.writeError(c, err)
	}
	s.evict(c, boardID)
	s.Recorder.Record(ctx, boardID, userID, domain.AuditBoardArchived, nil)
	s.Events.Publish(ctx, domain.BoardRoom(boardID), domain.EventBoardArchived, map[string]string{"boardId": boardID})
	return c.NoContent(http.StatusNoContent)
}

func (s *server) addParticipant(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := decodeBody(c, &req); err != nil || req.UserID == "" {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid role")
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if err := s.Gate.Authorize(ctx, userID, boardID, domain.ActionManageParticipants); err != nil {
		return s.writeError(c, err)
	}
	p := domain.Participant{BoardID: boardID, UserID: req.UserID, Role: role}
	if err := s.Store.AddParticipant(ctx, p); err != nil {
		return s.writeError(c, err)
	}
	s.Recorder.Record(ctx, boardID, userID, domain.AuditParticipantAdded, p)
	s.Events.Publish(ctx, domain.BoardRoom(boardID), domain.EventParticipantAdded, p)
	return c.NoContent(http.StatusNoContent)
}

func (s *server) getActivity(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if err := s.Gate.Authorize(ctx, userID, boardID, domain.ActionViewBoard); err != nil {
		return s.writeError(c, err)
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return c.String(http.StatusBadRequest, "invalid limit")
		}
	}
	entries, err := s.Store.ListAudit(ctx, boardID, limit)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *server) createTask(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req struct {
		BoardID string `json:"boardId"`
		Title   string `json:"title"`
		Notes   string `json:"notes"`
		Status  string `json:"status"`
	}
	if err := decodeBody(c, &req); err != nil || req.BoardID == "" || req.Title == "" {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	status := domain.StatusTodo
	if req.Status != "" {
		status, err = domain.ParseStatus(req.Status)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
	}
	ctx := c.Request().Context()
	if err := s.Gate.Authorize(ctx, userID, req.BoardID, domain.ActionCreateTask); err != nil {
		return s.writeError(c, err)
	}
	task := domain.Task{
		ID:        uuid.NewString(),
		BoardID:   req.BoardID,
		Status:    status,
		Title:     req.Title,
		Notes:     req.Notes,
		CreatedBy: userID,
	}
	if status == domain.StatusDone {
		now := time.Now().UTC()
		task.CompletedAt = &now
	}
	if err := s.Store.CreateTask(ctx, &task); err != nil {
		return s.writeError(c, err)
	}
	s.evict(c, task.BoardID)
	s.Recorder.Record(ctx, task.BoardID, userID, domain.AuditTaskCreated, task)
	s.Events.Publish(ctx, domain.BoardRoom(task.BoardID), domain.EventTaskCreated, task)
	return c.JSON(http.StatusCreated, task)
}

func (s *server) updateTask(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	task, err := s.Store.Task(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	if task == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	if err := s.Gate.Authorize(ctx, userID, task.BoardID, domain.ActionEditTask); err != nil {
		return s.writeError(c, err)
	}
	var req struct {
		Title *string `json:"title"`
		Notes *string `json:"notes"`
	}
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Title == nil && req.Notes == nil {
		return c.String(http.StatusBadRequest, "update had no fields")
	}
	if req.Title != nil && *req.Title == "" {
		return c.String(http.StatusBadRequest, "title must not be empty")
	}
	updated, err := s.Store.UpdateTaskContent(ctx, task.ID, req.Title, req.Notes)
	if err != nil {
		return s.writeError(c, err)
	}
	s.evict(c, updated.BoardID)
	s.Recorder.Record(ctx, updated.BoardID, userID, domain.AuditTaskUpdated, updated)
	s.Events.Publish(ctx, domain.BoardRoom(updated.BoardID), domain.EventTaskUpdated, updated)
	return c.JSON(http.StatusOK, updated)
}

func (s *server) deleteTask(c echo.Context) error {
	userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	task, err := s.Store.Task(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	if task == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	if err := s.Gate.Authorize(ctx, userID, task.BoardID, domain.ActionDeleteTask); err != nil {
		return s.writeError(c, err)
	}
	deleted, err := s.Store.DeleteTask(ctx, task.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	s.evict(c, deleted.BoardID)
	s.Recorder.Record(ctx, deleted.BoardID, userID, domain.AuditTaskDeleted, map[string]any{
		"taskId": deleted.ID, "status": deleted.Status, "position": deleted.Position,
	})
	s.Events.Publish(ctx, domain.BoardRoom(deleted.BoardID), domain.EventTaskDeleted, map[string]string{
		"taskId": deleted.ID, "boardId": deleted.BoardID,
	})
	return c.NoContent(http.StatusNoContent)
}
