package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"flowboard/domain"
)

type moveRequest struct {
	Status         string `json:"status"`
	Position       int    `json:"position"`
	SourcePosition *int   `json:"sourcePosition"`
}

type moveResponse struct {
	Task     domain.Task `json:"task"`
	BoardIDs []string    `json:"boardIds"`
}

// moveTask applies a drag-and-drop. The target position is clamped here, not
// in the engine: to [0, columnLength] when entering another column, and to
// [0, columnLength-1] when reordering within the same column, where the
// moved task already occupies one slot.
//
// A ConcurrentModification from the engine is retried once against fresh
// state; a second conflict surfaces as 409.
func (s *server) moveTask(c echo.Context) (err error) {
	metrics, ctx := newMoveRequestMetrics(c.Request().Context(), s.Logger)
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, authErr := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		err = c.String(http.StatusUnauthorized, authErr.Error())
		return err
	}

	var req moveRequest
	if decodeErr := decodeBody(c, &req); decodeErr != nil {
		metrics.SetErrorStage("decode")
		err = c.String(http.StatusBadRequest, "invalid body")
		return err
	}
	targetStatus, parseErr := domain.ParseStatus(req.Status)
	if parseErr != nil {
		metrics.SetErrorStage("decode")
		err = c.String(http.StatusBadRequest, parseErr.Error())
		return err
	}

	task, taskErr := s.Store.Task(ctx, c.Param("id"))
	if taskErr != nil {
		metrics.SetErrorStage("storage")
		err = s.writeError(c, taskErr)
		return err
	}
	if task == nil {
		metrics.SetErrorStage("not_found")
		err = c.String(http.StatusNotFound, "not found")
		return err
	}

	gateStart := time.Now()
	gateErr := s.Gate.Authorize(ctx, userID, task.BoardID, domain.ActionMoveTask)
	metrics.ObserveGate(time.Since(gateStart))
	if gateErr != nil {
		metrics.SetErrorStage("gate")
		err = s.writeError(c, gateErr)
		return err
	}

	sourcePos := task.Position
	if req.SourcePosition != nil {
		sourcePos = *req.SourcePosition
	}

	source := *task
	applyStart := time.Now()
	moved, boardIDs, moveErr := s.applyMove(ctx, task, targetStatus, req.Position, sourcePos)
	if errors.Is(moveErr, domain.ErrConcurrentModification) {
		// Recompute against fresh state and retry exactly once.
		metrics.SetRetried()
		fresh, freshErr := s.Store.Task(ctx, task.ID)
		if freshErr != nil {
			moveErr = freshErr
		} else if fresh == nil {
			moveErr = domain.ErrNotFound
		} else {
			source = *fresh
			moved, boardIDs, moveErr = s.applyMove(ctx, fresh, targetStatus, req.Position, fresh.Position)
		}
	}
	metrics.ObserveApply(time.Since(applyStart))
	if moveErr != nil {
		metrics.SetErrorStage("move")
		err = s.writeError(c, moveErr)
		return err
	}

	for _, boardID := range boardIDs {
		s.evict(c, boardID)
	}
	s.Recorder.Record(ctx, moved.BoardID, userID, domain.AuditTaskMoved, map[string]any{
		"taskId": moved.ID,
		"from":   map[string]any{"status": source.Status, "position": source.Position},
		"to":     map[string]any{"status": moved.Status, "position": moved.Position},
	})
	s.Events.Publish(ctx, domain.BoardRoom(moved.BoardID), domain.EventTaskMoved, moveResponse{Task: moved, BoardIDs: boardIDs})

	err = c.JSON(http.StatusOK, moveResponse{Task: moved, BoardIDs: boardIDs})
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (s *server) applyMove(ctx context.Context, task *domain.Task, target domain.Status, position, sourcePos int) (domain.Task, []string, error) {
	length, err := s.Store.ColumnLength(ctx, task.BoardID, target)
	if err != nil {
		return domain.Task{}, nil, err
	}
	maxPos := length
	if task.Status == target {
		maxPos = length - 1
	}
	if maxPos < 0 {
		maxPos = 0
	}
	if position > maxPos {
		position = maxPos
	}
	if position < 0 {
		position = 0
	}
	return s.Engine.Move(ctx, domain.MoveIntent{
		TaskID:         task.ID,
		TargetStatus:   target,
		TargetPosition: position,
		SourcePosition: sourcePos,
	})
}
