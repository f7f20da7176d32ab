package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"flowboard/domain"
)

const streamHeartbeat = 30 * time.Second

// streamBoard serves a board's live event stream over SSE. The connection
// joins the board room for its lifetime; the first frame is a full snapshot
// so the client starts from consistent state.
func (s *server) streamBoard(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		// EventSource cannot set headers, so browsers pass the token in the query.
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	userID, err := s.Auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if err := s.Gate.Authorize(ctx, userID, boardID, domain.ActionStreamBoard); err != nil {
		return s.writeError(c, err)
	}
	if s.Hub == nil {
		return c.String(http.StatusServiceUnavailable, "streaming not served by this instance")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	connID := uuid.NewString()
	events := s.Hub.Register(connID)
	defer s.Hub.Unregister(connID)
	s.Hub.Join(connID, domain.BoardRoom(boardID))

	snapshot, err := s.Snapshots.Snapshot(ctx, boardID)
	if err != nil {
		return s.writeError(c, err)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		c.Logger().Error(err)
		return err
	}
	if err := writeSSE(c, flusher, "snapshot", data); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				c.Logger().Error(err)
				continue
			}
			if err := writeSSE(c, flusher, string(ev.Type), payload); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeSSE(c echo.Context, flusher http.Flusher, event string, data []byte) error {
	if _, err := c.Response().Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
