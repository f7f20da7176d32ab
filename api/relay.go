package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"flowboard/domain"
)

// relayEvent accepts an event published by a sibling process that has no
// local subscriber registry and delivers it to this process's registry on
// the caller's behalf.
func (s *server) relayEvent(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" ||
		subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.RelaySecret)) != 1 {
		return c.NoContent(http.StatusUnauthorized)
	}
	if s.Hub == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	var ev domain.Event
	if err := decodeBody(c, &ev); err != nil || ev.Room == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if _, ok := domain.ParseEventType(string(ev.Type)); !ok {
		return c.NoContent(http.StatusBadRequest)
	}
	s.Hub.Emit(ev)
	return c.NoContent(http.StatusAccepted)
}
