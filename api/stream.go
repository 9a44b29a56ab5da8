package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const streamHeartbeat = 25 * time.Second

// stream upgrades the request to a server-sent-events connection and
// registers a session with the hub. Every committed change to the caller's
// tasks arrives as one SSE data frame; missed frames are gone for good.
func (h *handlers) stream(c echo.Context) error {
	// EventSource cannot set headers, so the token may ride a query param.
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Context(), authHeader)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(session)

	ctx := c.Request().Context()
	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case payload, open := <-session.C:
			if !open {
				return nil
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(payload); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
