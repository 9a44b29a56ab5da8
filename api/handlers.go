package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
	"taskhub/events"
	"taskhub/storage"
)

// kindStatus is the only place error kinds meet transport codes. Messages are
// never inspected.
var kindStatus = map[domain.Kind]int{
	domain.KindNotFound:           http.StatusNotFound,
	domain.KindAccessDenied:       http.StatusForbidden,
	domain.KindAlreadyCompleted:   http.StatusConflict,
	domain.KindDuplicate:          http.StatusConflict,
	domain.KindInvalidCredential:  http.StatusUnauthorized,
	domain.KindSessionInvalidated: http.StatusUnauthorized,
	domain.KindTxnExhausted:       http.StatusServiceUnavailable,
}

// Register wires all API routes on the provided Echo instance. The account
// routes are wired only when a local account service is supplied; with an
// external identity provider accounts is nil and those routes do not exist.
func Register(e *echo.Echo, svc TaskService, accounts AccountService, auth Authenticator, hub *events.Hub, logger *log.Logger, debug bool) {
	h := &handlers{svc: svc, accounts: accounts, auth: auth, hub: hub, logger: logger, debug: debug}

	if accounts != nil {
		e.POST("/api/auth/register", h.register)
		e.POST("/api/auth/login", h.login)
		e.POST("/api/auth/password", h.changePassword)
		e.POST("/api/auth/deactivate", h.deactivate)
	}

	e.POST("/api/tasks", h.createTask)
	e.GET("/api/tasks", h.listTasks)
	e.GET("/api/tasks/stats", h.taskStats)
	e.GET("/api/tasks/due", h.tasksDue)
	e.GET("/api/tasks/:id", h.getTask)
	e.PATCH("/api/tasks/:id", h.updateTask)
	e.DELETE("/api/tasks/:id", h.deleteTask)
	e.POST("/api/tasks/:id/complete", h.completeTask)
	e.POST("/api/tasks/bulk/update", h.bulkUpdate)
	e.POST("/api/tasks/bulk/delete", h.bulkDelete)

	e.GET("/api/stream", h.stream)
	e.GET("/healthz", h.healthz)
}

type handlers struct {
	svc      TaskService
	accounts AccountService
	auth     Authenticator
	hub      *events.Hub
	logger   *log.Logger
	debug    bool
}

func (h *handlers) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// userID authenticates the request, or writes the 401 itself and reports
// ok=false.
func (h *handlers) userID(c echo.Context) (string, bool) {
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		if domain.KindOf(err) == domain.KindSessionInvalidated {
			_ = h.writeError(c, err)
		} else {
			_ = c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		return "", false
	}
	return userID, true
}

func (h *handlers) writeError(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		c.Logger().Error(err)
		resp := errorResponse{Error: "internal error"}
		if h.debug {
			resp.Details = err.Error()
		}
		return c.JSON(http.StatusInternalServerError, resp)
	}
	var de *domain.Error
	message := err.Error()
	if errors.As(err, &de) {
		// strip wrapped causes; only the tagged message crosses the boundary
		message = de.Message
	}
	return c.JSON(status, errorResponse{Error: message, Kind: string(kind)})
}

// decodeBody decodes a JSON request body, rejecting unknown fields and
// payloads over the size cap.
func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func (h *handlers) register(c echo.Context) error {
	var req registerRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	u, err := h.accounts.Register(c.Request().Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *handlers) login(c echo.Context) error {
	var req loginRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	token, u, err := h.accounts.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, User: u})
}

func (h *handlers) changePassword(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req changePasswordRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if err := h.accounts.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deactivate(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	if err := h.accounts.Deactivate(c.Request().Context(), userID); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) createTask(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var draft domain.TaskDraft
	if err := decodeBody(c, &draft); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	t, err := h.svc.Create(c.Request().Context(), userID, draft)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *handlers) getTask(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	t, err := h.svc.Get(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) updateTask(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	t, err := h.svc.Update(c.Request().Context(), c.Param("id"), userID, patch)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) deleteTask(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), userID); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) completeTask(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	t, err := h.svc.Complete(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handlers) listTasks(c echo.Context) (err error) {
	ctx := c.Request().Context()
	metrics, spanCtx := newRequestMetrics(ctx, h.logger, "/api/tasks")
	c.SetRequest(c.Request().WithContext(spanCtx))
	ctx = spanCtx
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, ok := h.userID(c)
	metrics.ObserveAuth(time.Since(authStart))
	if !ok {
		metrics.SetErrorStage("auth")
		return nil
	}

	q, qErr := listQueryFromRequest(c)
	if qErr != nil {
		metrics.SetErrorStage("invalid_query")
		err = c.JSON(http.StatusBadRequest, errorResponse{Error: qErr.Error()})
		return err
	}

	storeStart := time.Now()
	page, listErr := h.svc.List(ctx, userID, q)
	metrics.ObserveStore(time.Since(storeStart))
	if listErr != nil {
		metrics.SetErrorStage("storage")
		err = h.writeError(c, listErr)
		return err
	}
	metrics.SetItemsReturned(len(page.Items))
	err = c.JSON(http.StatusOK, page)
	return err
}

func listQueryFromRequest(c echo.Context) (storage.TaskQuery, error) {
	q := storage.TaskQuery{
		Status:    domain.Status(c.QueryParam("status")),
		Priority:  domain.Priority(c.QueryParam("priority")),
		Tag:       c.QueryParam("tag"),
		Search:    c.QueryParam("search"),
		SortBy:    c.QueryParam("sortBy"),
		SortOrder: c.QueryParam("sortOrder"),
	}
	if raw := strings.TrimSpace(c.QueryParam("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, errors.New("invalid page")
		}
		q.Page = n
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, errors.New("invalid limit")
		}
		q.Limit = n
	}
	return q, nil
}

func (h *handlers) taskStats(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	stats, err := h.svc.Stats(c.Request().Context(), userID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// tasksDue serves overdue tasks by default, or a due-date window when start
// and end are supplied as RFC 3339 timestamps.
func (h *handlers) tasksDue(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	startRaw, endRaw := c.QueryParam("start"), c.QueryParam("end")
	if startRaw == "" && endRaw == "" {
		list, err := h.svc.Overdue(ctx, userID)
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid start"})
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid end"})
	}
	list, err := h.svc.DueBetween(ctx, userID, start, end)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *handlers) bulkUpdate(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req bulkUpdateRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	res, err := h.svc.BulkUpdate(c.Request().Context(), req.IDs, userID, req.Fields)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handlers) bulkDelete(c echo.Context) error {
	userID, ok := h.userID(c)
	if !ok {
		return nil
	}
	var req bulkDeleteRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	res, err := h.svc.BulkDelete(c.Request().Context(), req.IDs, userID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
