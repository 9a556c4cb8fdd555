package chatapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"proxie/pkg/orchestrator"
	"proxie/pkg/session"
	"proxie/pkg/tasks"
)

// ProcessingMessage is the reply to an accepted async request.
const ProcessingMessage = "Processing your message..."

// ChatRequest is the body of POST /chat and of each WebSocket frame.
type ChatRequest struct {
	Media        []session.Media `json:"media,omitempty"`
	Message      string          `json:"message,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Role         string          `json:"role,omitempty"`
	ConsumerID   string          `json:"consumer_id,omitempty"`
	ProviderID   string          `json:"provider_id,omitempty"`
	EnrollmentID string          `json:"enrollment_id,omitempty"`
	DisplayName  string          `json:"display_name,omitempty"`
	Action       string          `json:"action,omitempty"`
	Async        bool            `json:"async,omitempty"`
}

func (r ChatRequest) turn() orchestrator.TurnRequest {
	return orchestrator.TurnRequest{
		Media:        r.Media,
		SessionID:    r.SessionID,
		Role:         r.Role,
		ConsumerID:   r.ConsumerID,
		ProviderID:   r.ProviderID,
		EnrollmentID: r.EnrollmentID,
		DisplayName:  r.DisplayName,
		Message:      r.Message,
		Action:       r.Action,
	}
}

// ChatResponse is the reply to a chat request.
type ChatResponse struct {
	Data             map[string]any `json:"data,omitempty"`
	Draft            any            `json:"draft,omitempty"`
	SessionID        string         `json:"session_id"`
	Message          string         `json:"message"`
	TaskID           string         `json:"task_id,omitempty"`
	Status           string         `json:"status,omitempty"`
	Error            string         `json:"error,omitempty"`
	AwaitingApproval bool           `json:"awaiting_approval"`
}

func responseFrom(res *orchestrator.TurnResult) ChatResponse {
	if res == nil {
		return ChatResponse{}
	}
	return ChatResponse{
		Data:             res.Data,
		Draft:            res.Draft,
		SessionID:        res.SessionID,
		Message:          res.Message,
		AwaitingApproval: res.AwaitingApproval,
	}
}

// StatusFor maps a turn error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrModelFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrDeadline):
		return http.StatusGatewayTimeout
	case errors.Is(err, tasks.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// run executes one turn and shapes the response. The status is the HTTP
// code for err.
func (s *Server) run(ctx context.Context, req ChatRequest) (ChatResponse, int) {
	if req.Async && s.tasks != nil {
		return s.submit(req)
	}
	res, err := s.turns.HandleTurn(ctx, req.turn())
	out := responseFrom(res)
	if out.SessionID == "" {
		out.SessionID = req.SessionID
	}
	if err != nil {
		s.logger.Debug("turn for session %s ended with %v", out.SessionID, err)
		if out.Message == "" {
			out.Error = err.Error()
		}
	}
	return out, StatusFor(err)
}

func (s *Server) submit(req ChatRequest) (ChatResponse, int) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	turn := req.turn()
	id, err := s.tasks.Submit(func(ctx context.Context, report func(string)) (any, error) {
		report(ProcessingMessage)
		res, err := s.turns.HandleTurn(ctx, turn)
		return responseFrom(res), err
	})
	if err != nil {
		s.logger.Warn("async turn for session %s rejected: %v", req.SessionID, err)
		return ChatResponse{SessionID: req.SessionID, Error: err.Error()}, StatusFor(err)
	}
	s.logger.Debug("📥 queued task %s for session %s", id, req.SessionID)
	return ChatResponse{
		SessionID: req.SessionID,
		TaskID:    id,
		Status:    "processing",
		Message:   ProcessingMessage,
	}, http.StatusAccepted
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid chat request body"}) //nolint:wrapcheck // echo response
	}
	if c.QueryParam("async_mode") == "true" {
		req.Async = true
	}
	out, code := s.run(c.Request().Context(), req)
	return c.JSON(code, out) //nolint:wrapcheck // echo response
}

func (s *Server) handleTask(c echo.Context) error {
	if s.tasks == nil {
		return c.JSON(http.StatusNotFound, errorBody{Error: "async chat is disabled"}) //nolint:wrapcheck // echo response
	}
	snap, err := s.tasks.Get(c.Param("task_id"))
	if errors.Is(err, tasks.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error()}) //nolint:wrapcheck // echo response
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()}) //nolint:wrapcheck // echo response
	}
	return c.JSON(http.StatusOK, snap) //nolint:wrapcheck // echo response
}
