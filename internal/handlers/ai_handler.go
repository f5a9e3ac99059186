package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"medfinder/internal/ai"
	"medfinder/internal/api/middleware"
	"medfinder/internal/api/validator"
	"medfinder/internal/models"
	"medfinder/internal/utils/logger"
)

const headerIdempotencyKey = "Idempotency-Key"

type AIHandler struct {
	generator *ai.Generator
	responses ResponseHistory
	billing   BillingProvider
	log       *logger.Logger
}

func NewAIHandler(generator *ai.Generator, responses ResponseHistory, billing BillingProvider) *AIHandler {
	return &AIHandler{
		generator: generator,
		responses: responses,
		billing:   billing,
		log:       logger.New("ai_handler"),
	}
}

// Generate runs one metered generation. With Accept: text/event-stream the
// text is streamed as "chunk" events followed by a "done" or "error" event.
// @Summary Generate an answer
// @Tags ai
// @Security BearerAuth
// @Accept json
// @Produce json,text/event-stream
// @Param Idempotency-Key header string false "Retry-safe request key"
// @Param request body validator.GenerateRequest true "Prompt"
// @Success 200 {object} ai.GenerateOutput
// @Failure 402 {object} map[string]interface{} "Upgrade required"
// @Failure 429 {object} map[string]interface{} "Free quota exhausted"
// @Failure 503 {object} map[string]interface{} "Billing check failed"
// @Router /api/v1/ai/generate [post]
func (h *AIHandler) Generate(c echo.Context) error {
	var req validator.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	key := c.Request().Header.Get(headerIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}

	in := ai.GenerateInput{
		UserID:         middleware.UserID(c),
		IdempotencyKey: key,
		Method:         models.GenerationMethod(req.Method),
		Prompt:         req.Prompt,
		Model:          req.Model,
	}

	var stream *eventStream
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		stream = &eventStream{res: c.Response()}
		in.OnChunk = func(text string) error {
			return stream.send("chunk", map[string]string{"text": text})
		}
	}

	out, err := h.generator.Generate(c.Request().Context(), in)

	if stream != nil && stream.started {
		if err != nil {
			_ = stream.send("error", map[string]interface{}{"error": "generation failed", "usage": out.Usage})
			return nil
		}
		return stream.send("done", out)
	}
	if err != nil {
		return err
	}
	if out.Denied() {
		return c.JSON(ReasonStatus(out.Reason), map[string]interface{}{
			"error":  "generation refused",
			"reason": out.Reason,
			"usage":  out.Usage,
		})
	}
	if stream != nil {
		return stream.send("done", out)
	}
	return c.JSON(http.StatusOK, out)
}

// Usage returns the caller's quota state.
// @Summary Current AI usage
// @Tags ai
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/ai/usage [get]
func (h *AIHandler) Usage(c echo.Context) error {
	snap, err := h.generator.Current(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"usage":             snap,
		"billingConfigured": h.billing != nil && h.billing.Configured(),
	})
}

// ListResponses pages through the caller's stored responses, newest first.
// @Summary List my AI responses
// @Tags ai
// @Security BearerAuth
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/ai/responses [get]
func (h *AIHandler) ListResponses(c echo.Context) error {
	page, limit := pageParams(c)
	rows, total, err := h.responses.List(c.Request().Context(), middleware.UserID(c), page, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  rows,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetResponse returns one response owned by the caller; admins see all.
// @Summary Get an AI response
// @Tags ai
// @Security BearerAuth
// @Produce json
// @Param id path string true "Response ID"
// @Success 200 {object} models.AIResponse
// @Failure 404 {object} map[string]string "Not found"
// @Router /api/v1/ai/responses/{id} [get]
func (h *AIHandler) GetResponse(c echo.Context) error {
	resp, err := h.responses.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	grant, _ := middleware.GrantFrom(c)
	if resp.RequestorID != middleware.UserID(c) && !grant.IsAdmin() {
		return echo.NewHTTPError(http.StatusNotFound, "response not found")
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteMyResponses removes the caller's history. Usage counters are kept.
// @Summary Delete my AI responses
// @Tags ai
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]int64
// @Router /api/v1/ai/responses [delete]
func (h *AIHandler) DeleteMyResponses(c echo.Context) error {
	n, err := h.responses.DeleteForRequestor(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// TruncateResponses deletes every stored response.
// @Summary Delete all AI responses
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]int64
// @Router /api/v1/admin/ai/responses [delete]
func (h *AIHandler) TruncateResponses(c echo.Context) error {
	n, err := h.responses.Truncate(c.Request().Context())
	if err != nil {
		return err
	}
	h.log.Warn("Truncated %d AI responses on behalf of %s", n, middleware.UserID(c))
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// eventStream writes server-sent events, committing headers on first use.
type eventStream struct {
	res     *echo.Response
	started bool
}

func (s *eventStream) send(event string, data interface{}) error {
	if !s.started {
		h := s.res.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.res.WriteHeader(http.StatusOK)
		s.started = true
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.res, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.res.Flush()
	return nil
}
