package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/kamilpajak/opsdiag/internal/diagnosis"
	"github.com/kamilpajak/opsdiag/internal/feedback"
	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/internal/web"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

const historyLimit = 50

func (h *Handler) handleList(c *gin.Context) {
	if err := h.ctrl.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	records, total := h.ctrl.Records()
	c.JSON(http.StatusOK, gin.H{"items": records, "total": total, "polling": h.ctrl.Polling()})
}

func (h *Handler) handleGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	detail, err := h.ctrl.Open(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) handleRun(c *gin.Context) {
	var req models.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, err := h.ctrl.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (h *Handler) handleFeedback(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var form feedback.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.ctrl.SubmitFeedback(c.Request.Context(), id, form)
	if err != nil && res == nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"record":     res.Record,
		"iterations": res.Iterations,
		"memories":   res.Memories,
		"report":     res.Report,
		"form":       res.Form,
		"gating":     feedback.Explain(res.Record.FeedbackState()),
	}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) handleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.ctrl.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history journal is not configured"})
		return
	}

	var body struct {
		Feedback    any `json:"feedback"`
		Transitions any `json:"transitions"`
	}
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		entries, err := h.history.ListFeedback(ctx, id, historyLimit)
		body.Feedback = entries
		return err
	})
	g.Go(func() error {
		transitions, err := h.history.ListTransitions(ctx, id, historyLimit)
		body.Transitions = transitions
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Error("history query failed", "record_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusOK, body)
}

// handleStream streams controller events until the client goes away. The
// current list snapshot is sent first.
func (h *Handler) handleStream(c *gin.Context) {
	emitter := web.NewSSEEmitter(c.Writer)
	if emitter == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	web.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)

	events, cancel := h.stream.Subscribe()
	defer cancel()

	records, total := h.ctrl.Records()
	emitter.Emit(tracker.Event{Type: tracker.EventSnapshot, Records: records, Total: total, Polling: h.ctrl.Polling()})

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			emitter.Emit(ev)
		case <-ticker.C:
			emitter.KeepAlive()
		}
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid diagnosis id"})
		return 0, false
	}
	return id, true
}

// statusFor maps a controller error to the response status.
func statusFor(err error) int {
	switch {
	case feedback.IsValidation(err), errors.Is(err, tracker.ErrMissingTarget):
		return http.StatusBadRequest
	case diagnosis.IsUnauthorized(err):
		return http.StatusUnauthorized
	case diagnosis.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
