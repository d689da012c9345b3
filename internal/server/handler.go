package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crimson-sun/bertserve/internal/metrics"
	"github.com/crimson-sun/bertserve/pkg/sentiment"
)

// Client-facing messages for rejected /classify requests.
const (
	msgNotJSON     = "Request must be application/json"
	msgTextMissing = "Field 'text' is required and must be a non-empty string"
	msgNotLoaded   = "model not loaded"
	helpMessage    = "BERT classifier API. POST JSON to /classify with {'text': '...'}"
)

// Classifier labels text. *sentiment.Classifier and *cache.Cache satisfy it.
type Classifier interface {
	Classify(ctx context.Context, text string) (sentiment.Result, error)
}

// Check reports whether a dependency is usable. Name appears in /ready
// failures.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	cls       Classifier
	log       *zap.Logger
	metrics   *metrics.Metrics
	staticDir string
	checks    []Check
}

// Ping handles GET /ping. It never touches the model.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Classify handles POST /classify.
func (h *Handler) Classify(c *gin.Context) {
	if !isJSON(c.GetHeader("Content-Type")) {
		respondError(c, http.StatusBadRequest, msgNotJSON)
		return
	}

	// The whole body must be one JSON document; trailing data is rejected.
	raw, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, msgTextMissing)
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		respondError(c, http.StatusBadRequest, msgTextMissing)
		return
	}
	text, ok := body["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		respondError(c, http.StatusBadRequest, msgTextMissing)
		return
	}

	if h.cls == nil {
		respondError(c, http.StatusServiceUnavailable, msgNotLoaded)
		return
	}

	start := time.Now()
	res, err := h.cls.Classify(c.Request.Context(), text)
	if h.metrics != nil {
		h.metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, sentiment.ErrEmptyText) {
			respondError(c, http.StatusBadRequest, msgTextMissing)
			return
		}
		h.log.Error("Classification error",
			zap.Error(err),
			zap.Int("text_len", len(text)),
			zap.String("request_id", c.GetString("request_id")),
		)
		if h.metrics != nil {
			h.metrics.ClassifyFailures.Inc()
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.Classifications.WithLabelValues(res.Label).Inc()
	}
	c.JSON(http.StatusOK, res)
}

// Root handles GET /: index.html from the static directory when present,
// otherwise a short usage message.
func (h *Handler) Root(c *gin.Context) {
	index := filepath.Join(h.staticDir, "index.html")
	if info, err := os.Stat(index); err == nil && !info.IsDir() {
		c.File(index)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": helpMessage})
}

// Ready handles GET /ready. It is 200 only when a classifier is attached and
// every check passes.
func (h *Handler) Ready(c *gin.Context) {
	if h.cls == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": msgNotLoaded})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for _, chk := range h.checks {
		if err := chk.Fn(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": chk.Name + " unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// isJSON accepts application/json and application/*+json, ignoring parameters.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" ||
		(strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}
