package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crimson-sun/bertserve/internal/metrics"
)

// Options configures the router.
type Options struct {
	Logger    *zap.Logger
	Metrics   *metrics.Metrics    // nil disables request metrics
	Gatherer  prometheus.Gatherer // nil disables /metrics
	StaticDir string
	Checks    []Check // extra /ready dependencies
}

// New creates the gin engine with middleware and routes. cls may be nil, in
// which case /ping still answers and /classify returns 503.
func New(cls Classifier, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger(log))
	r.Use(Recovery(log))
	r.Use(CORS())
	if opts.Metrics != nil {
		r.Use(Metrics(opts.Metrics))
	}

	h := &Handler{
		cls:       cls,
		log:       log,
		metrics:   opts.Metrics,
		staticDir: opts.StaticDir,
		checks:    opts.Checks,
	}

	r.GET("/", h.Root)
	r.GET("/ping", h.Ping)
	r.GET("/ready", h.Ready)
	r.POST("/classify", h.Classify)

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
