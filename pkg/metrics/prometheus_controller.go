package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusController struct {
	path string
}

func NewPrometheusController(path string) *PrometheusController {
	if path == "" {
		path = "/metrics"
	}
	return &PrometheusController{path: path}
}

func (c *PrometheusController) Key() string {
	return c.path
}

func (c *PrometheusController) Register(r *mux.Router) {
	r.Handle(c.path, promhttp.Handler()).Methods(http.MethodGet)
}

// NewRouter exposes the default registry at path and a liveness check at /healthz.
func NewRouter(path string) *mux.Router {
	r := mux.NewRouter()
	NewPrometheusController(path).Register(r)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

func NewServer(addr, path string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
