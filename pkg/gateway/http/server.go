// Package http exposes a [gateway.BaseGateway] over a small REST API.
//
//	GET  /pk/v1/read/{object}
//	PUT  /pk/v1/write/{object}
//	POST /pk/v1/invoke/{object}
//	GET  /pk/v1/version
//	GET  /metrics
package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
)

const ApiVersion = "v1"
const apiPrefix = "/pk/" + ApiVersion + "/"

type GatewayServer struct {
	*gateway.BaseGateway
	logger   *slog.Logger
	serveMux *http.ServeMux
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

// Create a new HTTP gateway around a base gateway
func NewGatewayServer(base *gateway.BaseGateway, logger *slog.Logger) *GatewayServer {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GatewayServer{
		BaseGateway: base,
		logger:      logger.With("service", "[HTTP]"),
		serveMux:    http.NewServeMux(),
		registry:    prometheus.NewRegistry(),
	}
	g.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pk_gateway_requests_total",
		Help: "Gateway requests by route and status code",
	}, []string{"route", "code"})
	g.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pk_gateway_request_duration_seconds",
		Help:    "Duration of gateway requests, transaction included",
		Buckets: prometheus.DefBuckets,
	})
	g.registry.MustRegister(g.requests, g.duration)

	g.logger.Info("initializing http gateway endpoints")
	g.serveMux.HandleFunc(apiPrefix+"read/", g.handleRead)
	g.serveMux.HandleFunc(apiPrefix+"write/", g.handleWrite)
	g.serveMux.HandleFunc(apiPrefix+"invoke/", g.handleInvoke)
	g.serveMux.HandleFunc(apiPrefix+"version", g.handleVersion)
	g.serveMux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	return g
}

func (g *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.serveMux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway on the given address.
func (g *GatewayServer) ListenAndServe(addr string) error {
	g.logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, g)
}

type valueResponse struct {
	Value string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// object extracts and validates the trailing object name of a route.
func (g *GatewayServer) object(w http.ResponseWriter, r *http.Request, route string) (string, bool) {
	object := strings.TrimPrefix(r.URL.Path, apiPrefix+route+"/")
	if len(object) != command.ObjectLength || strings.Contains(object, "/") {
		g.respondError(w, r, route, http.StatusBadRequest, "object must be exactly 5 characters")
		return "", false
	}
	return object, true
}

func (g *GatewayServer) respond(w http.ResponseWriter, r *http.Request, route string, status int, body any) {
	requestId := r.Header.Get("X-Request-Id")
	if requestId == "" {
		requestId = xid.New().String()
	}
	w.Header().Set("X-Request-Id", requestId)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
	g.requests.WithLabelValues(route, http.StatusText(status)).Inc()
	g.logger.Info("request served",
		"id", requestId, "route", route, "path", r.URL.Path, "status", status)
}

func (g *GatewayServer) respondError(w http.ResponseWriter, r *http.Request, route string, status int, message string) {
	g.respond(w, r, route, status, errorResponse{Error: message})
}

func (g *GatewayServer) handleRead(w http.ResponseWriter, r *http.Request) {
	defer g.observe(time.Now())
	if r.Method != http.MethodGet {
		g.respondError(w, r, "read", http.StatusMethodNotAllowed, "use GET")
		return
	}
	object, ok := g.object(w, r, "read")
	if !ok {
		return
	}
	data, err := g.Read(object)
	if err != nil {
		g.respondError(w, r, "read", http.StatusBadGateway, err.Error())
		return
	}
	g.respond(w, r, "read", http.StatusOK, valueResponse{Value: string(data)})
}

func (g *GatewayServer) handleWrite(w http.ResponseWriter, r *http.Request) {
	defer g.observe(time.Now())
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		g.respondError(w, r, "write", http.StatusMethodNotAllowed, "use PUT")
		return
	}
	object, ok := g.object(w, r, "write")
	if !ok {
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		g.respondError(w, r, "write", http.StatusBadRequest, err.Error())
		return
	}
	if err := g.Write(object, data); err != nil {
		g.respondError(w, r, "write", http.StatusBadGateway, err.Error())
		return
	}
	g.respond(w, r, "write", http.StatusOK, nil)
}

func (g *GatewayServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	defer g.observe(time.Now())
	if r.Method != http.MethodPost {
		g.respondError(w, r, "invoke", http.StatusMethodNotAllowed, "use POST")
		return
	}
	object, ok := g.object(w, r, "invoke")
	if !ok {
		return
	}
	param, err := io.ReadAll(r.Body)
	if err != nil {
		g.respondError(w, r, "invoke", http.StatusBadRequest, err.Error())
		return
	}
	data, err := g.Invoke(object, param)
	if err != nil {
		g.respondError(w, r, "invoke", http.StatusBadGateway, err.Error())
		return
	}
	g.respond(w, r, "invoke", http.StatusOK, valueResponse{Value: string(data)})
}

func (g *GatewayServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	defer g.observe(time.Now())
	version, err := g.Version()
	if err != nil {
		g.respondError(w, r, "version", http.StatusBadGateway, err.Error())
		return
	}
	g.respond(w, r, "version", http.StatusOK, valueResponse{Value: version})
}

func (g *GatewayServer) observe(start time.Time) {
	g.duration.Observe(time.Since(start).Seconds())
}
