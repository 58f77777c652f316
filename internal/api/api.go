// Package api implements the Observability API: a small HTTP surface for
// inspecting simulator state, injecting MOs, tuning the lifecycle
// scheduler, and streaming structured logs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nimbusgw/smppsim/internal/lifecycle"
	"github.com/nimbusgw/smppsim/internal/message"
	"github.com/nimbusgw/smppsim/internal/moinject"
	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/internal/smppd"
)

// Config is the environment-driven tunable surface for the HTTP server
// (spec §6: SERVER_PORT).
type Config struct {
	Port int `env:"SERVER_PORT" envDefault:"8080"`
}

// Deps bundles the collaborators the Observability API reports on or
// mutates.
type Deps struct {
	Registry  *registry.Registry
	Inbound   *message.Queue
	Scheduler *lifecycle.Scheduler
	Injector  *moinject.Injector
	Listener  *smppd.Listener
	Log       *logrus.Entry
}

// Server is the Observability API's HTTP server.
type Server struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	router  *mux.Router
	http    *http.Server
	hook    *broadcastHook
	promReg *prometheus.Registry
}

// New builds a Server and wires its routes. Call Run to start listening.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log,
		router:  mux.NewRouter(),
		hook:    newBroadcastHook(),
		promReg: prometheus.NewRegistry(),
	}
	if deps.Log != nil {
		deps.Log.Logger.AddHook(s.hook)
	} else {
		logrus.StandardLogger().AddHook(s.hook)
	}
	s.registerCollectors()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/queues", s.handleQueues).Methods(http.MethodGet)
	api.HandleFunc("/mo", s.handleInjectMO).Methods(http.MethodPost)
	api.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPost)
	api.HandleFunc("/logs/stream", s.handleLogStream).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
}

// registerCollectors exposes every counter named in the status snapshot
// (spec §4.9/§8) as a live-reading Prometheus collector on the server's own
// registry, so /metrics serves real simulator counters rather than only
// the default Go runtime metrics.
func (s *Server) registerCollectors() {
	d := s.deps
	gaugeFunc := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "smppsimd", Name: name, Help: help,
		}, f)
	}
	counterFunc := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "smppsimd", Name: name, Help: help,
		}, f)
	}

	collectors := []prometheus.Collector{
		gaugeFunc("sessions", "Currently bound sessions.", func() float64 {
			return float64(d.Registry.Count())
		}),
		gaugeFunc("inbound_count", "Messages currently retained in the inbound queue.", func() float64 {
			return float64(d.Inbound.Len())
		}),
		gaugeFunc("outbound_count", "Messages scheduled but not yet past a terminal transition.", func() float64 {
			return float64(d.Scheduler.Pending())
		}),
		gaugeFunc("throughput_1s", "Messages submitted in the most recently completed one-second window.", func() float64 {
			return float64(d.Inbound.Throughput1s())
		}),
		counterFunc("submitted_total", "Total submit_sm accepted.", func() float64 {
			return float64(d.Inbound.SubmittedTotal)
		}),
		counterFunc("evicted_total", "Total inbound queue entries evicted on overflow.", func() float64 {
			return float64(d.Inbound.EvictedTotal)
		}),
		counterFunc("delivered_total", "Total messages that reached the Delivered terminal state.", func() float64 {
			return float64(d.Scheduler.DeliveredTotal)
		}),
		counterFunc("receipts_sent_total", "Total delivery receipts written to a session mailbox.", func() float64 {
			return float64(d.Scheduler.ReceiptsSentTotal)
		}),
		counterFunc("dropped_total", "Total PDUs dropped due to a full session mailbox.", func() float64 {
			return float64(d.Registry.DroppedTotal)
		}),
	}
	if d.Injector != nil {
		collectors = append(collectors,
			counterFunc("mo_dropped_total", "Total MOs dropped with no bound receiver.", func() float64 {
				return float64(d.Injector.DroppedTotal)
			}),
			counterFunc("mo_injected_total", "Total MOs successfully injected.", func() float64 {
				return float64(d.Injector.InjectedTotal)
			}),
		)
	}
	if d.Listener != nil {
		collectors = append(collectors,
			counterFunc("rejected_total", "Total connections rejected over the session cap.", func() float64 {
				return float64(d.Listener.RejectedTotal)
			}),
		)
	}
	s.promReg.MustRegister(collectors...)
}

// Handler returns the server's routed mux, for embedding or testing
// without binding a real listening socket.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if s.log != nil {
		s.log.WithField("port", s.cfg.Port).Info("observability api listening")
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type statusResponse struct {
	Sessions          int    `json:"sessions"`
	InboundCount      int    `json:"inbound_count"`
	OutboundCount     int    `json:"outbound_count"`
	Throughput1s      int    `json:"throughput_1s"`
	SubmittedTotal    uint64 `json:"submitted_total"`
	EvictedTotal      uint64 `json:"evicted_total"`
	DeliveredTotal    uint64 `json:"delivered_total"`
	ReceiptsSentTotal uint64 `json:"receipts_sent_total"`
	DroppedTotal      uint64 `json:"dropped_total"`
	MODroppedTotal    uint64 `json:"mo_dropped_total"`
	MOInjectedTotal   uint64 `json:"mo_injected_total"`
	RejectedTotal     uint64 `json:"rejected_total"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Sessions:          s.deps.Registry.Count(),
		InboundCount:      s.deps.Inbound.Len(),
		OutboundCount:     s.deps.Scheduler.Pending(),
		Throughput1s:      s.deps.Inbound.Throughput1s(),
		SubmittedTotal:    s.deps.Inbound.SubmittedTotal,
		EvictedTotal:      s.deps.Inbound.EvictedTotal,
		DeliveredTotal:    s.deps.Scheduler.DeliveredTotal,
		ReceiptsSentTotal: s.deps.Scheduler.ReceiptsSentTotal,
		DroppedTotal:      s.deps.Registry.DroppedTotal,
	}
	if s.deps.Injector != nil {
		resp.MODroppedTotal = s.deps.Injector.DroppedTotal
		resp.MOInjectedTotal = s.deps.Injector.InjectedTotal
	}
	if s.deps.Listener != nil {
		resp.RejectedTotal = s.deps.Listener.RejectedTotal
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Snapshot())
}

type queuesResponse struct {
	Inbound         []message.Message `json:"inbound"`
	OutboundPending int               `json:"outbound_pending"`
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, queuesResponse{
		Inbound:         s.deps.Inbound.Snapshot(),
		OutboundPending: s.deps.Registry.OutboundPending(),
	})
}

func (s *Server) handleInjectMO(w http.ResponseWriter, r *http.Request) {
	if s.deps.Injector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"result": "rejected", "reason": "mo injector not configured"})
		return
	}
	var rec moinject.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"result": "rejected", "reason": err.Error()})
		return
	}
	if err := s.deps.Injector.InjectOnDemand(rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"result": "rejected", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type configUpdateRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// whitelisted tunables, per spec §4.9/§6.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"result": "rejected", "reason": err.Error()})
		return
	}

	n, numErr := strconv.Atoi(req.Value)

	switch req.Key {
	case "lifecycle.max_time_enroute_ms":
		if numErr != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"result": "rejected", "reason": "value must be an integer"})
			return
		}
		s.deps.Scheduler.SetMaxTimeEnrouteMS(n)
	case "lifecycle.percent_delivered":
		if numErr != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"result": "rejected", "reason": "value must be an integer"})
			return
		}
		s.deps.Scheduler.SetPercentDelivered(n)
	case "mo.interval_ms":
		if s.deps.Injector == nil {
			writeJSON(w, http.StatusConflict, map[string]string{"result": "rejected", "reason": "mo injector not configured"})
			return
		}
		if numErr != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"result": "rejected", "reason": "value must be an integer"})
			return
		}
		s.deps.Injector.SetIntervalMS(n)
	case "queue.capacity":
		if numErr != nil || n <= 0 {
			writeJSON(w, http.StatusConflict, map[string]string{"result": "rejected", "reason": "value must be a positive integer"})
			return
		}
		s.deps.Inbound.SetCapacity(n)
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"result": "rejected", "reason": "unknown or non-whitelisted key"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
