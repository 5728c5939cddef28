package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-dispatch/internal/alert"
	"github.com/example/driver-dispatch/internal/assignment"
	"github.com/example/driver-dispatch/internal/events"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/notify"
	"github.com/example/driver-dispatch/internal/store"
)

// Transitions are the driver- and operator-initiated moves.
type Transitions interface {
	Accept(ctx context.Context, orderID, driverID string) (bool, error)
	Reject(ctx context.Context, orderID, driverID string) (bool, error)
	Reset(ctx context.Context, orderID string) (bool, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (assignment.SweepReport, error)
}

// Seeder writes documents directly. Only the memory backend provides one.
type Seeder interface {
	PutOrder(o *models.Order)
	PutDriver(d *models.Driver)
	PutAdmin(a models.Admin)
}

// AdminTester pushes a test notification to the admin devices.
type AdminTester interface {
	SendTest(ctx context.Context) (int, error)
}

type Server struct {
	Transitions Transitions
	Events      events.Handler
	Sweeper     Sweeper
	WSReg       *notify.WSRegistry
	Seeder      Seeder
	AdminTester AdminTester
	Health      func(ctx context.Context) error

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, t Transitions, h events.Handler, s Sweeper, ws *notify.WSRegistry) *Server {
	srv := &Server{Transitions: t, Events: h, Sweeper: s, WSReg: ws, logger: logger.With("component", "http"), mux: mux.NewRouter()}
	srv.registerMiddleware()
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/orders/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/orders/{id}/reject", s.handleReject).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/orders/{id}/reset", s.handleReset).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/events/orders", s.handleOrderEvent).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/sweep", s.handleSweep).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/orders/{id}", s.handlePutOrder).Methods(http.MethodPut)
	s.mux.HandleFunc("/internal/drivers/{id}", s.handlePutDriver).Methods(http.MethodPut)
	s.mux.HandleFunc("/internal/admins/{id}", s.handlePutAdmin).Methods(http.MethodPut)
	s.mux.HandleFunc("/internal/admin/test-notification", s.handleTestNotification).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type driverRequest struct {
	DriverID string `json:"driverId"`
}

func decodeDriver(r *http.Request) (string, error) {
	var req driverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	if req.DriverID == "" {
		return "", errors.New("driverId is required")
	}
	return req.DriverID, nil
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	driverID, err := decodeDriver(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	orderID := mux.Vars(r)["id"]
	won, err := s.Transitions.Accept(r.Context(), orderID, driverID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !won {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"orderId": orderID, "driverId": driverID, "accepted": won})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	driverID, err := decodeDriver(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	orderID := mux.Vars(r)["id"]
	ok, err := s.Transitions.Reject(r.Context(), orderID, driverID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"orderId": orderID, "driverId": driverID, "rejected": ok})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	ok, err := s.Transitions.Reset(r.Context(), orderID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"orderId": orderID, "reset": ok})
}

func (s *Server) handleOrderEvent(w http.ResponseWriter, r *http.Request) {
	var ev events.OrderEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := events.Route(r.Context(), s.Events, ev)
	if errors.Is(err, events.ErrInvalidEvent) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": ev.OrderID, "outcome": res.Outcome, "offered": res.Offered})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.Sweeper.Sweep(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scanned": report.Scanned, "expired": report.Expired})
}

func (s *Server) handlePutOrder(w http.ResponseWriter, r *http.Request) {
	if s.Seeder == nil {
		http.Error(w, "document writes are not supported by this store", http.StatusNotImplemented)
		return
	}
	var o models.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o.ID = mux.Vars(r)["id"]
	s.Seeder.PutOrder(&o)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutDriver(w http.ResponseWriter, r *http.Request) {
	if s.Seeder == nil {
		http.Error(w, "document writes are not supported by this store", http.StatusNotImplemented)
		return
	}
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.ID = mux.Vars(r)["id"]
	s.Seeder.PutDriver(&d)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutAdmin(w http.ResponseWriter, r *http.Request) {
	if s.Seeder == nil {
		http.Error(w, "document writes are not supported by this store", http.StatusNotImplemented)
		return
	}
	var a models.Admin
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.ID = mux.Vars(r)["id"]
	s.Seeder.PutAdmin(a)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if s.AdminTester == nil {
		http.Error(w, "admin push is not configured", http.StatusNotImplemented)
		return
	}
	sent, err := s.AdminTester.SendTest(r.Context())
	if errors.Is(err, alert.ErrNoAdmins) {
		writeJSON(w, http.StatusOK, map[string]any{"sent": 0, "message": "no admin tokens found"})
		return
	}
	if err != nil {
		s.logger.Error("test notification failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

var upgrader = websocket.Upgrader{}

// handleWS keeps the driver's session registered until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(id, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "order busy, retry", http.StatusConflict)
	default:
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err, "request_id", requestIDFromContext(r.Context()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
