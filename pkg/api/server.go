package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperport/pkg/crypto"
	"github.com/uhyunpark/hyperport/pkg/settlement"
	"github.com/uhyunpark/hyperport/pkg/storage"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
	maxBodyBytes     = 1 << 20
)

// EventLog serves persisted settlement events by sequence number.
type EventLog interface {
	Events(from uint64, limit int) ([]storage.EventRecord, error)
}

type Options struct {
	Engine *settlement.Engine
	Hub    *Hub
	// Events is optional; /api/v1/events answers 404 without it.
	Events         EventLog
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	// ShutdownTimeout bounds graceful shutdown in Start; 5s when zero.
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Server exposes the settlement engine over REST and WebSocket.
type Server struct {
	engine  *settlement.Engine
	hub     *Hub
	events  EventLog
	logger  *zap.Logger
	router  *mux.Router
	handler http.Handler
	grace   time.Duration

	// serialises engine entry points; the engine rejects concurrent entry
	mu sync.Mutex
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		engine: opts.Engine,
		hub:    opts.Hub,
		events: opts.Events,
		logger: opts.Logger,
		router: mux.NewRouter(),
		grace:  opts.ShutdownTimeout,
	}
	s.setupRoutes(opts.Gatherer)

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)
	return s, nil
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")
	api.HandleFunc("/orders/{hash}/status", s.handleOrderStatus).Methods("GET")
	api.HandleFunc("/offerers/{address}/counter", s.handleCounter).Methods("GET")
	api.HandleFunc("/offerers/{address}/nonce", s.handleNonce).Methods("GET")

	api.HandleFunc("/orders/hash", s.handleOrderHash).Methods("POST")
	api.HandleFunc("/orders/validate", s.handleValidate).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the WebSocket hub the server registers clients with.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves HTTP on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "clients": s.hub.Clients()})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Information())
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(mux.Vars(r)["hash"])
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order hash", "expected 0x-prefixed 32 bytes")
		return
	}
	hash := common.BytesToHash(raw)

	status, err := s.engine.GetOrderStatus(hash)
	if err != nil {
		s.logger.Error("load order status", zap.String("order_hash", hash.Hex()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store error", err.Error())
		return
	}
	respondJSON(w, OrderStatusResponse{OrderHash: hash, OrderStatus: status})
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	s.respondOffererValue(w, r, s.engine.GetCounter)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	s.respondOffererValue(w, r, s.engine.GetContractOffererNonce)
}

func (s *Server) respondOffererValue(w http.ResponseWriter, r *http.Request, load func(common.Address) (*big.Int, error)) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	v, err := load(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store error", err.Error())
		return
	}
	respondJSON(w, OffererValueResponse{Address: addr, Value: v.String()})
}

func (s *Server) handleOrderHash(w http.ResponseWriter, r *http.Request) {
	var params settlement.OrderParameters
	if !decodeBody(w, r, &params) {
		return
	}
	hash, err := s.engine.GetOrderHash(params)
	if err != nil {
		respondSettlementError(w, err)
		return
	}
	respondJSON(w, OrderHashResponse{OrderHash: hash})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateOrdersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Orders) == 0 {
		respondError(w, http.StatusBadRequest, "missing orders", "")
		return
	}

	orders := make([]settlement.Order, len(req.Orders))
	hashes := make([]common.Hash, len(req.Orders))
	for i, o := range req.Orders {
		orders[i] = o.order()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range orders {
		counter, err := s.engine.GetCounter(orders[i].Parameters.Offerer)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store error", err.Error())
			return
		}
		p := orders[i].Parameters
		p.Counter = counter
		if hashes[i], err = s.engine.GetOrderHash(p); err != nil {
			respondSettlementError(w, err)
			return
		}
	}

	// The zero caller is never an offerer, so every signature is checked.
	if err := s.engine.Validate(r.Context(), settlement.Call{}, orders); err != nil {
		s.logger.Info("validate rejected", zap.Int("orders", len(orders)), zap.Error(err))
		respondSettlementError(w, err)
		return
	}
	respondJSON(w, ValidateOrdersResponse{Status: "validated", OrderHashes: hashes})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Signature) == 0 {
		respondError(w, http.StatusBadRequest, "missing signature", "")
		return
	}

	p := req.Parameters
	hash, err := s.engine.GetOrderHash(p)
	if err != nil {
		respondSettlementError(w, err)
		return
	}

	cancel := &crypto.CancelEIP712{OrderHash: hash, Offerer: p.Offerer, Counter: p.Counter}
	ok, err := s.engine.Signer().VerifyCancelSignature(cancel, req.Signature)
	if err != nil || !ok {
		detail := "signature does not recover to the offerer"
		if err != nil {
			detail = err.Error()
		}
		respondError(w, http.StatusUnauthorized, "invalid cancel signature", detail)
		return
	}

	s.mu.Lock()
	err = s.engine.Cancel(r.Context(), settlement.Call{Caller: p.Offerer}, []settlement.OrderParameters{p})
	s.mu.Unlock()
	if err != nil {
		respondSettlementError(w, err)
		return
	}

	s.logger.Info("cancel accepted", zap.String("order_hash", hash.Hex()), zap.String("offerer", p.Offerer.Hex()))
	respondJSON(w, CancelOrderResponse{Status: "cancelled", OrderHash: hash})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotFound, "event log disabled", "")
		return
	}

	q := r.URL.Query()
	var from uint64
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from", err.Error())
			return
		}
		from = n
	}
	limit := defaultEventPage
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventPage)
	}

	records, err := s.events.Events(from, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event log error", err.Error())
		return
	}

	resp := EventsResponse{Events: make([]EventEntry, len(records)), Next: from}
	for i, rec := range records {
		resp.Events[i] = EventEntry{Seq: rec.Seq, Name: rec.Name, Data: rec.Data}
		resp.Next = rec.Seq + 1
	}
	respondJSON(w, resp)
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	writeError(w, status, ErrorResponse{Error: error, Message: message})
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// respondSettlementError maps engine failures to 422, keeping the order
// diagnostics. Reentrancy is reported as a conflict.
func respondSettlementError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	if errors.Is(err, settlement.ErrNoReentrantCalls) {
		status = http.StatusConflict
	}
	resp := ErrorResponse{Error: "settlement rejected", Message: err.Error()}
	if oe, ok := settlement.IsOrderError(err); ok {
		if oe.OrderIndex >= 0 {
			idx := oe.OrderIndex
			resp.OrderIndex = &idx
		}
		if oe.ItemIndex >= 0 {
			item := oe.ItemIndex
			resp.ItemIndex = &item
			resp.Side = oe.Side.String()
		}
	}
	writeError(w, status, resp)
}
