package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/query"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// Engine is the part of the round engine the API drives
type Engine interface {
	Now() int64
	CreateRound(ctx context.Context, principal string, p core.CreateRoundParams) (uint64, error)
	PlaceBet(ctx context.Context, req core.BetRequest) error
	Resolve(ctx context.Context, roundID uint64) error
	Claim(ctx context.Context, roundID uint64, participant common.Address) (uint64, error)
	GetRound(id uint64) (round.Round, error)
	ListRounds(market common.Hash) []round.Round
	GetUserStakes(roundID uint64, participant common.Address) (up, down uint64)
}

// Accounts is the credit ledger as seen by the API
type Accounts interface {
	query.BalanceReader
	Credit(ctx context.Context, principal string, participant common.Address, amount uint64, ref string) (int64, error)
}

// History serves the projection-backed read routes
type History interface {
	ListMarketHistory(ctx context.Context, market common.Hash, limit int, beforeRound uint64) (*query.Page[query.MarketHistoryEntry], error)
	ClaimHistory(ctx context.Context, participant common.Address, limit int, beforeSequence int64) (*query.Page[query.ClaimRecord], error)
	GetJournalHistory(ctx context.Context, participant common.Address, limit int, beforeID int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// HTTPDeps wires the HTTP API. History, Health and Metrics are optional;
// without History the projection routes answer 503.
type HTTPDeps struct {
	Engine        Engine
	Accounts      Accounts
	History       History
	Health        *observability.HealthChecker
	Metrics       *observability.Metrics
	Operators     []OperatorToken
	PriceDecimals int32
	Logger        zerolog.Logger
}

// HTTPServer serves the JSON API on the gateway runtime mux
type HTTPServer struct {
	deps       HTTPDeps
	auth       operatorAuth
	mux        *runtime.ServeMux
	httpServer *http.Server
	addr       string
	logger     zerolog.Logger
}

func NewHTTPServer(addr string, deps HTTPDeps) (*HTTPServer, error) {
	s := &HTTPServer{
		deps:   deps,
		auth:   operatorAuth{tokens: deps.Operators},
		// Keep %2F inside a path segment so market symbols like BTC/USD route.
		mux:    runtime.NewServeMux(runtime.WithUnescapingMode(runtime.UnescapingModeAllExceptReserved)),
		addr:   addr,
		logger: deps.Logger,
	}
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the routed API
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *HTTPServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Start on an existing listener
func (s *HTTPServer) Serve(ctx context.Context, lis net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// apiRequest carries what a handler needs beyond the raw request
type apiRequest struct {
	*http.Request
	params    map[string]string
	principal string
}

type apiFunc func(req *apiRequest) (status int, body any, err error)

func (s *HTTPServer) registerRoutes() error {
	routes := []struct {
		method, pattern string
		operator        bool
		fn              apiFunc
	}{
		{http.MethodPost, "/v1/rounds", true, s.createRound},
		{http.MethodGet, "/v1/rounds", false, s.listRounds},
		{http.MethodGet, "/v1/rounds/{id}", false, s.getRound},
		{http.MethodPost, "/v1/rounds/{id}/bets", false, s.placeBet},
		{http.MethodPost, "/v1/rounds/{id}/resolve", false, s.resolve},
		{http.MethodPost, "/v1/rounds/{id}/claims", false, s.claim},
		{http.MethodGet, "/v1/rounds/{id}/stakes/{participant}", false, s.getStake},
		{http.MethodGet, "/v1/participants/{participant}/claims", false, s.claimHistory},
		{http.MethodGet, "/v1/markets/{market}/history", false, s.marketHistory},
		{http.MethodPost, "/v1/accounts/{participant}/credits", true, s.credit},
		{http.MethodGet, "/v1/accounts/{participant}", false, s.getAccount},
		{http.MethodGet, "/v1/accounts/{participant}/journal", false, s.journalHistory},
		{http.MethodGet, "/v1/admin/integrity", true, s.verifyIntegrity},
	}
	for _, rt := range routes {
		if err := s.mux.HandlePath(rt.method, rt.pattern, s.wrap(rt.method+" "+rt.pattern, rt.operator, rt.fn)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	if h := s.deps.Health; h != nil {
		for pattern, handler := range map[string]http.HandlerFunc{
			"/healthz": h.LivenessHandler,
			"/readyz":  h.ReadinessHandler,
		} {
			handler := handler
			err := s.mux.HandlePath(http.MethodGet, pattern, func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				handler(w, r)
			})
			if err != nil {
				return fmt.Errorf("register %s: %w", pattern, err)
			}
		}
	}
	return nil
}

func (s *HTTPServer) wrap(route string, operator bool, fn apiFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		req := &apiRequest{Request: r, params: params}

		status, body, err := func() (int, any, error) {
			if operator {
				principal, ok := s.auth.principal(r)
				if !ok {
					return 0, nil, round.ErrUnauthorized
				}
				req.principal = principal
			}
			return fn(req)
		}()

		if err != nil {
			status = s.writeError(w, route, err)
		} else {
			writeJSON(w, status, body)
		}

		if m := s.deps.Metrics; m != nil {
			m.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *HTTPServer) writeError(w http.ResponseWriter, route string, err error) int {
	status, reason := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("route", route).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Reason: reason})
	return status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: body: %v", errBadRequest, err)
	}
	return nil
}
