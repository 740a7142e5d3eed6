package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"RoundLedger/internal/core"
	"RoundLedger/internal/query"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type createRoundRequest struct {
	Market    string `json:"market"`
	StartTs   int64  `json:"start_ts"`
	LockTs    int64  `json:"lock_ts"`
	ResolveTs int64  `json:"resolve_ts"`
	FeeBps    uint16 `json:"fee_bps"`
}

type createRoundResponse struct {
	RoundID uint64 `json:"round_id"`
}

// createRound opens a round. Omitted start_ts means now; omitted lock and
// resolve times follow the fixed geometry.
func (s *HTTPServer) createRound(req *apiRequest) (int, any, error) {
	var body createRoundRequest
	if err := decodeBody(req.Request, &body); err != nil {
		return 0, nil, err
	}
	market, err := parseMarket(body.Market)
	if err != nil {
		return 0, nil, err
	}

	start := body.StartTs
	if start == 0 {
		start = s.deps.Engine.Now()
	}
	lock, resolve := body.LockTs, body.ResolveTs
	if lock == 0 && resolve == 0 {
		lock, resolve = round.Schedule(start)
	}

	id, err := s.deps.Engine.CreateRound(req.Context(), req.principal, core.CreateRoundParams{
		Market:    market,
		StartTs:   start,
		LockTs:    lock,
		ResolveTs: resolve,
		FeeBps:    body.FeeBps,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, createRoundResponse{RoundID: id}, nil
}

func (s *HTTPServer) listRounds(req *apiRequest) (int, any, error) {
	market, err := parseMarket(req.URL.Query().Get("market"))
	if err != nil {
		return 0, nil, err
	}
	now := s.deps.Engine.Now()
	rounds := s.deps.Engine.ListRounds(market)
	items := make([]query.RoundView, 0, len(rounds))
	for _, r := range rounds {
		items = append(items, query.NewRoundView(r, now, s.deps.PriceDecimals))
	}
	return http.StatusOK, map[string]any{"items": items}, nil
}

func (s *HTTPServer) getRound(req *apiRequest) (int, any, error) {
	id, err := parseRoundID(req.params["id"])
	if err != nil {
		return 0, nil, err
	}
	return s.roundView(id)
}

func (s *HTTPServer) roundView(id uint64) (int, any, error) {
	r, err := s.deps.Engine.GetRound(id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewRoundView(r, s.deps.Engine.Now(), s.deps.PriceDecimals), nil
}

type placeBetRequest struct {
	Participant string `json:"participant"`
	Side        string `json:"side"`
	Amount      uint64 `json:"amount"`
	RequestID   string `json:"request_id"`
}

func (s *HTTPServer) placeBet(req *apiRequest) (int, any, error) {
	id, err := parseRoundID(req.params["id"])
	if err != nil {
		return 0, nil, err
	}
	var body placeBetRequest
	if err := decodeBody(req.Request, &body); err != nil {
		return 0, nil, err
	}
	participant, err := parseParticipant(body.Participant)
	if err != nil {
		return 0, nil, err
	}
	side, err := round.ParseSide(body.Side)
	if err != nil {
		return 0, nil, err
	}

	err = s.deps.Engine.PlaceBet(req.Context(), core.BetRequest{
		RoundID:     id,
		Participant: participant,
		Side:        side,
		Amount:      body.Amount,
		RequestID:   body.RequestID,
	})
	if err != nil {
		return 0, nil, err
	}
	return s.stakeView(id, participant)
}

func (s *HTTPServer) resolve(req *apiRequest) (int, any, error) {
	id, err := parseRoundID(req.params["id"])
	if err != nil {
		return 0, nil, err
	}
	if err := s.deps.Engine.Resolve(req.Context(), id); err != nil {
		return 0, nil, err
	}
	return s.roundView(id)
}

type claimRequest struct {
	Participant string `json:"participant"`
}

type claimResponse struct {
	RoundID     uint64 `json:"round_id"`
	Participant string `json:"participant"`
	Payout      uint64 `json:"payout"`
}

func (s *HTTPServer) claim(req *apiRequest) (int, any, error) {
	id, err := parseRoundID(req.params["id"])
	if err != nil {
		return 0, nil, err
	}
	var body claimRequest
	if err := decodeBody(req.Request, &body); err != nil {
		return 0, nil, err
	}
	participant, err := parseParticipant(body.Participant)
	if err != nil {
		return 0, nil, err
	}

	payout, err := s.deps.Engine.Claim(req.Context(), id, participant)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, claimResponse{RoundID: id, Participant: participant.Hex(), Payout: payout}, nil
}

func (s *HTTPServer) getStake(req *apiRequest) (int, any, error) {
	id, err := parseRoundID(req.params["id"])
	if err != nil {
		return 0, nil, err
	}
	participant, err := parseParticipant(req.params["participant"])
	if err != nil {
		return 0, nil, err
	}
	return s.stakeView(id, participant)
}

func (s *HTTPServer) stakeView(id uint64, participant common.Address) (int, any, error) {
	r, err := s.deps.Engine.GetRound(id)
	if err != nil {
		return 0, nil, err
	}
	up, down := s.deps.Engine.GetUserStakes(id, participant)
	v, err := query.NewStakeView(r, participant, up, down)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, v, nil
}

func (s *HTTPServer) claimHistory(req *apiRequest) (int, any, error) {
	if s.deps.History == nil {
		return 0, nil, errProjectionsUnavailable
	}
	participant, err := parseParticipant(req.params["participant"])
	if err != nil {
		return 0, nil, err
	}
	limit, before, err := pageParams(req.URL.Query())
	if err != nil {
		return 0, nil, err
	}
	page, err := s.deps.History.ClaimHistory(req.Context(), participant, limit, before)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, page, nil
}

func (s *HTTPServer) marketHistory(req *apiRequest) (int, any, error) {
	if s.deps.History == nil {
		return 0, nil, errProjectionsUnavailable
	}
	market, err := parseMarket(req.params["market"])
	if err != nil {
		return 0, nil, err
	}
	limit, before, err := pageParams(req.URL.Query())
	if err != nil {
		return 0, nil, err
	}
	if before < 0 {
		return 0, nil, fmt.Errorf("%w: before must be positive", errBadRequest)
	}
	page, err := s.deps.History.ListMarketHistory(req.Context(), market, limit, uint64(before))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, page, nil
}

type creditRequest struct {
	Amount uint64 `json:"amount"`
	Ref    string `json:"ref"`
}

func (s *HTTPServer) credit(req *apiRequest) (int, any, error) {
	participant, err := parseParticipant(req.params["participant"])
	if err != nil {
		return 0, nil, err
	}
	var body creditRequest
	if err := decodeBody(req.Request, &body); err != nil {
		return 0, nil, err
	}
	if body.Amount == 0 {
		return 0, nil, round.ErrZeroAmount
	}
	ref := body.Ref
	if ref == "" {
		ref = "credit:" + uuid.NewString()
	}

	if _, err := s.deps.Accounts.Credit(req.Context(), req.principal, participant, body.Amount, ref); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewAccountView(s.deps.Accounts, participant), nil
}

func (s *HTTPServer) getAccount(req *apiRequest) (int, any, error) {
	participant, err := parseParticipant(req.params["participant"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewAccountView(s.deps.Accounts, participant), nil
}

func (s *HTTPServer) journalHistory(req *apiRequest) (int, any, error) {
	if s.deps.History == nil {
		return 0, nil, errProjectionsUnavailable
	}
	participant, err := parseParticipant(req.params["participant"])
	if err != nil {
		return 0, nil, err
	}
	limit, before, err := pageParams(req.URL.Query())
	if err != nil {
		return 0, nil, err
	}
	entries, err := s.deps.History.GetJournalHistory(req.Context(), participant, limit, before)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"items": entries}, nil
}

func (s *HTTPServer) verifyIntegrity(req *apiRequest) (int, any, error) {
	if s.deps.History == nil {
		return 0, nil, errProjectionsUnavailable
	}
	report, err := s.deps.History.VerifyIntegrity(req.Context())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, report, nil
}

func parseRoundID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: round id %q", errBadRequest, s)
	}
	return id, nil
}

func parseParticipant(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", round.ErrInvalidParticipant, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", round.ErrInvalidParticipant)
	}
	return addr, nil
}

// parseMarket accepts a symbol such as "BTC/USD" (path-escaped or not) or
// a 0x-prefixed 32-byte market id.
func parseMarket(s string) (common.Hash, error) {
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, fmt.Errorf("%w: market is required", round.ErrInvalidMarket)
	}
	if strings.HasPrefix(s, "0x") && len(s) == 66 {
		h := common.HexToHash(s)
		if h == (common.Hash{}) {
			return common.Hash{}, fmt.Errorf("%w: zero market id", round.ErrInvalidMarket)
		}
		return h, nil
	}
	return round.MarketID(s), nil
}

func pageParams(q url.Values) (limit int, before int64, err error) {
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: limit %q", errBadRequest, v)
		}
	}
	if v := q.Get("before"); v != "" {
		if before, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("%w: before %q", errBadRequest, v)
		}
	}
	return query.ClampLimit(limit), before, nil
}
