package server

import (
	"context"
	"errors"
	"net/http"

	"RoundLedger/internal/ledger"
	"RoundLedger/internal/round"
)

var (
	// errBadRequest marks malformed input caught before the engine sees it
	errBadRequest = errors.New("bad request")

	errProjectionsUnavailable = errors.New("projections unavailable")
)

// First match wins, so wrapped kinds come before the kinds they wrap.
var errorStatus = []struct {
	err    error
	status int
	reason string
}{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{round.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{round.ErrNotFound, http.StatusNotFound, "not_found"},

	{round.ErrInvalidTiming, http.StatusBadRequest, "invalid_timing"},
	{round.ErrInvalidMarket, http.StatusBadRequest, "invalid_market"},
	{round.ErrInvalidFee, http.StatusBadRequest, "invalid_fee"},
	{round.ErrInvalidSide, http.StatusBadRequest, "invalid_side"},
	{round.ErrInvalidParticipant, http.StatusBadRequest, "invalid_participant"},
	{round.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{round.ErrAmountTooLarge, http.StatusBadRequest, "amount_too_large"},
	{round.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInvalidTransfer, http.StatusBadRequest, "invalid_transfer"},

	{round.ErrBettingClosed, http.StatusConflict, "betting_closed"},
	{round.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{round.ErrNothingToClaim, http.StatusConflict, "nothing_to_claim"},
	{round.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{round.ErrDepositFailed, http.StatusConflict, "deposit_failed"},
	{ledger.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},

	{round.ErrNotStarted, http.StatusTooEarly, "not_started"},
	{round.ErrTooEarly, http.StatusTooEarly, "too_early"},
	{round.ErrNotResolved, http.StatusTooEarly, "not_resolved"},

	{round.ErrReferencePriceUnavailable, http.StatusServiceUnavailable, "reference_price_unavailable"},
	{round.ErrStalePrice, http.StatusServiceUnavailable, "stale_price"},
	{round.ErrSinkTransferFailed, http.StatusServiceUnavailable, "sink_failed"},
	{round.ErrDedupUnavailable, http.StatusServiceUnavailable, "dedup_unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "timeout"},
	{errProjectionsUnavailable, http.StatusServiceUnavailable, "projections_unavailable"},
}

// statusFor maps an error kind to an HTTP status and a stable reason label
func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.reason
		}
	}
	return http.StatusInternalServerError, "internal"
}
