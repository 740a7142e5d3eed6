package round

import "errors"

// Error taxonomy. Every failure leaves round and stake state untouched and is
// retryable once the underlying condition changes.
var (
	ErrInvalidTiming = errors.New("invalid round timing")
	ErrInvalidMarket = errors.New("invalid market")
	ErrInvalidFee    = errors.New("invalid fee")
	ErrUnauthorized  = errors.New("operator authority required")
	ErrNotFound      = errors.New("round not found")

	ErrNotStarted    = errors.New("round not started")
	ErrBettingClosed = errors.New("betting closed")
	ErrInvalidSide   = errors.New("invalid side")

	ErrInvalidParticipant = errors.New("invalid participant")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrZeroAmount     = fmtKind(ErrInvalidAmount, "zero amount")
	ErrAmountTooLarge = fmtKind(ErrInvalidAmount, "amount too large")

	ErrReferencePriceUnavailable = errors.New("reference price unavailable")
	ErrStalePrice                = errors.New("stale price")

	ErrTooEarly        = errors.New("too early to resolve")
	ErrAlreadyResolved = errors.New("round already resolved")

	ErrNotResolved    = errors.New("round not resolved")
	ErrNothingToClaim = errors.New("nothing to claim")

	ErrSinkTransferFailed = errors.New("sink transfer failed")
	ErrDepositFailed      = errors.New("deposit failed")
	ErrDuplicateRequest   = errors.New("duplicate request")
	ErrDedupUnavailable   = errors.New("request deduplication unavailable")
)

// kindError is a sentinel that also matches its parent kind under errors.Is
type kindError struct {
	parent error
	msg    string
}

func fmtKind(parent error, msg string) error {
	return &kindError{parent: parent, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.parent }
