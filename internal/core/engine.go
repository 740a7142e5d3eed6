package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RoundLedger/internal/event"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// PriceOracle returns a fixed-point price for a market no older than maxAge
type PriceOracle interface {
	FetchPrice(ctx context.Context, market common.Hash, maxAge time.Duration) (int64, time.Time, error)
}

// ValueSource takes custody of a participant's stake
type ValueSource interface {
	Collect(ctx context.Context, t round.Transfer) error
}

// ValueSink pays value out of a round: fees and payouts
type ValueSink interface {
	Deliver(ctx context.Context, t round.Transfer) error
}

// Config holds engine limits and the clock
type Config struct {
	// Per-bet ceiling; 0 leaves only the MaxPool bound
	MaxBet uint64

	// Upper bound for a round's fee; never above 100%
	MaxFeeBps uint16

	BetMaxPriceAge     time.Duration
	ResolveMaxPriceAge time.Duration

	// Capacity of the in-memory request id LRU
	IdempotencyCapacity int

	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MaxFeeBps:           1_000,
		BetMaxPriceAge:      30 * time.Second,
		ResolveMaxPriceAge:  30 * time.Second,
		IdempotencyCapacity: 1_000_000,
		Now:                 time.Now,
	}
}

// Deps are the engine's collaborators. Source may be nil when stakes are
// attached to the call externally; Sink is required.
type Deps struct {
	Oracle     PriceOracle
	Source     ValueSource
	Sink       ValueSink
	Authorizer round.Authorizer
	DBChecker  DBIdempotencyChecker

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// CoreOutput is one committed event on its way to persistence and projections
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
}

// Engine owns all round and stake state. Operations on one round are
// serialized; operations on different rounds run concurrently.
type Engine struct {
	cfg Config

	store *round.Store
	locks *roundLocks

	// Serializes round creation so ids and RoundCreated events stay in order
	createMu sync.Mutex

	// Held shared by every mutating operation and exclusively by snapshot
	// and replay, so a snapshot never sees a commit without its event.
	state *stateGate

	// Serializes sequence assignment and the hash chain
	emitMu   sync.Mutex
	sequence int64
	hasher   *StateHasher

	requests *RequestDeduper

	oracle PriceOracle
	source ValueSource
	sink   ValueSink
	authz  round.Authorizer

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if uint64(cfg.MaxFeeBps) > round.BpsDenominator {
		cfg.MaxFeeBps = uint16(round.BpsDenominator)
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = DefaultConfig().IdempotencyCapacity
	}

	return &Engine{
		cfg:            cfg,
		store:          round.NewStore(),
		locks:          newRoundLocks(),
		state:          newStateGate(),
		hasher:         NewStateHasher(),
		requests:       NewRequestDeduper(cfg.IdempotencyCapacity, deps.DBChecker, deps.Logger),
		oracle:         deps.Oracle,
		source:         deps.Source,
		sink:           deps.Sink,
		authz:          deps.Authorizer,
		persistChan:    deps.PersistChan,
		projectionChan: deps.ProjectionChan,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
	}
}

// Now returns the engine clock in unix seconds
func (e *Engine) Now() int64 {
	return e.cfg.Now().Unix()
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// lockRound takes the shared state lock and the round's lock, both under ctx
func (e *Engine) lockRound(ctx context.Context, roundID uint64) (func(), error) {
	unshare, err := e.state.share(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, roundID)
	if err != nil {
		unshare()
		return nil, err
	}
	return func() {
		release()
		unshare()
	}, nil
}

// emit assigns the next sequence, extends the hash chain and hands the
// output to persistence (blocking) and projections (drop when full).
// Callers hold the round lock, so a round's events leave in commit order.
func (e *Engine) emit(evt event.Event) error {
	payload, err := event.Encode(evt)
	if err != nil {
		return err
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	seq := e.sequence + 1
	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(seq, payload)
	e.sequence = seq

	out := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: evt.IdempotencyKey(),
			EventType:      evt.EventType(),
			RoundID:        evt.Round(),
			Market:         evt.MarketID(),
			Timestamp:      e.cfg.Now().UTC(),
			Payload:        payload,
			StateHash:      hash,
			PrevHash:       prev,
		},
		Event: evt,
	}

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(seq))
	}

	e.logger.Debug().
		Int64("sequence", seq).
		Str("type", evt.EventType().String()).
		Uint64("round_id", evt.Round()).
		Msg("event emitted")

	return nil
}

// GetSequence returns the last emitted sequence
func (e *Engine) GetSequence() int64 {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	return e.sequence
}

// GetStateHash returns the current chain tip
func (e *Engine) GetStateHash() [32]byte {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	return e.hasher.GetPrevHash()
}

func (e *Engine) observe(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// errorReason maps an error to a stable metric label
func errorReason(err error) string {
	switch {
	case errors.Is(err, round.ErrNotFound):
		return "not_found"
	case errors.Is(err, round.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, round.ErrInvalidTiming):
		return "invalid_timing"
	case errors.Is(err, round.ErrInvalidMarket):
		return "invalid_market"
	case errors.Is(err, round.ErrInvalidFee):
		return "invalid_fee"
	case errors.Is(err, round.ErrNotStarted):
		return "not_started"
	case errors.Is(err, round.ErrBettingClosed):
		return "betting_closed"
	case errors.Is(err, round.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, round.ErrAmountTooLarge):
		return "amount_too_large"
	case errors.Is(err, round.ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, round.ErrInvalidParticipant):
		return "invalid_participant"
	case errors.Is(err, round.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, round.ErrDedupUnavailable):
		return "dedup_unavailable"
	case errors.Is(err, round.ErrReferencePriceUnavailable):
		return "reference_price_unavailable"
	case errors.Is(err, round.ErrDepositFailed):
		return "deposit_failed"
	case errors.Is(err, round.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, round.ErrTooEarly):
		return "too_early"
	case errors.Is(err, round.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, round.ErrNotResolved):
		return "not_resolved"
	case errors.Is(err, round.ErrNothingToClaim):
		return "nothing_to_claim"
	case errors.Is(err, round.ErrSinkTransferFailed):
		return "sink_failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

func wrapf(kind error, cause error) error {
	return fmt.Errorf("%w: %v", kind, cause)
}
