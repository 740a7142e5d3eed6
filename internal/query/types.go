package query

// RoundView is a round as returned by the API. Prices are decimal strings.
type RoundView struct {
	ID           uint64 `json:"id"`
	Market       string `json:"market"`
	Phase        string `json:"phase"`
	StartTs      int64  `json:"start_ts"`
	LockTs       int64  `json:"lock_ts"`
	ResolveTs    int64  `json:"resolve_ts"`
	RefPrice     string `json:"ref_price,omitempty"`
	SettlePrice  string `json:"settle_price,omitempty"`
	UpPool       uint64 `json:"up_pool"`
	DownPool     uint64 `json:"down_pool"`
	FeeBps       uint16 `json:"fee_bps"`
	Fee          uint64 `json:"fee"`
	Resolved     bool   `json:"resolved"`
	Outcome      string `json:"outcome"`
	ClaimedTotal uint64 `json:"claimed_total"`
	CreatedAt    int64  `json:"created_at"`
	ResolvedAt   int64  `json:"resolved_at,omitempty"`
}

// PayoutProjection is the hypothetical payout under each outcome
type PayoutProjection struct {
	IfUp   uint64 `json:"if_up"`
	IfDown uint64 `json:"if_down"`
	IfFlat uint64 `json:"if_flat"`
}

// StakeView is one participant's stake in a round. Resolved rounds carry the
// claimable payout, unresolved ones a projection.
type StakeView struct {
	RoundID     uint64            `json:"round_id"`
	Participant string            `json:"participant"`
	Up          uint64            `json:"up"`
	Down        uint64            `json:"down"`
	Payout      *uint64           `json:"payout,omitempty"`
	Projected   *PayoutProjection `json:"projected,omitempty"`
}

// MarketHistoryEntry is a settled round read from the projections
type MarketHistoryEntry struct {
	RoundID      uint64 `json:"round_id"`
	Market       string `json:"market"`
	StartTs      int64  `json:"start_ts"`
	ResolveTs    int64  `json:"resolve_ts"`
	RefPrice     string `json:"ref_price"`
	SettlePrice  string `json:"settle_price"`
	UpPool       uint64 `json:"up_pool"`
	DownPool     uint64 `json:"down_pool"`
	Fee          uint64 `json:"fee"`
	Outcome      string `json:"outcome"`
	ClaimedTotal uint64 `json:"claimed_total"`
	ResolvedAt   int64  `json:"resolved_at"`
}

// ClaimRecord is one claim read from the projections
type ClaimRecord struct {
	RoundID     uint64 `json:"round_id"`
	Market      string `json:"market"`
	Participant string `json:"participant"`
	Payout      uint64 `json:"payout"`
	ClaimedAt   int64  `json:"claimed_at"`
	Sequence    int64  `json:"sequence"`
}

// Page wraps a list result with the projection watermark it reflects
type Page[T any] struct {
	Items        []T   `json:"items"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries
type JournalHistoryEntry struct {
	ID            int64  `json:"id"`
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check
type IntegrityReport struct {
	IsHealthy        bool               `json:"is_healthy"`
	HashChainBreaks  []int64            `json:"hash_chain_breaks,omitempty"`
	NegativeAccounts []AccountImbalance `json:"negative_accounts,omitempty"`
	JournalImbalance int64              `json:"journal_imbalance"`
}

// AccountImbalance is an internal account whose journal balance is negative
type AccountImbalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}
