package query

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"RoundLedger/internal/core"
	"RoundLedger/internal/ledger"
	"RoundLedger/internal/projection"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// QueryService provides read-only access to the projection tables and the
// journal. Lists carry the projection watermark as as_of_sequence.
type QueryService struct {
	db            *sql.DB
	priceDecimals int32
}

func NewQueryService(db *sql.DB, priceDecimals int32) *QueryService {
	return &QueryService{db: db, priceDecimals: priceDecimals}
}

// ClampLimit applies the default and maximum page sizes
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// ListMarketHistory returns settled rounds of a market, newest first.
// beforeRound > 0 pages past that round id.
func (qs *QueryService) ListMarketHistory(ctx context.Context, market common.Hash, limit int, beforeRound uint64) (*Page[MarketHistoryEntry], error) {
	asOf, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT round_id, market, start_ts, resolve_ts, ref_price, settle_price,
		       up_pool, down_pool, fee, outcome, claimed, COALESCE(resolved_at, 0)
		FROM projections.rounds
		WHERE market = $1 AND resolved = TRUE`
	args := []any{market.Hex()}
	if beforeRound > 0 {
		query += ` AND round_id < $2`
		args = append(args, int64(beforeRound))
	}
	query += fmt.Sprintf(" ORDER BY round_id DESC LIMIT $%d", len(args)+1)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &Page[MarketHistoryEntry]{Items: []MarketHistoryEntry{}, AsOfSequence: asOf}
	for rows.Next() {
		var (
			e                         MarketHistoryEntry
			id                        int64
			ref, settle               int64
			up, down, fee, claimedStr string
		)
		if err := rows.Scan(&id, &e.Market, &e.StartTs, &e.ResolveTs, &ref, &settle,
			&up, &down, &fee, &e.Outcome, &claimedStr, &e.ResolvedAt); err != nil {
			return nil, err
		}
		e.RoundID = uint64(id)
		e.RefPrice = FormatPrice(ref, qs.priceDecimals)
		e.SettlePrice = FormatPrice(settle, qs.priceDecimals)
		if e.UpPool, err = parseNumeric(up); err != nil {
			return nil, err
		}
		if e.DownPool, err = parseNumeric(down); err != nil {
			return nil, err
		}
		if e.Fee, err = parseNumeric(fee); err != nil {
			return nil, err
		}
		if e.ClaimedTotal, err = parseNumeric(claimedStr); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, e)
	}
	return page, rows.Err()
}

// ClaimHistory returns a participant's claims, newest first.
// beforeSequence > 0 pages past that sequence.
func (qs *QueryService) ClaimHistory(ctx context.Context, participant common.Address, limit int, beforeSequence int64) (*Page[ClaimRecord], error) {
	asOf, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT round_id, market, participant, payout, claimed_at, sequence
		FROM projections.claims
		WHERE participant = $1`
	args := []any{participant.Hex()}
	if beforeSequence > 0 {
		query += ` AND sequence < $2`
		args = append(args, beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &Page[ClaimRecord]{Items: []ClaimRecord{}, AsOfSequence: asOf}
	for rows.Next() {
		var (
			c      ClaimRecord
			id     int64
			payout string
		)
		if err := rows.Scan(&id, &c.Market, &c.Participant, &payout, &c.ClaimedAt, &c.Sequence); err != nil {
			return nil, err
		}
		c.RoundID = uint64(id)
		if c.Payout, err = parseNumeric(payout); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, c)
	}
	return page, rows.Err()
}

// GetJournalHistory returns journal entries touching a participant's
// account, newest first. beforeID > 0 pages past that row id.
func (qs *QueryService) GetJournalHistory(ctx context.Context, participant common.Address, limit int, beforeID int64) ([]JournalHistoryEntry, error) {
	account := ledger.ParticipantAccount(participant).AccountPath()

	query := `
		SELECT id, journal_id, batch_id, event_ref, debit_account, credit_account,
		       amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)`
	args := []any{account}
	if beforeID > 0 {
		query += ` AND id < $2`
		args = append(args, beforeID)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args)+1)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var (
			e   JournalHistoryEntry
			typ int32
		)
		if err := rows.Scan(&e.ID, &e.JournalID, &e.BatchID, &e.EventRef,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &typ, &e.Timestamp); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(typ).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity recomputes the hash chain over the event log and checks
// that no internal account went negative in the journal.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, payload, state_hash, prev_hash
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prev := core.GenesisHash()
	expected := int64(1)
	for rows.Next() {
		var (
			seq                  int64
			payload, state, back []byte
		)
		if err := rows.Scan(&seq, &payload, &state, &back); err != nil {
			return nil, err
		}
		want := core.ChainHash(prev, seq, payload)
		if seq != expected || string(back) != string(prev[:]) || string(state) != string(want[:]) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		copy(prev[:], state)
		expected = seq + 1
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balances, err := qs.journalBalances(ctx)
	if err != nil {
		return nil, err
	}
	external := ledger.DepositsAccount().AccountPath()
	for account, bal := range balances {
		report.JournalImbalance += bal
		if bal < 0 && account != external {
			report.NegativeAccounts = append(report.NegativeAccounts, AccountImbalance{Account: account, Balance: bal})
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.NegativeAccounts) == 0 &&
		report.JournalImbalance == 0
	return report, nil
}

// journalBalances sums debits minus credits per account path
func (qs *QueryService) journalBalances(ctx context.Context) (map[string]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, SUM(delta)::BIGINT FROM (
			SELECT debit_account AS account, amount AS delta FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account, -amount AS delta FROM event_log.journal
		) moves
		GROUP BY account
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			account string
			bal     int64
		)
		if err := rows.Scan(&account, &bal); err != nil {
			return nil, err
		}
		out[account] = bal
	}
	return out, rows.Err()
}

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("numeric column %q: %w", s, err)
	}
	return v, nil
}
