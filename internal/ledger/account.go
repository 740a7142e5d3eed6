package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeParticipant AccountScope = iota
	AccountScopeRound
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	SubTypeAvailable AccountSubType = iota
	SubTypeEscrow
	SubTypeFees
	SubTypeDeposits
)

// AccountKey is the in-memory key for balance tracking.
// Owner is set for participant accounts, RoundID for round escrows.
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address
	RoundID uint64
	SubType AccountSubType
}

// ParticipantAccount is the spendable balance of a participant
func ParticipantAccount(p common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeParticipant, Owner: p, SubType: SubTypeAvailable}
}

// EscrowAccount holds every stake of a round until it is paid out
func EscrowAccount(roundID uint64) AccountKey {
	return AccountKey{Scope: AccountScopeRound, RoundID: roundID, SubType: SubTypeEscrow}
}

// FeeAccount collects platform fees
func FeeAccount() AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeFees}
}

// DepositsAccount is the external boundary funding participant credits.
// Its balance is the negative of all value that entered the system.
func DepositsAccount() AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: SubTypeDeposits}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeParticipant:
		return fmt.Sprintf("participant:%s:%s", k.Owner.Hex(), k.subTypeName())
	case AccountScopeRound:
		return fmt.Sprintf("round:%d:%s", k.RoundID, k.subTypeName())
	case AccountScopeSystem:
		return "system:" + k.subTypeName()
	case AccountScopeExternal:
		return "external:" + k.subTypeName()
	}
	return "unknown"
}

func (k AccountKey) String() string { return k.AccountPath() }

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeAvailable:
		return "available"
	case SubTypeEscrow:
		return "escrow"
	case SubTypeFees:
		return "fees"
	case SubTypeDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath, used when journals are
// loaded back from storage.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "participant" && parts[2] == "available":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("bad participant address in %q", path)
		}
		return ParticipantAccount(common.HexToAddress(parts[1])), nil
	case len(parts) == 3 && parts[0] == "round" && parts[2] == "escrow":
		id, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return AccountKey{}, fmt.Errorf("bad round id in %q: %w", path, err)
		}
		return EscrowAccount(id), nil
	case path == "system:fees":
		return FeeAccount(), nil
	case path == "external:deposits":
		return DepositsAccount(), nil
	}
	return AccountKey{}, fmt.Errorf("unknown account path %q", path)
}
