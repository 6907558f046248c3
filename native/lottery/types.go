package lottery

import (
	"fmt"
	"math/big"
)

// Status represents the lifecycle states of a single lottery. The initial
// state is Active; the remaining states are terminal and never re-enter
// Active.
type Status uint8

const (
	StatusActive Status = iota
	StatusConcluded
	StatusCancelled
	StatusExpired
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusConcluded, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is one of the three end states.
func (s Status) Terminal() bool {
	return s == StatusConcluded || s == StatusCancelled || s == StatusExpired
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusConcluded:
		return "concluded"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// AssetHandle references a collateral asset held in custody. The engine treats
// it as opaque; the zero value marks an empty collateral slot.
type AssetHandle [32]byte

// IsZero reports whether the handle references no asset.
func (h AssetHandle) IsZero() bool { return h == (AssetHandle{}) }

// Lottery captures the accounting state of one collateralized loan raised
// through a ticket sale. Monetary values are denominated in the smallest
// currency unit and expressed as big integers for deterministic arithmetic.
type Lottery struct {
	// ID is the registry-allocated identifier, unique across the protocol.
	ID uint64
	// Owner is the borrower who deposited the collateral.
	Owner [20]byte
	// Status tracks the lifecycle state; transitions are one-way.
	Status Status
	// CreatedAt and ExpiresAt bound the ticket sale window, unix seconds.
	CreatedAt int64
	ExpiresAt int64
	// TicketPrice is the fixed price per ticket.
	TicketPrice *big.Int
	// MaxTickets caps the sale; SoldCount never exceeds it.
	MaxTickets uint64
	// SoldCount is the number of tickets sold so far.
	SoldCount uint64
	// EscrowedFunds holds the raised principal. While the lottery is Active
	// this equals SoldCount * TicketPrice exactly.
	EscrowedFunds *big.Int
	// Winner is set once, at resolution, when at least one ticket was sold.
	Winner *[20]byte
	// Collateral is the custodied asset; cleared exactly once on release.
	Collateral AssetHandle
	// Frozen latches when the escrow accounting is found inconsistent. A
	// frozen lottery rejects every further mutation.
	Frozen bool
	// Ledger partitions [1, SoldCount] into owner ranges.
	Ledger *TicketLedger
}

// Clone returns a deep copy of the lottery so callers can mutate the copy
// without affecting the stored instance.
func (l *Lottery) Clone() *Lottery {
	if l == nil {
		return nil
	}
	clone := *l
	if l.TicketPrice != nil {
		clone.TicketPrice = new(big.Int).Set(l.TicketPrice)
	} else {
		clone.TicketPrice = big.NewInt(0)
	}
	if l.EscrowedFunds != nil {
		clone.EscrowedFunds = new(big.Int).Set(l.EscrowedFunds)
	} else {
		clone.EscrowedFunds = big.NewInt(0)
	}
	if l.Winner != nil {
		winner := *l.Winner
		clone.Winner = &winner
	}
	clone.Ledger = l.Ledger.Clone()
	return &clone
}

// SanitizeLottery validates and normalises the supplied lottery, returning a
// cloned instance with non-nil amount fields. The original is not mutated.
func SanitizeLottery(l *Lottery) (*Lottery, error) {
	if l == nil {
		return nil, fmt.Errorf("nil lottery")
	}
	clone := l.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid lottery status: %d", clone.Status)
	}
	if clone.TicketPrice.Sign() <= 0 {
		return nil, fmt.Errorf("lottery ticket price must be positive")
	}
	if clone.EscrowedFunds.Sign() < 0 {
		return nil, fmt.Errorf("lottery escrow must be non-negative")
	}
	if clone.SoldCount > clone.MaxTickets {
		return nil, fmt.Errorf("lottery sold count %d exceeds max %d", clone.SoldCount, clone.MaxTickets)
	}
	if clone.Ledger == nil {
		clone.Ledger = NewTicketLedger()
	}
	if err := clone.Ledger.Validate(clone.SoldCount); err != nil {
		return nil, err
	}
	return clone, nil
}

// TicketRange is a contiguous, inclusive interval of ticket numbers.
type TicketRange struct {
	Start uint64
	End   uint64
}

// Size returns the number of tickets covered by the range.
func (r TicketRange) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Ticket is the WonkaBar claim artifact minted to a buyer. It aggregates one
// or more ledger ranges of a single lottery under a single redeemable handle;
// split and merge reshape the aggregation without changing the underlying
// partition ownership.
type Ticket struct {
	ID        [32]byte
	LotteryID uint64
	Owner     [20]byte
	Ranges    []TicketRange
	// Redeemed latches after settlement so a handle can never pay twice.
	Redeemed bool
}

// Quantity returns the total tickets the handle represents.
func (t *Ticket) Quantity() uint64 {
	if t == nil {
		return 0
	}
	var total uint64
	for _, r := range t.Ranges {
		total += r.Size()
	}
	return total
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Ranges = append([]TicketRange(nil), t.Ranges...)
	return &clone
}

// Receipt is the capability returned to the lottery creator. Presenting it
// authorizes repay and cancellation; it is consumed by the repay path.
type Receipt struct {
	ID        [32]byte
	LotteryID uint64
	Owner     [20]byte
}

// Params groups the governance-controlled protocol limits. All proportional
// values are expressed in basis points for deterministic accounting.
type Params struct {
	// FeeBps is the protocol fee charged on repayment and on cancelled-path
	// refunds.
	FeeBps uint32
	// MinDuration and MaxDuration bound expiresAt - now at creation, seconds.
	MinDuration int64
	MaxDuration int64
	// MaxTicketSupply bounds maxTickets for any single lottery.
	MaxTicketSupply uint64
	// BuyerCapBps caps a single holder's tickets as a share of maxTickets to
	// bound winner-selection concentration.
	BuyerCapBps uint32
	// RewardPerTicket is the ChocoChip amount minted per redeemed ticket.
	RewardPerTicket *big.Int
}

// BasisPointsDenominator is the divisor for all bps-denominated parameters.
const BasisPointsDenominator = 10_000

// DefaultParams returns the protocol defaults used when no configuration is
// supplied.
func DefaultParams() Params {
	return Params{
		FeeBps:          500,
		MinDuration:     3600,
		MaxDuration:     90 * 24 * 3600,
		MaxTicketSupply: 1_000_000,
		BuyerCapBps:     2_500,
		RewardPerTicket: big.NewInt(100),
	}
}

// Validate reports whether the parameter set is internally consistent.
func (p Params) Validate() error {
	if p.FeeBps > BasisPointsDenominator {
		return fmt.Errorf("lottery: fee bps out of range: %d", p.FeeBps)
	}
	if p.MinDuration <= 0 || p.MaxDuration < p.MinDuration {
		return fmt.Errorf("lottery: duration window invalid: [%d, %d]", p.MinDuration, p.MaxDuration)
	}
	if p.MaxTicketSupply == 0 {
		return fmt.Errorf("lottery: max ticket supply must be positive")
	}
	if p.BuyerCapBps == 0 || p.BuyerCapBps > BasisPointsDenominator {
		return fmt.Errorf("lottery: buyer cap bps out of range: %d", p.BuyerCapBps)
	}
	if p.RewardPerTicket == nil || p.RewardPerTicket.Sign() < 0 {
		return fmt.Errorf("lottery: reward per ticket must be non-negative")
	}
	return nil
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	if p.RewardPerTicket != nil {
		clone.RewardPerTicket = new(big.Int).Set(p.RewardPerTicket)
	} else {
		clone.RewardPerTicket = big.NewInt(0)
	}
	return clone
}
