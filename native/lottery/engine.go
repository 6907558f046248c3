package lottery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"meltyfi/core/events"
	"meltyfi/core/types"
	"meltyfi/observability"
)

var (
	errNilState   = errors.New("lottery engine: state not configured")
	errNilRewards = errors.New("lottery engine: reward minter not configured")
)

// State describes the functionality the lottery engine and registry need from
// the surrounding state implementation, including the custody primitives that
// move currency and collateral on the engine's behalf.
type State interface {
	LotteryPut(*Lottery) error
	LotteryGet(id uint64) (*Lottery, bool)
	TicketPut(*Ticket) error
	TicketGet(id [32]byte) (*Ticket, bool)
	TicketRemove(id [32]byte) error
	ReceiptPut(*Receipt) error
	ReceiptGet(id [32]byte) (*Receipt, bool)
	ReceiptRemove(id [32]byte) error
	RegistrySnapshotGet() (*RegistrySnapshot, error)
	RegistrySnapshotPut(*RegistrySnapshot) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	EscrowVaultAddress() ([20]byte, error)
	FeeVaultAddress() ([20]byte, error)
	CollateralEscrow(handle AssetHandle, from [20]byte) error
	CollateralRelease(handle AssetHandle, to [20]byte) error
}

// RandomSource supplies the uniform draw consumed by Resolve. A failing source
// aborts resolution with no state change.
type RandomSource interface {
	Draw() (uint64, error)
}

// RewardMinter mints the ChocoChip reward paid on every settlement path. The
// native reward factory satisfies this once the engine is authorized.
type RewardMinter interface {
	Mint(recipient [20]byte, amount *big.Int) error
}

// Settlement reports what a redemption paid out.
type Settlement struct {
	Refund     *big.Int
	Reward     *big.Int
	Collateral *AssetHandle
}

type lotteryEvent struct {
	evt *types.Event
}

func (e lotteryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lotteryEvent) Event() *types.Event { return e.evt }

// Engine owns the lifecycle of individual lotteries: ticket sale, resolution
// and settlement. Registry-level concerns (creation, treasury, pause) live on
// the Registry in the same package; both share the State backend.
type Engine struct {
	state   State
	emitter events.Emitter
	rewards RewardMinter
	rand    RandomSource
	params  Params
	nowFn   func() int64

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// NewEngine creates a lottery engine with default parameters and a no-op
// emitter. Callers wire the state backend, reward minter and randomness source
// via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		params:  DefaultParams(),
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   make(map[uint64]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetRewards configures the reward minter invoked at settlement.
func (e *Engine) SetRewards(m RewardMinter) { e.rewards = m }

// SetRandomSource configures the randomness source consulted by Resolve.
func (e *Engine) SetRandomSource(r RandomSource) { e.rand = r }

// SetParams overrides the protocol parameters.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p.Clone()
	return nil
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lotteryEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockLottery serializes mutations of a single lottery. Operations on
// different lotteries proceed independently.
func (e *Engine) lockLottery(id uint64) func() {
	e.mu.Lock()
	lk, ok := e.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[id] = lk
	}
	e.mu.Unlock()
	lk.Lock()
	return lk.Unlock
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadLottery(id uint64) (*Lottery, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lot, ok := e.state.LotteryGet(id)
	if !ok {
		return nil, ErrLotteryNotFound
	}
	return lot, nil
}

func (e *Engine) storeLottery(lot *Lottery) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.LotteryPut(lot)
}

func (e *Engine) paused() (bool, error) {
	snap, err := e.state.RegistrySnapshotGet()
	if err != nil {
		return false, err
	}
	return snap != nil && snap.Paused, nil
}

// transfer moves currency between accounts. Zero amounts are a no-op.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("lottery: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	toAcc = toAcc.EnsureBalances()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// checkConservation verifies the escrow accounting of a loaded lottery before
// any mutation. Outstanding ledger coverage times the ticket price must equal
// the escrowed funds in every state; while Active the ledger must additionally
// cover the sold interval without gaps. A breach latches the lottery frozen.
func (e *Engine) checkConservation(lot *Lottery) error {
	if lot.Frozen {
		return ErrLotteryFrozen
	}
	expected := new(big.Int).Mul(lot.TicketPrice, new(big.Int).SetUint64(lot.Ledger.Covered()))
	breach := ""
	if lot.EscrowedFunds.Cmp(expected) != 0 {
		breach = fmt.Sprintf("escrow %s != outstanding %s", lot.EscrowedFunds, expected)
	} else if lot.Status == StatusActive && !lot.Ledger.FullCover(lot.SoldCount) {
		breach = fmt.Sprintf("ledger does not cover [1, %d]", lot.SoldCount)
	}
	if breach == "" {
		return nil
	}
	lot.Frozen = true
	if err := e.storeLottery(lot); err != nil {
		return fmt.Errorf("%w: %s (freeze failed: %v)", ErrConservationBreach, breach, err)
	}
	e.emit(NewFrozenEvent(lot, breach))
	return fmt.Errorf("%w: %s", ErrConservationBreach, breach)
}

func ticketID(lotteryID uint64, r TicketRange, owner [20]byte) [32]byte {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], lotteryID)
	binary.BigEndian.PutUint64(buf[8:16], r.Start)
	binary.BigEndian.PutUint64(buf[16:24], r.End)
	return ethcrypto.Keccak256Hash(buf[:], owner[:])
}

// BuyTickets sells quantity tickets of an active lottery to buyer. The exact
// cost moves into the escrow vault; any payment excess stays with the buyer
// because only the cost leg is transferred. Returns the minted WonkaBar
// ticket handle.
func (e *Engine) BuyTickets(id uint64, buyer [20]byte, quantity uint64, payment *big.Int) (t *Ticket, err error) {
	defer observability.LotteryMetrics().Observe("buy_tickets", time.Now(), &err)
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock := e.lockLottery(id)
	defer unlock()

	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	paused, err := e.paused()
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ErrProtocolPaused
	}
	lot, err := e.loadLottery(id)
	if err != nil {
		return nil, err
	}
	if err := e.checkConservation(lot); err != nil {
		return nil, err
	}
	if lot.Status != StatusActive || e.now() >= lot.ExpiresAt {
		return nil, ErrLotteryExpired
	}
	if lot.SoldCount+quantity > lot.MaxTickets {
		return nil, ErrMaxSupplyReached
	}
	// Concentration cap: one holder may not exceed BuyerCapBps of the supply.
	capTickets := lot.MaxTickets * uint64(e.params.BuyerCapBps) / BasisPointsDenominator
	if capTickets == 0 {
		capTickets = 1
	}
	if lot.Ledger.OwnedCount(buyer)+quantity > capTickets {
		return nil, ErrBuyerCapExceeded
	}
	cost := new(big.Int).Mul(lot.TicketPrice, new(big.Int).SetUint64(quantity))
	if payment == nil || payment.Cmp(cost) < 0 {
		return nil, ErrInsufficientPayment
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	if err := e.transfer(buyer, vault, cost); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, ErrInsufficientPayment
		}
		return nil, err
	}
	r, err := lot.Ledger.Append(buyer, lot.SoldCount, quantity)
	if err != nil {
		return nil, err
	}
	lot.SoldCount += quantity
	lot.EscrowedFunds = new(big.Int).Add(lot.EscrowedFunds, cost)
	ticket := &Ticket{
		ID:        ticketID(lot.ID, r, buyer),
		LotteryID: lot.ID,
		Owner:     buyer,
		Ranges:    []TicketRange{r},
	}
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	if err := e.storeLottery(lot); err != nil {
		return nil, err
	}
	e.emit(NewTicketsSoldEvent(lot, ticket))
	observability.LotteryMetrics().AddTicketsSold(quantity)
	return ticket.Clone(), nil
}

// Resolve draws the winner of an expired lottery, exactly once. With zero
// tickets sold the lottery expires and the collateral returns to the owner;
// otherwise the randomness source is consumed once, the draw is mapped onto
// the current ledger partition and the lottery concludes.
func (e *Engine) Resolve(id uint64) (err error) {
	defer observability.LotteryMetrics().Observe("resolve", time.Now(), &err)
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockLottery(id)
	defer unlock()

	paused, err := e.paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrProtocolPaused
	}
	lot, err := e.loadLottery(id)
	if err != nil {
		return err
	}
	if err := e.checkConservation(lot); err != nil {
		return err
	}
	if lot.Status != StatusActive {
		return ErrInvalidLotteryState
	}
	if e.now() < lot.ExpiresAt {
		return ErrLotteryNotExpired
	}
	if lot.SoldCount == 0 {
		if err := e.state.CollateralRelease(lot.Collateral, lot.Owner); err != nil {
			return err
		}
		lot.Collateral = AssetHandle{}
		lot.Status = StatusExpired
		if err := e.deactivate(lot.ID); err != nil {
			return err
		}
		if err := e.storeLottery(lot); err != nil {
			return err
		}
		e.emit(NewExpiredEvent(lot))
		return nil
	}
	if e.rand == nil {
		return ErrRandomnessUnavailable
	}
	draw, err := e.rand.Draw()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}
	winning := draw%lot.SoldCount + 1
	winner, err := lot.Ledger.OwnerOf(winning)
	if err != nil {
		// The Active partition covers every sold ticket, so a miss here means
		// the ledger itself is corrupt.
		return e.checkCorrupt(lot, fmt.Sprintf("winning ticket %d unowned", winning))
	}
	lot.Winner = &winner
	lot.Status = StatusConcluded
	if err := e.deactivate(lot.ID); err != nil {
		return err
	}
	if err := e.storeLottery(lot); err != nil {
		return err
	}
	e.emit(NewConcludedEvent(lot, winning))
	return nil
}

func (e *Engine) checkCorrupt(lot *Lottery, detail string) error {
	lot.Frozen = true
	if err := e.storeLottery(lot); err != nil {
		return fmt.Errorf("%w: %s (freeze failed: %v)", ErrConservationBreach, detail, err)
	}
	e.emit(NewFrozenEvent(lot, detail))
	return fmt.Errorf("%w: %s", ErrConservationBreach, detail)
}

// deactivate removes the lottery from the registry's active set.
func (e *Engine) deactivate(id uint64) error {
	snap, err := e.state.RegistrySnapshotGet()
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	snap = snap.Clone()
	snap.RemoveActive(id)
	return e.state.RegistrySnapshotPut(snap)
}

// Repay cancels an active lottery before expiry. The caller must present the
// creation receipt or be the registered owner. The required payment is the
// escrowed principal plus the protocol fee; the fee moves to the fee vault and
// is accounted to the registry treasury, while the repayment principal and the
// released loan principal cancel inside the escrow vault, leaving the escrow
// intact to back ticket refunds.
func (e *Engine) Repay(id uint64, caller [20]byte, receiptID [32]byte, payment *big.Int) (err error) {
	defer observability.LotteryMetrics().Observe("repay", time.Now(), &err)
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockLottery(id)
	defer unlock()

	paused, err := e.paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrProtocolPaused
	}
	lot, err := e.loadLottery(id)
	if err != nil {
		return err
	}
	if err := e.checkConservation(lot); err != nil {
		return err
	}
	if lot.Status != StatusActive {
		return ErrInvalidLotteryState
	}
	if e.now() >= lot.ExpiresAt {
		return ErrLotteryExpired
	}
	if caller != lot.Owner {
		return ErrNotAuthorized
	}
	consumeReceipt := receiptID != ([32]byte{})
	if consumeReceipt {
		receipt, ok := e.state.ReceiptGet(receiptID)
		if !ok || receipt.LotteryID != id || receipt.Owner != caller {
			return ErrNotAuthorized
		}
	}
	fee := new(big.Int).Mul(lot.EscrowedFunds, new(big.Int).SetUint64(uint64(e.params.FeeBps)))
	fee.Div(fee, big.NewInt(BasisPointsDenominator))
	required := new(big.Int).Add(lot.EscrowedFunds, fee)
	if payment == nil || payment.Cmp(required) < 0 {
		return ErrInsufficientPayment
	}
	feeVault, err := e.state.FeeVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transfer(caller, feeVault, fee); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return ErrInsufficientPayment
		}
		return err
	}
	if err := e.creditTreasury(fee); err != nil {
		return err
	}
	if err := e.state.CollateralRelease(lot.Collateral, lot.Owner); err != nil {
		return err
	}
	lot.Collateral = AssetHandle{}
	lot.Status = StatusCancelled
	if err := e.deactivate(lot.ID); err != nil {
		return err
	}
	if consumeReceipt {
		if err := e.state.ReceiptRemove(receiptID); err != nil {
			return err
		}
	}
	if err := e.storeLottery(lot); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(lot, fee.String()))
	return nil
}

func (e *Engine) creditTreasury(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	snap, err := e.state.RegistrySnapshotGet()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = NewRegistrySnapshot()
	}
	snap = snap.Clone()
	snap.Treasury = new(big.Int).Add(snap.Treasury, amount)
	return e.state.RegistrySnapshotPut(snap)
}

// Redeem settles a ticket handle of a terminal lottery, exactly once.
//
// Concluded, caller is winner: releases the collateral on the first claim and
// routes the winner's stake from escrow to the borrower. Concluded
// non-winner and Expired: full refund of the stake (no repayment fee was ever
// charged on these paths). Cancelled: refund net of the protocol fee, with the
// fee remainder swept to the treasury so the escrow drains exactly. Every path
// mints ChocoChip rewards proportional to the quantity and consumes the
// handle, removing its ranges from the ledger. Ledger and handle mutations are
// validated against the loaded clones before the first payout leg.
func (e *Engine) Redeem(id uint64, caller [20]byte, ticketHandle [32]byte) (s *Settlement, err error) {
	defer observability.LotteryMetrics().Observe("redeem", time.Now(), &err)
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.rewards == nil {
		return nil, errNilRewards
	}
	unlock := e.lockLottery(id)
	defer unlock()

	lot, err := e.loadLottery(id)
	if err != nil {
		return nil, err
	}
	if err := e.checkConservation(lot); err != nil {
		return nil, err
	}
	if !lot.Status.Terminal() {
		return nil, ErrInvalidLotteryState
	}
	ticket, ok := e.state.TicketGet(ticketHandle)
	if !ok {
		return nil, ErrTicketNotFound
	}
	if ticket.LotteryID != id {
		return nil, ErrLotteryMismatch
	}
	if ticket.Owner != caller {
		return nil, ErrNotAuthorized
	}
	isWinner := lot.Status == StatusConcluded && lot.Winner != nil && *lot.Winner == caller
	if ticket.Redeemed {
		if isWinner {
			return nil, ErrCollateralAlreadyClaimed
		}
		return nil, ErrTicketRedeemed
	}

	quantity := ticket.Quantity()
	stake := new(big.Int).Mul(lot.TicketPrice, new(big.Int).SetUint64(quantity))
	if lot.EscrowedFunds.Cmp(stake) < 0 {
		return nil, e.checkCorrupt(lot, fmt.Sprintf("escrow %s below stake %s", lot.EscrowedFunds, stake))
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}

	// Apply the settlement to the loaded clones before any funds move: a
	// handle whose intervals do not match the partition aborts here, with no
	// reward minted and no refund paid.
	ledger := lot.Ledger.Clone()
	if err := ledger.Remove(ticket.Ranges); err != nil {
		return nil, e.checkCorrupt(lot, fmt.Sprintf("handle ranges not in partition: %v", err))
	}
	lot.Ledger = ledger
	lot.EscrowedFunds = new(big.Int).Sub(lot.EscrowedFunds, stake)
	ticket.Redeemed = true

	reward := new(big.Int).Mul(e.params.RewardPerTicket, new(big.Int).SetUint64(quantity))
	if reward.Sign() > 0 {
		if err := e.rewards.Mint(caller, reward); err != nil {
			return nil, err
		}
	}

	settlement := &Settlement{Refund: big.NewInt(0), Reward: reward}
	collateralReleased := false
	switch {
	case isWinner:
		// The winner's stake is the borrower's proceeds from the default.
		if err := e.transfer(vault, lot.Owner, stake); err != nil {
			return nil, err
		}
		if !lot.Collateral.IsZero() {
			handle := lot.Collateral
			if err := e.state.CollateralRelease(handle, caller); err != nil {
				return nil, err
			}
			lot.Collateral = AssetHandle{}
			settlement.Collateral = &handle
			collateralReleased = true
		}
	case lot.Status == StatusCancelled:
		refund := new(big.Int).Mul(stake, big.NewInt(BasisPointsDenominator-int64(e.params.FeeBps)))
		refund.Div(refund, big.NewInt(BasisPointsDenominator))
		remainder := new(big.Int).Sub(stake, refund)
		if err := e.transfer(vault, caller, refund); err != nil {
			return nil, err
		}
		if remainder.Sign() > 0 {
			feeVault, err := e.state.FeeVaultAddress()
			if err != nil {
				return nil, err
			}
			if err := e.transfer(vault, feeVault, remainder); err != nil {
				return nil, err
			}
			if err := e.creditTreasury(remainder); err != nil {
				return nil, err
			}
		}
		settlement.Refund = refund
	default:
		// Concluded non-winner or Expired: full stake back.
		if err := e.transfer(vault, caller, stake); err != nil {
			return nil, err
		}
		settlement.Refund = stake
	}

	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	if err := e.storeLottery(lot); err != nil {
		return nil, err
	}
	e.emit(NewRedeemedEvent(lot, ticket, settlement.Refund.String(), reward.String(), collateralReleased))
	observability.LotteryMetrics().AddTicketsSettled(quantity)
	return settlement, nil
}

// GetLottery returns a copy of the lottery, or ErrLotteryNotFound. View
// queries are unaffected by the pause switch.
func (e *Engine) GetLottery(id uint64) (*Lottery, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lot, ok := e.state.LotteryGet(id)
	if !ok {
		return nil, ErrLotteryNotFound
	}
	return lot.Clone(), nil
}

// GetTicket returns a copy of the ticket handle, or ErrTicketNotFound.
func (e *Engine) GetTicket(id [32]byte) (*Ticket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	t, ok := e.state.TicketGet(id)
	if !ok {
		return nil, ErrTicketNotFound
	}
	return t.Clone(), nil
}
