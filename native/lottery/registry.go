package lottery

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"meltyfi/core/events"
	"meltyfi/observability"
)

// AdminToken is the unforgeable capability returned once to the deploying
// identity. The token carries a random nonce checked on every privileged
// call: zero-size values all share one runtime address, so reference identity
// alone cannot gate authority.
type AdminToken struct {
	nonce [16]byte
}

func newAdminToken() (*AdminToken, error) {
	token := &AdminToken{}
	if _, err := rand.Read(token.nonce[:]); err != nil {
		return nil, fmt.Errorf("lottery: admin token nonce: %w", err)
	}
	return token, nil
}

// RegistrySnapshot is the persisted view of the protocol registry: the id
// allocator, the active-lottery set, the accumulated protocol fee and the
// pause switch.
type RegistrySnapshot struct {
	NextLotteryID uint64
	Active        []uint64
	Treasury      *big.Int
	Paused        bool
}

// NewRegistrySnapshot returns the genesis registry state.
func NewRegistrySnapshot() *RegistrySnapshot {
	return &RegistrySnapshot{NextLotteryID: 1, Treasury: big.NewInt(0)}
}

// Clone returns a deep copy of the snapshot.
func (s *RegistrySnapshot) Clone() *RegistrySnapshot {
	if s == nil {
		return nil
	}
	clone := &RegistrySnapshot{
		NextLotteryID: s.NextLotteryID,
		Active:        append([]uint64(nil), s.Active...),
		Paused:        s.Paused,
		Treasury:      big.NewInt(0),
	}
	if s.Treasury != nil {
		clone.Treasury = new(big.Int).Set(s.Treasury)
	}
	return clone
}

// RemoveActive drops the id from the active set, if present.
func (s *RegistrySnapshot) RemoveActive(id uint64) {
	if s == nil {
		return
	}
	for i, v := range s.Active {
		if v == id {
			s.Active = append(s.Active[:i], s.Active[i+1:]...)
			return
		}
	}
}

// Registry tracks global lottery identifiers, the protocol treasury, the
// active set and the pause switch, and creates Lottery instances. It shares
// the State backend with the engine.
type Registry struct {
	state   State
	emitter events.Emitter
	params  Params
	admin   *AdminToken
	nowFn   func() int64
	mu      sync.Mutex
}

// NewRegistry creates the protocol registry over the given state backend and
// returns the admin capability exactly once, to the deployer. The genesis
// snapshot is persisted if none exists yet.
func NewRegistry(state State, params Params) (*Registry, *AdminToken, error) {
	if state == nil {
		return nil, nil, errNilState
	}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	snap, err := state.RegistrySnapshotGet()
	if err != nil {
		return nil, nil, err
	}
	if snap == nil {
		if err := state.RegistrySnapshotPut(NewRegistrySnapshot()); err != nil {
			return nil, nil, err
		}
	}
	admin, err := newAdminToken()
	if err != nil {
		return nil, nil, err
	}
	r := &Registry{
		state:   state,
		emitter: events.NoopEmitter{},
		params:  params.Clone(),
		admin:   admin,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	return r, admin, nil
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) emit(evt *lotteryEvent) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(*evt)
}

func (r *Registry) authorized(token *AdminToken) bool {
	return token != nil && r.admin != nil && token.nonce == r.admin.nonce
}

func (r *Registry) snapshot() (*RegistrySnapshot, error) {
	snap, err := r.state.RegistrySnapshotGet()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = NewRegistrySnapshot()
	}
	return snap.Clone(), nil
}

func receiptID(lotteryID uint64, owner [20]byte, createdAt int64) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], lotteryID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(createdAt))
	return ethcrypto.Keccak256Hash([]byte("receipt"), buf[:], owner[:])
}

// CreateLottery deposits the collateral, allocates a new lottery in Active
// state, registers it in the active set and returns the creation receipt.
func (r *Registry) CreateLottery(owner [20]byte, collateral AssetHandle, ticketPrice *big.Int, maxTickets uint64, expiresAt int64) (receipt *Receipt, err error) {
	defer observability.LotteryMetrics().Observe("create_lottery", time.Now(), &err)
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticketPrice == nil || ticketPrice.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if maxTickets == 0 || maxTickets > r.params.MaxTicketSupply {
		return nil, ErrInvalidAmount
	}
	if collateral.IsZero() {
		return nil, ErrInvalidAmount
	}
	now := r.nowFn()
	duration := expiresAt - now
	if duration < r.params.MinDuration || duration > r.params.MaxDuration {
		return nil, ErrInvalidDuration
	}
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	if snap.Paused {
		return nil, ErrProtocolPaused
	}
	if err := r.state.CollateralEscrow(collateral, owner); err != nil {
		return nil, err
	}
	id := snap.NextLotteryID
	snap.NextLotteryID++
	snap.Active = append(snap.Active, id)
	lot := &Lottery{
		ID:            id,
		Owner:         owner,
		Status:        StatusActive,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
		TicketPrice:   new(big.Int).Set(ticketPrice),
		MaxTickets:    maxTickets,
		EscrowedFunds: big.NewInt(0),
		Collateral:    collateral,
		Ledger:        NewTicketLedger(),
	}
	rec := &Receipt{ID: receiptID(id, owner, now), LotteryID: id, Owner: owner}
	if err := r.state.LotteryPut(lot); err != nil {
		return nil, err
	}
	if err := r.state.ReceiptPut(rec); err != nil {
		return nil, err
	}
	if err := r.state.RegistrySnapshotPut(snap); err != nil {
		return nil, err
	}
	r.emit(&lotteryEvent{evt: NewCreatedEvent(lot)})
	out := *rec
	return &out, nil
}

// WithdrawFees pays accumulated protocol fees from the fee vault to the
// recipient. Admin capability only.
func (r *Registry) WithdrawFees(token *AdminToken, recipient [20]byte, amount *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.authorized(token) {
		return ErrNotAuthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	snap, err := r.snapshot()
	if err != nil {
		return err
	}
	if snap.Treasury.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	feeVault, err := r.state.FeeVaultAddress()
	if err != nil {
		return err
	}
	if err := r.transferOut(feeVault, recipient, amount); err != nil {
		return err
	}
	snap.Treasury = new(big.Int).Sub(snap.Treasury, amount)
	if err := r.state.RegistrySnapshotPut(snap); err != nil {
		return err
	}
	r.emit(&lotteryEvent{evt: NewFeesWithdrawnEvent(recipient, amount.String(), snap.Treasury.String())})
	return nil
}

func (r *Registry) transferOut(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := r.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := r.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	toAcc = toAcc.EnsureBalances()
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := r.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return r.state.PutAccount(to[:], toAcc)
}

// SetPaused flips the global pause switch. Creation, purchase, resolution and
// repayment freeze while paused; view queries and settlement do not.
func (r *Registry) SetPaused(token *AdminToken, paused bool) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.authorized(token) {
		return ErrNotAuthorized
	}
	snap, err := r.snapshot()
	if err != nil {
		return err
	}
	if snap.Paused == paused {
		return nil
	}
	snap.Paused = paused
	if err := r.state.RegistrySnapshotPut(snap); err != nil {
		return err
	}
	r.emit(&lotteryEvent{evt: NewPauseChangedEvent(paused)})
	return nil
}

// Paused reports the current pause state.
func (r *Registry) Paused() (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	snap, err := r.snapshot()
	if err != nil {
		return false, err
	}
	return snap.Paused, nil
}

// Treasury returns the accumulated protocol fee balance.
func (r *Registry) Treasury() (*big.Int, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(snap.Treasury), nil
}

// ActiveLotteries returns the ids of lotteries still in Active state.
func (r *Registry) ActiveLotteries() ([]uint64, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return append([]uint64(nil), snap.Active...), nil
}
