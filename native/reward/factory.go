package reward

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"meltyfi/core/events"
	"meltyfi/core/types"
)

var errNilState = errors.New("reward factory: state not configured")

// State describes the functionality the reward factory needs from the
// surrounding state implementation. ChocoChip balances live on the shared
// account model.
type State interface {
	RewardSupplyGet() (*Supply, error)
	RewardSupplyPut(*Supply) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Supply is the persisted factory state: circulating supply, the immutable
// cap and the authorized-minter set.
type Supply struct {
	Total   *big.Int
	Cap     *big.Int
	Minters [][20]byte
}

// Clone returns a deep copy of the supply record.
func (s *Supply) Clone() *Supply {
	if s == nil {
		return nil
	}
	clone := &Supply{Total: big.NewInt(0), Cap: big.NewInt(0)}
	if s.Total != nil {
		clone.Total = new(big.Int).Set(s.Total)
	}
	if s.Cap != nil {
		clone.Cap = new(big.Int).Set(s.Cap)
	}
	clone.Minters = make([][20]byte, len(s.Minters))
	copy(clone.Minters, s.Minters)
	return clone
}

func (s *Supply) minterIndex(addr [20]byte) int {
	for i, m := range s.Minters {
		if m == addr {
			return i
		}
	}
	return -1
}

// AdminToken is the unforgeable capability gating minter-set changes. It is
// returned exactly once, to the identity that initializes the factory. The
// token carries a random nonce checked on every privileged call: zero-size
// values all share one runtime address, so reference identity alone cannot
// gate authority.
type AdminToken struct {
	nonce [16]byte
}

func newAdminToken() (*AdminToken, error) {
	token := &AdminToken{}
	if _, err := rand.Read(token.nonce[:]); err != nil {
		return nil, fmt.Errorf("reward: admin token nonce: %w", err)
	}
	return token, nil
}

type rewardEvent struct {
	evt *types.Event
}

func (e rewardEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e rewardEvent) Event() *types.Event { return e.evt }

// Factory mints and burns the capped-supply ChocoChip reward token. It is
// independent of lottery state: the lottery engine participates only as one
// authorized minter among possibly several.
type Factory struct {
	state   State
	emitter events.Emitter
	admin   *AdminToken
	mu      sync.Mutex
}

// NewFactory initializes the factory over the given state backend. If no
// supply record exists one is created with the provided cap. The admin
// capability is returned exactly once.
func NewFactory(state State, cap *big.Int) (*Factory, *AdminToken, error) {
	if state == nil {
		return nil, nil, errNilState
	}
	supply, err := state.RewardSupplyGet()
	if err != nil {
		return nil, nil, err
	}
	if supply == nil {
		if cap == nil || cap.Sign() <= 0 {
			return nil, nil, ErrInvalidAmount
		}
		supply = &Supply{Total: big.NewInt(0), Cap: new(big.Int).Set(cap)}
		if err := state.RewardSupplyPut(supply); err != nil {
			return nil, nil, err
		}
	}
	admin, err := newAdminToken()
	if err != nil {
		return nil, nil, err
	}
	return &Factory{state: state, emitter: events.NoopEmitter{}, admin: admin}, admin, nil
}

// SetEmitter configures the event emitter used by the factory. Passing nil
// resets the emitter to a no-op implementation.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

func (f *Factory) emit(evt *types.Event) {
	if f == nil || f.emitter == nil || evt == nil {
		return
	}
	f.emitter.Emit(rewardEvent{evt: evt})
}

func (f *Factory) authorized(token *AdminToken) bool {
	return token != nil && f.admin != nil && token.nonce == f.admin.nonce
}

func (f *Factory) loadSupply() (*Supply, error) {
	supply, err := f.state.RewardSupplyGet()
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return nil, ErrSupplyNotInitialized
	}
	return supply.Clone(), nil
}

// Mint credits amount ChocoChips to the recipient. The caller must be an
// authorized minter and the circulating supply may never exceed the cap.
func (f *Factory) Mint(caller, recipient [20]byte, amount *big.Int) error {
	if f == nil || f.state == nil {
		return errNilState
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	supply, err := f.loadSupply()
	if err != nil {
		return err
	}
	if supply.minterIndex(caller) < 0 {
		return ErrNotAuthorized
	}
	total := new(big.Int).Add(supply.Total, amount)
	if total.Cmp(supply.Cap) > 0 {
		return ErrSupplyCapExceeded
	}
	acc, err := f.state.GetAccount(recipient[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureBalances()
	acc.BalanceCHOC = new(big.Int).Add(acc.BalanceCHOC, amount)
	if err := f.state.PutAccount(recipient[:], acc); err != nil {
		return err
	}
	supply.Total = total
	if err := f.state.RewardSupplyPut(supply); err != nil {
		return err
	}
	f.emit(NewMintedEvent(caller, recipient, amount, supply.Total))
	return nil
}

// Burn destroys amount ChocoChips held by the caller, reducing the supply.
func (f *Factory) Burn(caller [20]byte, amount *big.Int) error {
	if f == nil || f.state == nil {
		return errNilState
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := f.state.GetAccount(caller[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureBalances()
	if acc.BalanceCHOC.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := f.loadSupply()
	if err != nil {
		return err
	}
	acc.BalanceCHOC = new(big.Int).Sub(acc.BalanceCHOC, amount)
	if err := f.state.PutAccount(caller[:], acc); err != nil {
		return err
	}
	supply.Total = new(big.Int).Sub(supply.Total, amount)
	if err := f.state.RewardSupplyPut(supply); err != nil {
		return err
	}
	f.emit(NewBurnedEvent(caller, amount, supply.Total))
	return nil
}

// AuthorizeMinter adds an identity to the minter set. Authorizing an address
// twice is a hard error so operator scripts notice double application.
func (f *Factory) AuthorizeMinter(token *AdminToken, minter [20]byte) error {
	if f == nil || f.state == nil {
		return errNilState
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.authorized(token) {
		return ErrNotAuthorized
	}
	supply, err := f.loadSupply()
	if err != nil {
		return err
	}
	if supply.minterIndex(minter) >= 0 {
		return ErrAlreadyAuthorized
	}
	supply.Minters = append(supply.Minters, minter)
	if err := f.state.RewardSupplyPut(supply); err != nil {
		return err
	}
	f.emit(NewMinterAuthorizedEvent(minter))
	return nil
}

// RevokeMinter removes an identity from the minter set. Revoking an address
// that is not a minter is a hard error, mirroring AuthorizeMinter.
func (f *Factory) RevokeMinter(token *AdminToken, minter [20]byte) error {
	if f == nil || f.state == nil {
		return errNilState
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.authorized(token) {
		return ErrNotAuthorized
	}
	supply, err := f.loadSupply()
	if err != nil {
		return err
	}
	idx := supply.minterIndex(minter)
	if idx < 0 {
		return ErrMinterNotAuthorized
	}
	supply.Minters = append(supply.Minters[:idx], supply.Minters[idx+1:]...)
	if err := f.state.RewardSupplyPut(supply); err != nil {
		return err
	}
	f.emit(NewMinterRevokedEvent(minter))
	return nil
}

// TotalSupply returns the circulating ChocoChip supply.
func (f *Factory) TotalSupply() (*big.Int, error) {
	if f == nil || f.state == nil {
		return nil, errNilState
	}
	supply, err := f.loadSupply()
	if err != nil {
		return nil, err
	}
	return supply.Total, nil
}

// Cap returns the immutable supply cap.
func (f *Factory) Cap() (*big.Int, error) {
	if f == nil || f.state == nil {
		return nil, errNilState
	}
	supply, err := f.loadSupply()
	if err != nil {
		return nil, err
	}
	return supply.Cap, nil
}

// IsMinter reports whether the address is currently authorized to mint.
func (f *Factory) IsMinter(addr [20]byte) (bool, error) {
	if f == nil || f.state == nil {
		return false, errNilState
	}
	supply, err := f.loadSupply()
	if err != nil {
		return false, err
	}
	return supply.minterIndex(addr) >= 0, nil
}

// BoundMinter binds the factory to a fixed module identity so components that
// only need to mint can do so without carrying a caller address. The lottery
// engine settles rewards through one of these.
type BoundMinter struct {
	factory *Factory
	module  [20]byte
}

// MinterFor returns a minter bound to the given module address. The address
// still has to be authorized through AuthorizeMinter.
func (f *Factory) MinterFor(module [20]byte) *BoundMinter {
	return &BoundMinter{factory: f, module: module}
}

// Mint credits amount to the recipient on behalf of the bound module.
func (m *BoundMinter) Mint(recipient [20]byte, amount *big.Int) error {
	if m == nil || m.factory == nil {
		return errNilState
	}
	return m.factory.Mint(m.module, recipient, amount)
}
