package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"meltyfi/core/types"
	"meltyfi/native/lottery"
	"meltyfi/native/reward"
)

// ModuleAddress derives the deterministic account address of a protocol
// module vault.
func ModuleAddress(name string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("meltyfi/module/" + name))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

var (
	escrowVaultAddr = ModuleAddress("escrow-vault")
	feeVaultAddr    = ModuleAddress("fee-vault")
)

const (
	keyRegistry     = "registry"
	keyRewardSupply = "reward/supply"

	prefixLottery    = "lottery/"
	prefixTicket     = "ticket/"
	prefixReceipt    = "receipt/"
	prefixAccount    = "account/"
	prefixCollateral = "collateral/"
)

// collateralRecord tracks where a custodied asset currently sits.
type collateralRecord struct {
	Holder   [20]byte `json:"holder"`
	Escrowed bool     `json:"escrowed"`
}

// State is the durable keeper backing the lottery engine, the registry and
// the reward factory. Entities are stored as JSON under a flat key scheme;
// atomicity across the keys touched by one operation is provided by the
// engines' per-entity serialization.
type State struct {
	db Database
}

// NewState wraps a database in a keeper.
func NewState(db Database) *State {
	return &State{db: db}
}

var (
	_ lottery.State = (*State)(nil)
	_ reward.State  = (*State)(nil)
)

func (s *State) put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

// get decodes the value under key into out, reporting presence.
func (s *State) get(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func lotteryKey(id uint64) string { return prefixLottery + strconv.FormatUint(id, 10) }

func handleKey(prefix string, id [32]byte) string { return prefix + hex.EncodeToString(id[:]) }

// LotteryPut persists a sanitized copy of the lottery.
func (s *State) LotteryPut(lot *lottery.Lottery) error {
	sanitized, err := lottery.SanitizeLottery(lot)
	if err != nil {
		return err
	}
	return s.put(lotteryKey(sanitized.ID), sanitized)
}

// LotteryGet loads a copy of the lottery.
func (s *State) LotteryGet(id uint64) (*lottery.Lottery, bool) {
	var lot lottery.Lottery
	ok, err := s.get(lotteryKey(id), &lot)
	if err != nil || !ok {
		return nil, false
	}
	return &lot, true
}

// TicketPut persists the ticket handle.
func (s *State) TicketPut(t *lottery.Ticket) error {
	if t == nil {
		return fmt.Errorf("storage: nil ticket")
	}
	return s.put(handleKey(prefixTicket, t.ID), t)
}

// TicketGet loads a copy of the ticket handle.
func (s *State) TicketGet(id [32]byte) (*lottery.Ticket, bool) {
	var t lottery.Ticket
	ok, err := s.get(handleKey(prefixTicket, id), &t)
	if err != nil || !ok {
		return nil, false
	}
	return &t, true
}

// TicketRemove deletes the ticket handle.
func (s *State) TicketRemove(id [32]byte) error {
	return s.db.Delete([]byte(handleKey(prefixTicket, id)))
}

// ReceiptPut persists the creation receipt.
func (s *State) ReceiptPut(r *lottery.Receipt) error {
	if r == nil {
		return fmt.Errorf("storage: nil receipt")
	}
	return s.put(handleKey(prefixReceipt, r.ID), r)
}

// ReceiptGet loads a copy of the receipt.
func (s *State) ReceiptGet(id [32]byte) (*lottery.Receipt, bool) {
	var r lottery.Receipt
	ok, err := s.get(handleKey(prefixReceipt, id), &r)
	if err != nil || !ok {
		return nil, false
	}
	return &r, true
}

// ReceiptRemove consumes the receipt.
func (s *State) ReceiptRemove(id [32]byte) error {
	return s.db.Delete([]byte(handleKey(prefixReceipt, id)))
}

// RegistrySnapshotGet loads the registry snapshot, nil when uninitialized.
func (s *State) RegistrySnapshotGet() (*lottery.RegistrySnapshot, error) {
	var snap lottery.RegistrySnapshot
	ok, err := s.get(keyRegistry, &snap)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// RegistrySnapshotPut persists the registry snapshot.
func (s *State) RegistrySnapshotPut(snap *lottery.RegistrySnapshot) error {
	if snap == nil {
		return fmt.Errorf("storage: nil registry snapshot")
	}
	return s.put(keyRegistry, snap)
}

// GetAccount loads the account for the address, zero-valued when absent.
func (s *State) GetAccount(addr []byte) (*types.Account, error) {
	var acc types.Account
	ok, err := s.get(prefixAccount+hex.EncodeToString(addr), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return acc.EnsureBalances(), nil
}

// PutAccount persists the account for the address.
func (s *State) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	return s.put(prefixAccount+hex.EncodeToString(addr), account.EnsureBalances())
}

// EscrowVaultAddress returns the module account holding ticket escrow.
func (s *State) EscrowVaultAddress() ([20]byte, error) {
	return escrowVaultAddr, nil
}

// FeeVaultAddress returns the module account holding accumulated fees.
func (s *State) FeeVaultAddress() ([20]byte, error) {
	return feeVaultAddr, nil
}

// CollateralEscrow takes custody of the collateral asset from its owner.
func (s *State) CollateralEscrow(handle lottery.AssetHandle, from [20]byte) error {
	key := handleKey(prefixCollateral, handle)
	var rec collateralRecord
	ok, err := s.get(key, &rec)
	if err != nil {
		return err
	}
	if ok && rec.Escrowed {
		return fmt.Errorf("storage: collateral %x already escrowed", handle[:4])
	}
	return s.put(key, collateralRecord{Holder: from, Escrowed: true})
}

// CollateralRelease hands custodied collateral to the recipient.
func (s *State) CollateralRelease(handle lottery.AssetHandle, to [20]byte) error {
	key := handleKey(prefixCollateral, handle)
	var rec collateralRecord
	ok, err := s.get(key, &rec)
	if err != nil {
		return err
	}
	if !ok || !rec.Escrowed {
		return fmt.Errorf("storage: collateral %x not in custody", handle[:4])
	}
	return s.put(key, collateralRecord{Holder: to})
}

// CollateralHolder reports the current holder of the asset and whether it is
// in protocol custody.
func (s *State) CollateralHolder(handle lottery.AssetHandle) ([20]byte, bool, error) {
	var rec collateralRecord
	ok, err := s.get(handleKey(prefixCollateral, handle), &rec)
	if err != nil {
		return [20]byte{}, false, err
	}
	if !ok {
		return [20]byte{}, false, fmt.Errorf("storage: collateral %x unknown", handle[:4])
	}
	return rec.Holder, rec.Escrowed, nil
}

// RewardSupplyGet loads the reward supply record, nil when uninitialized.
func (s *State) RewardSupplyGet() (*reward.Supply, error) {
	var supply reward.Supply
	ok, err := s.get(keyRewardSupply, &supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &supply, nil
}

// RewardSupplyPut persists the reward supply record.
func (s *State) RewardSupplyPut(supply *reward.Supply) error {
	if supply == nil {
		return fmt.Errorf("storage: nil reward supply")
	}
	return s.put(keyRewardSupply, supply)
}
