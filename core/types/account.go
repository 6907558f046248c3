package types

import "math/big"

// Account tracks the balances held by a single principal. Balance is
// denominated in the smallest currency unit; BalanceCHOC holds the ChocoChip
// reward token minted by the native reward factory.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	Balance     *big.Int `json:"balance"`
	BalanceCHOC *big.Int `json:"balanceCHOC"`
}

// EnsureBalances normalises nil balance fields to zero so arithmetic on a
// freshly loaded account never dereferences a nil big.Int.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0), BalanceCHOC: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	if a.BalanceCHOC == nil {
		a.BalanceCHOC = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0), BalanceCHOC: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.BalanceCHOC != nil {
		clone.BalanceCHOC = new(big.Int).Set(a.BalanceCHOC)
	}
	return clone
}
