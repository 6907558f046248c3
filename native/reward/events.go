package reward

import (
	"encoding/hex"
	"math/big"

	"meltyfi/core/types"
)

const (
	EventTypeMinted           = "chocochip.minted"
	EventTypeBurned           = "chocochip.burned"
	EventTypeMinterAuthorized = "chocochip.minter_authorized"
	EventTypeMinterRevoked    = "chocochip.minter_revoked"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewMintedEvent returns the canonical payload for a mint.
func NewMintedEvent(minter, recipient [20]byte, amount, total *big.Int) *types.Event {
	return &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"minter":      hex.EncodeToString(minter[:]),
		"recipient":   hex.EncodeToString(recipient[:]),
		"amount":      formatAmount(amount),
		"totalSupply": formatAmount(total),
	}}
}

// NewBurnedEvent returns the canonical payload for a burn.
func NewBurnedEvent(holder [20]byte, amount, total *big.Int) *types.Event {
	return &types.Event{Type: EventTypeBurned, Attributes: map[string]string{
		"holder":      hex.EncodeToString(holder[:]),
		"amount":      formatAmount(amount),
		"totalSupply": formatAmount(total),
	}}
}

// NewMinterAuthorizedEvent returns the payload for a minter-set addition.
func NewMinterAuthorizedEvent(minter [20]byte) *types.Event {
	return &types.Event{Type: EventTypeMinterAuthorized, Attributes: map[string]string{
		"minter": hex.EncodeToString(minter[:]),
	}}
}

// NewMinterRevokedEvent returns the payload for a minter-set removal.
func NewMinterRevokedEvent(minter [20]byte) *types.Event {
	return &types.Event{Type: EventTypeMinterRevoked, Attributes: map[string]string{
		"minter": hex.EncodeToString(minter[:]),
	}}
}
