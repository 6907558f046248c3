package reward

import "errors"

var (
	ErrNotAuthorized        = errors.New("reward: not authorized")
	ErrInvalidAmount        = errors.New("reward: invalid amount")
	ErrSupplyCapExceeded    = errors.New("reward: supply cap exceeded")
	ErrInsufficientBalance  = errors.New("reward: insufficient balance")
	ErrAlreadyAuthorized    = errors.New("reward: minter already authorized")
	ErrMinterNotAuthorized  = errors.New("reward: minter not authorized")
	ErrSupplyNotInitialized = errors.New("reward: supply not initialized")
)
