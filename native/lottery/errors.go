package lottery

import "errors"

var (
	ErrInvalidAmount            = errors.New("lottery: invalid amount")
	ErrInvalidDuration          = errors.New("lottery: invalid duration")
	ErrInvalidQuantity          = errors.New("lottery: invalid quantity")
	ErrNotAuthorized            = errors.New("lottery: not authorized")
	ErrProtocolPaused           = errors.New("lottery: protocol paused")
	ErrInvalidLotteryState      = errors.New("lottery: invalid lottery state")
	ErrLotteryExpired           = errors.New("lottery: lottery expired")
	ErrLotteryNotExpired        = errors.New("lottery: lottery not expired")
	ErrLotteryNotFound          = errors.New("lottery: lottery not found")
	ErrTicketNotFound           = errors.New("lottery: ticket not found")
	ErrLotteryMismatch          = errors.New("lottery: ticket belongs to a different lottery")
	ErrCollateralAlreadyClaimed = errors.New("lottery: collateral already claimed")
	ErrTicketRedeemed           = errors.New("lottery: ticket already redeemed")
	ErrMaxSupplyReached         = errors.New("lottery: max ticket supply reached")
	ErrBuyerCapExceeded         = errors.New("lottery: per-buyer ticket cap exceeded")
	ErrInsufficientPayment      = errors.New("lottery: insufficient payment")
	ErrInsufficientFunds        = errors.New("lottery: insufficient funds")
	ErrOwnerMismatch            = errors.New("lottery: range owners differ")
	ErrSameTicket               = errors.New("lottery: cannot merge a ticket with itself")
	ErrConservationBreach       = errors.New("lottery: escrow accounting inconsistent")
	ErrLotteryFrozen            = errors.New("lottery: lottery frozen after accounting breach")
	ErrRandomnessUnavailable    = errors.New("lottery: randomness source unavailable")
)
