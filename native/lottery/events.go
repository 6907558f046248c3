package lottery

import (
	"encoding/hex"
	"strconv"

	"meltyfi/core/types"
)

const (
	EventTypeLotteryCreated    = "lottery.created"
	EventTypeTicketsSold       = "lottery.tickets_sold"
	EventTypeLotteryConcluded  = "lottery.concluded"
	EventTypeLotteryExpired    = "lottery.expired"
	EventTypeLotteryCancelled  = "lottery.cancelled"
	EventTypeTicketRedeemed    = "lottery.ticket_redeemed"
	EventTypeTicketSplit       = "lottery.ticket_split"
	EventTypeTicketMerged      = "lottery.ticket_merged"
	EventTypeTicketTransferred = "lottery.ticket_transferred"
	EventTypeFeesWithdrawn     = "lottery.fees_withdrawn"
	EventTypePauseChanged      = "lottery.pause_changed"
	EventTypeLotteryFrozen     = "lottery.frozen"
)

func lotteryAttributes(l *Lottery) map[string]string {
	attrs := make(map[string]string)
	if l == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(l.ID, 10)
	attrs["owner"] = hex.EncodeToString(l.Owner[:])
	attrs["status"] = l.Status.String()
	attrs["ticketPrice"] = l.TicketPrice.String()
	attrs["maxTickets"] = strconv.FormatUint(l.MaxTickets, 10)
	attrs["soldCount"] = strconv.FormatUint(l.SoldCount, 10)
	attrs["escrowedFunds"] = l.EscrowedFunds.String()
	attrs["expiresAt"] = strconv.FormatInt(l.ExpiresAt, 10)
	return attrs
}

// NewCreatedEvent returns the canonical payload for a newly created lottery.
func NewCreatedEvent(l *Lottery) *types.Event {
	return &types.Event{Type: EventTypeLotteryCreated, Attributes: lotteryAttributes(l)}
}

// NewTicketsSoldEvent returns the payload emitted on a ticket purchase.
func NewTicketsSoldEvent(l *Lottery, t *Ticket) *types.Event {
	attrs := lotteryAttributes(l)
	if t != nil {
		attrs["ticketId"] = hex.EncodeToString(t.ID[:])
		attrs["buyer"] = hex.EncodeToString(t.Owner[:])
		attrs["quantity"] = strconv.FormatUint(t.Quantity(), 10)
	}
	return &types.Event{Type: EventTypeTicketsSold, Attributes: attrs}
}

// NewConcludedEvent returns the payload emitted when a winner is drawn.
func NewConcludedEvent(l *Lottery, winningTicket uint64) *types.Event {
	attrs := lotteryAttributes(l)
	attrs["winningTicket"] = strconv.FormatUint(winningTicket, 10)
	if l != nil && l.Winner != nil {
		attrs["winner"] = hex.EncodeToString(l.Winner[:])
	}
	return &types.Event{Type: EventTypeLotteryConcluded, Attributes: attrs}
}

// NewExpiredEvent returns the payload emitted when a lottery expires with no
// tickets sold.
func NewExpiredEvent(l *Lottery) *types.Event {
	return &types.Event{Type: EventTypeLotteryExpired, Attributes: lotteryAttributes(l)}
}

// NewCancelledEvent returns the payload emitted when the borrower repays.
func NewCancelledEvent(l *Lottery, fee string) *types.Event {
	attrs := lotteryAttributes(l)
	attrs["fee"] = fee
	return &types.Event{Type: EventTypeLotteryCancelled, Attributes: attrs}
}

// NewRedeemedEvent returns the payload emitted when a ticket handle settles.
func NewRedeemedEvent(l *Lottery, t *Ticket, refund, reward string, collateral bool) *types.Event {
	attrs := lotteryAttributes(l)
	if t != nil {
		attrs["ticketId"] = hex.EncodeToString(t.ID[:])
		attrs["holder"] = hex.EncodeToString(t.Owner[:])
		attrs["quantity"] = strconv.FormatUint(t.Quantity(), 10)
	}
	attrs["refund"] = refund
	attrs["reward"] = reward
	attrs["collateralReleased"] = strconv.FormatBool(collateral)
	return &types.Event{Type: EventTypeTicketRedeemed, Attributes: attrs}
}

func ticketEvent(eventType string, t *Ticket) *types.Event {
	attrs := make(map[string]string)
	if t != nil {
		attrs["ticketId"] = hex.EncodeToString(t.ID[:])
		attrs["lotteryId"] = strconv.FormatUint(t.LotteryID, 10)
		attrs["owner"] = hex.EncodeToString(t.Owner[:])
		attrs["quantity"] = strconv.FormatUint(t.Quantity(), 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewTicketSplitEvent returns the payload for a split ticket handle.
func NewTicketSplitEvent(t *Ticket) *types.Event { return ticketEvent(EventTypeTicketSplit, t) }

// NewTicketMergedEvent returns the payload for a merged ticket handle.
func NewTicketMergedEvent(t *Ticket) *types.Event { return ticketEvent(EventTypeTicketMerged, t) }

// NewTicketTransferredEvent returns the payload for a transferred ticket handle.
func NewTicketTransferredEvent(t *Ticket) *types.Event {
	return ticketEvent(EventTypeTicketTransferred, t)
}

// NewFeesWithdrawnEvent returns the payload for an admin treasury withdrawal.
func NewFeesWithdrawnEvent(recipient [20]byte, amount, remaining string) *types.Event {
	return &types.Event{Type: EventTypeFeesWithdrawn, Attributes: map[string]string{
		"recipient": hex.EncodeToString(recipient[:]),
		"amount":    amount,
		"remaining": remaining,
	}}
}

// NewPauseChangedEvent returns the payload for a pause switch flip.
func NewPauseChangedEvent(paused bool) *types.Event {
	return &types.Event{Type: EventTypePauseChanged, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

// NewFrozenEvent returns the payload emitted when conservation checking
// latches a lottery frozen.
func NewFrozenEvent(l *Lottery, detail string) *types.Event {
	attrs := lotteryAttributes(l)
	attrs["detail"] = detail
	return &types.Event{Type: EventTypeLotteryFrozen, Attributes: attrs}
}
