package lottery

import (
	"fmt"
	"sort"
)

// loadTicketFor fetches a live ticket handle of the given lottery owned by
// caller, applying the shared validation order: existence, lottery binding,
// ownership, redemption latch.
func (e *Engine) loadTicketFor(lot *Lottery, caller [20]byte, handle [32]byte) (*Ticket, error) {
	ticket, ok := e.state.TicketGet(handle)
	if !ok {
		return nil, ErrTicketNotFound
	}
	if ticket.LotteryID != lot.ID {
		return nil, ErrLotteryMismatch
	}
	if ticket.Owner != caller {
		return nil, ErrNotAuthorized
	}
	if ticket.Redeemed {
		return nil, ErrTicketRedeemed
	}
	return ticket, nil
}

// SplitTicket cuts one range of a live handle at the given ticket number,
// producing a second handle carrying the upper piece. Both handles keep the
// same owner and the ledger partition is re-cut in place. Valid only while
// the lottery is Active so winner resolution always runs over a settled
// partition.
func (e *Engine) SplitTicket(id uint64, caller [20]byte, handle [32]byte, at uint64) (*Ticket, *Ticket, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	unlock := e.lockLottery(id)
	defer unlock()

	lot, err := e.loadLottery(id)
	if err != nil {
		return nil, nil, err
	}
	if err := e.checkConservation(lot); err != nil {
		return nil, nil, err
	}
	if lot.Status != StatusActive {
		return nil, nil, ErrInvalidLotteryState
	}
	ticket, err := e.loadTicketFor(lot, caller, handle)
	if err != nil {
		return nil, nil, err
	}
	idx := -1
	for i, r := range ticket.Ranges {
		if at > r.Start && at <= r.End {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, ErrInvalidQuantity
	}
	full := ticket.Ranges[idx]
	if err := lot.Ledger.Split(full, at); err != nil {
		return nil, nil, err
	}
	lower := TicketRange{Start: full.Start, End: at - 1}
	upper := TicketRange{Start: at, End: full.End}
	ticket.Ranges[idx] = lower
	split := &Ticket{
		ID:        ticketID(lot.ID, upper, caller),
		LotteryID: lot.ID,
		Owner:     caller,
		Ranges:    []TicketRange{upper},
	}
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, nil, err
	}
	if err := e.state.TicketPut(split); err != nil {
		return nil, nil, err
	}
	if err := e.storeLottery(lot); err != nil {
		return nil, nil, err
	}
	e.emit(NewTicketSplitEvent(ticket))
	e.emit(NewTicketSplitEvent(split))
	return ticket.Clone(), split.Clone(), nil
}

// MergeTickets joins two live handles of the same owner into one. Adjacent
// intervals coalesce in the ledger partition; non-adjacent intervals stay
// distinct records but settle under the combined handle.
func (e *Engine) MergeTickets(id uint64, caller [20]byte, a, b [32]byte) (*Ticket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock := e.lockLottery(id)
	defer unlock()

	if a == b {
		return nil, ErrSameTicket
	}
	lot, err := e.loadLottery(id)
	if err != nil {
		return nil, err
	}
	if err := e.checkConservation(lot); err != nil {
		return nil, err
	}
	if lot.Status != StatusActive {
		return nil, ErrInvalidLotteryState
	}
	ticketA, err := e.loadTicketFor(lot, caller, a)
	if err != nil {
		return nil, err
	}
	ticketB, ok := e.state.TicketGet(b)
	if !ok {
		return nil, ErrTicketNotFound
	}
	if ticketB.LotteryID != lot.ID {
		return nil, ErrLotteryMismatch
	}
	if ticketB.Owner != ticketA.Owner {
		return nil, ErrOwnerMismatch
	}
	if ticketB.Redeemed {
		return nil, ErrTicketRedeemed
	}
	combined := append(append([]TicketRange(nil), ticketA.Ranges...), ticketB.Ranges...)
	sort.Slice(combined, func(i, j int) bool { return combined[i].Start < combined[j].Start })
	// Two live handles of one lottery must carry disjoint intervals; an
	// overlap means the handle store disagrees with the partition.
	for i := 1; i < len(combined); i++ {
		if combined[i].Start <= combined[i-1].End {
			return nil, e.checkCorrupt(lot, fmt.Sprintf("ticket ranges overlap at %d", combined[i].Start))
		}
	}
	normalized := combined[:1]
	for _, r := range combined[1:] {
		last := &normalized[len(normalized)-1]
		if last.End+1 == r.Start {
			if err := lot.Ledger.Merge(TicketRange{Start: last.Start, End: last.End}, r); err != nil {
				return nil, err
			}
			last.End = r.End
			continue
		}
		normalized = append(normalized, r)
	}
	ticketA.Ranges = append([]TicketRange(nil), normalized...)
	if err := e.state.TicketRemove(ticketB.ID); err != nil {
		return nil, err
	}
	if err := e.state.TicketPut(ticketA); err != nil {
		return nil, err
	}
	if err := e.storeLottery(lot); err != nil {
		return nil, err
	}
	e.emit(NewTicketMergedEvent(ticketA))
	return ticketA.Clone(), nil
}

// TransferTicket relabels a live handle and its ledger ranges to a new owner.
func (e *Engine) TransferTicket(id uint64, caller [20]byte, handle [32]byte, newOwner [20]byte) (*Ticket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
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
	if lot.Status != StatusActive {
		return nil, ErrInvalidLotteryState
	}
	ticket, err := e.loadTicketFor(lot, caller, handle)
	if err != nil {
		return nil, err
	}
	capTickets := lot.MaxTickets * uint64(e.params.BuyerCapBps) / BasisPointsDenominator
	if capTickets == 0 {
		capTickets = 1
	}
	if lot.Ledger.OwnedCount(newOwner)+ticket.Quantity() > capTickets {
		return nil, ErrBuyerCapExceeded
	}
	for _, r := range ticket.Ranges {
		if err := lot.Ledger.Transfer(r, newOwner); err != nil {
			return nil, err
		}
	}
	ticket.Owner = newOwner
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	if err := e.storeLottery(lot); err != nil {
		return nil, err
	}
	e.emit(NewTicketTransferredEvent(ticket))
	return ticket.Clone(), nil
}
