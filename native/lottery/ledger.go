package lottery

import (
	"fmt"
	"sort"
)

// LedgerRange is one owned interval of the ticket partition.
type LedgerRange struct {
	Owner [20]byte
	Start uint64
	End   uint64
}

// Size returns the number of tickets covered by the record.
func (r LedgerRange) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// TicketLedger partitions the sold ticket interval [1, soldCount] into
// non-overlapping owner ranges. Records are kept sorted by start offset so
// winner lookup resolves in O(log n) regardless of holder count.
type TicketLedger struct {
	Ranges []LedgerRange
}

// NewTicketLedger returns an empty ledger.
func NewTicketLedger() *TicketLedger {
	return &TicketLedger{}
}

// Clone returns a deep copy of the ledger.
func (l *TicketLedger) Clone() *TicketLedger {
	if l == nil {
		return nil
	}
	return &TicketLedger{Ranges: append([]LedgerRange(nil), l.Ranges...)}
}

// Cursor returns the highest ticket number ever appended. Appended ranges are
// never renumbered, so the cursor is simply the end of the last record unless
// redemption has removed it; callers that need the sale cursor use the
// lottery's SoldCount instead.
func (l *TicketLedger) Cursor() uint64 {
	if l == nil || len(l.Ranges) == 0 {
		return 0
	}
	return l.Ranges[len(l.Ranges)-1].End
}

// Append adds a new range of quantity tickets for owner at the given cursor
// position and returns it. The caller supplies the sale cursor (soldCount
// before the purchase) because redeemed ranges may already have been removed
// from the partition.
func (l *TicketLedger) Append(owner [20]byte, cursor, quantity uint64) (TicketRange, error) {
	if quantity == 0 {
		return TicketRange{}, ErrInvalidQuantity
	}
	if cursor < l.Cursor() {
		return TicketRange{}, fmt.Errorf("lottery: append cursor %d behind ledger end %d", cursor, l.Cursor())
	}
	r := LedgerRange{Owner: owner, Start: cursor + 1, End: cursor + quantity}
	l.Ranges = append(l.Ranges, r)
	return TicketRange{Start: r.Start, End: r.End}, nil
}

// find returns the index of the record exactly matching the interval, or -1.
func (l *TicketLedger) find(r TicketRange) int {
	idx := sort.Search(len(l.Ranges), func(i int) bool { return l.Ranges[i].Start >= r.Start })
	if idx < len(l.Ranges) && l.Ranges[idx].Start == r.Start && l.Ranges[idx].End == r.End {
		return idx
	}
	return -1
}

// Split cuts the record matching r into [r.Start, at-1] and [at, r.End], both
// kept by the same owner. The cut must be strictly interior.
func (l *TicketLedger) Split(r TicketRange, at uint64) error {
	if at <= r.Start || at > r.End {
		return ErrInvalidQuantity
	}
	idx := l.find(r)
	if idx < 0 {
		return ErrTicketNotFound
	}
	owner := l.Ranges[idx].Owner
	lower := LedgerRange{Owner: owner, Start: r.Start, End: at - 1}
	upper := LedgerRange{Owner: owner, Start: at, End: r.End}
	l.Ranges = append(l.Ranges, LedgerRange{})
	copy(l.Ranges[idx+2:], l.Ranges[idx+1:])
	l.Ranges[idx] = lower
	l.Ranges[idx+1] = upper
	return nil
}

// Merge coalesces two records of the same owner when they are adjacent.
// Non-adjacent records stay distinct in the partition; quantity-level joining
// of such records happens on the ticket handle, not here.
func (l *TicketLedger) Merge(a, b TicketRange) error {
	if b.Start < a.Start {
		a, b = b, a
	}
	ai := l.find(a)
	bi := l.find(b)
	if ai < 0 || bi < 0 {
		return ErrTicketNotFound
	}
	if l.Ranges[ai].Owner != l.Ranges[bi].Owner {
		return ErrOwnerMismatch
	}
	if a.End+1 != b.Start {
		return nil
	}
	l.Ranges[ai].End = b.End
	l.Ranges = append(l.Ranges[:bi], l.Ranges[bi+1:]...)
	return nil
}

// Transfer relabels the record matching r to the new owner.
func (l *TicketLedger) Transfer(r TicketRange, newOwner [20]byte) error {
	idx := l.find(r)
	if idx < 0 {
		return ErrTicketNotFound
	}
	l.Ranges[idx].Owner = newOwner
	return nil
}

// Remove deletes the records exactly matching the given intervals. Used when a
// ticket handle is consumed at settlement.
func (l *TicketLedger) Remove(ranges []TicketRange) error {
	for _, r := range ranges {
		idx := l.find(r)
		if idx < 0 {
			return ErrTicketNotFound
		}
		l.Ranges = append(l.Ranges[:idx], l.Ranges[idx+1:]...)
	}
	return nil
}

// OwnerOf resolves the current owner of a ticket number via binary search over
// range starts.
func (l *TicketLedger) OwnerOf(ticket uint64) ([20]byte, error) {
	if l == nil || ticket == 0 {
		return [20]byte{}, ErrTicketNotFound
	}
	idx := sort.Search(len(l.Ranges), func(i int) bool { return l.Ranges[i].Start > ticket })
	if idx == 0 {
		return [20]byte{}, ErrTicketNotFound
	}
	r := l.Ranges[idx-1]
	if ticket < r.Start || ticket > r.End {
		return [20]byte{}, ErrTicketNotFound
	}
	return r.Owner, nil
}

// OwnedCount returns the total tickets currently held by owner.
func (l *TicketLedger) OwnedCount(owner [20]byte) uint64 {
	if l == nil {
		return 0
	}
	var total uint64
	for _, r := range l.Ranges {
		if r.Owner == owner {
			total += r.Size()
		}
	}
	return total
}

// Covered returns the total tickets present in the partition.
func (l *TicketLedger) Covered() uint64 {
	if l == nil {
		return 0
	}
	var total uint64
	for _, r := range l.Ranges {
		total += r.Size()
	}
	return total
}

// Validate checks the structural invariant: records sorted by start, strictly
// non-overlapping, every interval well-formed and within [1, soldCount].
func (l *TicketLedger) Validate(soldCount uint64) error {
	if l == nil {
		return nil
	}
	var prevEnd uint64
	for _, r := range l.Ranges {
		if r.Start == 0 || r.End < r.Start {
			return fmt.Errorf("lottery: malformed ledger range [%d, %d]", r.Start, r.End)
		}
		if r.Start <= prevEnd {
			return fmt.Errorf("lottery: overlapping ledger ranges at %d", r.Start)
		}
		if r.End > soldCount {
			return fmt.Errorf("lottery: ledger range [%d, %d] beyond sold count %d", r.Start, r.End, soldCount)
		}
		prevEnd = r.End
	}
	return nil
}

// FullCover reports whether the partition covers [1, soldCount] without gaps.
// This holds for the whole Active phase; redemption opens gaps afterwards.
func (l *TicketLedger) FullCover(soldCount uint64) bool {
	if soldCount == 0 {
		return l == nil || len(l.Ranges) == 0
	}
	if l == nil {
		return false
	}
	var next uint64 = 1
	for _, r := range l.Ranges {
		if r.Start != next {
			return false
		}
		next = r.End + 1
	}
	return next == soldCount+1
}
