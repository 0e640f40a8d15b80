package wallet

// Balance is derived from the note set on every call; nothing is cached.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
	Total       int64 `json:"total"`
}

// Balance sums the notes unspent as of height asOf. Notes at least depth
// blocks deep (height <= asOf - depth) are confirmed; the rest are
// unconfirmed. A depth of zero confirms everything.
func (s *Store) Balance(asOf, depth uint64) (Balance, error) {
	return s.BalanceAt(asOf, asOf, depth)
}

// BalanceAt sums the notes unspent as of asOf but counts confirmations
// against tip, for state synced only part of the way to the chain tip.
// A tip below asOf is treated as asOf.
func (s *Store) BalanceAt(asOf, tip, depth uint64) (Balance, error) {
	notes, err := s.NotesInRange(0, asOf)
	if err != nil {
		return Balance{}, err
	}
	return ComputeBalanceAt(notes, asOf, tip, depth), nil
}

// ComputeBalance applies the balance rules to an arbitrary note set.
func ComputeBalance(notes []Note, asOf, depth uint64) Balance {
	return ComputeBalanceAt(notes, asOf, asOf, depth)
}

// ComputeBalanceAt is ComputeBalance with confirmations counted from tip.
func ComputeBalanceAt(notes []Note, asOf, tip, depth uint64) Balance {
	tip = max(tip, asOf)
	var b Balance
	for i := range notes {
		n := &notes[i]
		if !n.UnspentAt(asOf) {
			continue
		}
		if depth <= tip && n.Height <= tip-depth {
			b.Confirmed += n.Value
		} else {
			b.Unconfirmed += n.Value
		}
	}
	b.Total = b.Confirmed + b.Unconfirmed
	return b
}
