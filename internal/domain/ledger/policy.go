package ledger

// BalancePolicy names the entry types allowed to take a wallet below zero.
// Every other type is rejected with ErrInsufficientBalance when it would.
type BalancePolicy struct {
	allowNegative map[EntryType]struct{}
}

// DefaultBalancePolicy lets administrative corrections and chargebacks overdraw
func DefaultBalancePolicy() BalancePolicy {
	p, _ := NewBalancePolicy(EntryTypeAdminAdjust, EntryTypeChargeback)
	return p
}

func NewBalancePolicy(types ...EntryType) (BalancePolicy, error) {
	p := BalancePolicy{allowNegative: make(map[EntryType]struct{}, len(types))}
	for _, t := range types {
		if !t.Valid() {
			return BalancePolicy{}, ErrInvalidEntryType{Type: t}
		}
		p.allowNegative[t] = struct{}{}
	}
	return p, nil
}

// ParseBalancePolicy builds a policy from configured type names
func ParseBalancePolicy(names []string) (BalancePolicy, error) {
	types := make([]EntryType, 0, len(names))
	for _, name := range names {
		types = append(types, EntryType(name))
	}
	return NewBalancePolicy(types...)
}

func (p BalancePolicy) AllowsNegative(t EntryType) bool {
	_, ok := p.allowNegative[t]
	return ok
}

// Check returns the resulting balance or ErrInsufficientBalance
func (p BalancePolicy) Check(identityID string, balance int64, entryType EntryType, delta int64) (int64, error) {
	newBalance := balance + delta
	if newBalance < 0 && !p.AllowsNegative(entryType) {
		return balance, ErrInsufficientBalance{
			IdentityID: identityID,
			Type:       entryType,
			Balance:    balance,
			Delta:      delta,
		}
	}
	return newBalance, nil
}
