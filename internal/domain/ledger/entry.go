package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EntryType is the closed set of reasons a balance may change
type EntryType string

const (
	EntryTypePurchaseCredit      EntryType = "purchase_credit"
	EntryTypeReservationFinalize EntryType = "reservation_finalize"
	EntryTypeAdminAdjust         EntryType = "admin_adjust"
	EntryTypeAdminGrant          EntryType = "admin_grant"
	EntryTypeRefund              EntryType = "refund"
	EntryTypeSignupGrant         EntryType = "signup_grant"
	EntryTypeChargeback          EntryType = "chargeback"
)

// RefTypeReservation marks entries produced by capturing a hold
const RefTypeReservation = "reservation"

type sign int

const (
	signPositive sign = iota + 1
	signNegative
	signEither
)

var entrySigns = map[EntryType]sign{
	EntryTypePurchaseCredit:      signPositive,
	EntryTypeAdminGrant:          signPositive,
	EntryTypeRefund:              signPositive,
	EntryTypeSignupGrant:         signPositive,
	EntryTypeReservationFinalize: signNegative,
	EntryTypeChargeback:          signNegative,
	EntryTypeAdminAdjust:         signEither,
}

// EntryTypes lists every valid entry type
func EntryTypes() []EntryType {
	return []EntryType{
		EntryTypePurchaseCredit,
		EntryTypeReservationFinalize,
		EntryTypeAdminAdjust,
		EntryTypeAdminGrant,
		EntryTypeRefund,
		EntryTypeSignupGrant,
		EntryTypeChargeback,
	}
}

func (t EntryType) Valid() bool {
	_, ok := entrySigns[t]
	return ok
}

// ValidateAmount enforces the sign rule of the entry type. Zero is never valid.
func (t EntryType) ValidateAmount(amount int64) error {
	s, ok := entrySigns[t]
	if !ok {
		return ErrInvalidEntryType{Type: t}
	}
	switch {
	case amount == 0:
		return ErrInvalidAmount{Type: t, Amount: amount}
	case s == signPositive && amount < 0:
		return ErrInvalidAmount{Type: t, Amount: amount}
	case s == signNegative && amount > 0:
		return ErrInvalidAmount{Type: t, Amount: amount}
	}
	return nil
}

// Entry is an immutable signed credit movement
type Entry struct {
	ID         uuid.UUID      `json:"id" bson:"id"`
	IdentityID string         `json:"identity_id" bson:"identity_id"`
	Type       EntryType      `json:"entry_type" bson:"entry_type"`
	Amount     int64          `json:"amount_credits" bson:"amount_credits"`
	RefType    string         `json:"ref_type,omitempty" bson:"ref_type,omitempty"`
	RefID      string         `json:"ref_id,omitempty" bson:"ref_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
}

// NewEntry validates the type and sign and builds an entry ready to insert
func NewEntry(identityID string, entryType EntryType, amount int64, refType, refID string, meta map[string]any, now time.Time) (*Entry, error) {
	if identityID == "" {
		return nil, ErrEmptyIdentity
	}
	if err := entryType.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if (refType == "") != (refID == "") {
		return nil, ErrIncompleteReference
	}

	return &Entry{
		ID:         uuid.New(),
		IdentityID: identityID,
		Type:       entryType,
		Amount:     amount,
		RefType:    refType,
		RefID:      refID,
		Meta:       meta,
		CreatedAt:  now,
	}, nil
}

// HasRef reports whether the entry is idempotent on its reference
func (e *Entry) HasRef() bool {
	return e.RefID != ""
}
