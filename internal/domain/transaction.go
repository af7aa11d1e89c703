package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxKind identifies which ledger a record's proof lives on.
type TxKind string

const (
	TxKindDeposit TxKind = "deposit" // collateral deposit on the lending ledger
	TxKindMint    TxKind = "mint"    // stablecoin mint on the lending ledger
	TxKindBridge  TxKind = "bridge"  // transfer onto the second ledger
	TxKindSend    TxKind = "send"    // transfer on the second ledger (yield deploy)
)

// Valid reports whether k is one of the known kinds.
func (k TxKind) Valid() bool {
	switch k {
	case TxKindDeposit, TxKindMint, TxKindBridge, TxKindSend:
		return true
	}
	return false
}

// TxStatus is the persisted lifecycle state of a record.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Terminal reports whether no further status change is permitted.
func (s TxStatus) Terminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// TransactionRecord is the durable unit tracked per flow step.
type TransactionRecord struct {
	ID                 string          `json:"id"`
	FlowID             string          `json:"flow_id,omitempty"`
	Kind               TxKind          `json:"kind"`
	Asset              string          `json:"asset"`
	Amount             decimal.Decimal `json:"amount"`
	Status             TxStatus        `json:"status"`
	SourceTxProof      *string         `json:"source_tx_proof,omitempty"`
	DestinationTxProof *string         `json:"destination_tx_proof,omitempty"`
	SourceAddress      string          `json:"source_address,omitempty"`
	DestinationAddress string          `json:"destination_address,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsTerminal is shorthand for r.Status.Terminal().
func (r TransactionRecord) IsTerminal() bool {
	return r.Status.Terminal()
}

// RecordPatch is a per-field update. Nil fields are left untouched.
type RecordPatch struct {
	Status             *TxStatus
	Amount             *decimal.Decimal
	SourceTxProof      *string
	DestinationTxProof *string
	ErrorMessage       *string
}

// Apply merges p into r in place.
func (p RecordPatch) Apply(r *TransactionRecord) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.SourceTxProof != nil {
		v := *p.SourceTxProof
		r.SourceTxProof = &v
	}
	if p.DestinationTxProof != nil {
		v := *p.DestinationTxProof
		r.DestinationTxProof = &v
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
}

// Confirmed builds a patch that confirms a record.
func Confirmed() RecordPatch {
	s := TxStatusConfirmed
	return RecordPatch{Status: &s}
}

// Failed builds a patch that fails a record with msg.
func Failed(msg string) RecordPatch {
	s := TxStatusFailed
	return RecordPatch{Status: &s, ErrorMessage: &msg}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
