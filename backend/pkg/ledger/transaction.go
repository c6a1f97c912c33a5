package ledger

import (
	"time"
)

type TxType string

const (
	TypeAchat         TxType = "ACHAT"
	TypeRetrait       TxType = "RETRAIT"
	TypeRecharge      TxType = "RECHARGE"
	TypeTransfert     TxType = "TRANSFERT"
	TypeRemboursement TxType = "REMBOURSEMENT"
)

func (t TxType) Valid() bool {
	switch t {
	case TypeAchat, TypeRetrait, TypeRecharge, TypeTransfert, TypeRemboursement:
		return true
	}
	return false
}

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

type TxStatus string

const (
	StatusEnCours TxStatus = "EN_COURS"
	StatusValidee TxStatus = "VALIDEE"
	StatusEchouee TxStatus = "ECHOUEE"
	StatusAnnulee TxStatus = "ANNULEE"
)

// Final reports whether a transaction in this status can no longer change.
func (s TxStatus) Final() bool {
	return s == StatusValidee || s == StatusEchouee || s == StatusAnnulee
}

// Metadata is descriptive context carried with a transaction. It never
// affects authorization.
type Metadata struct {
	MerchantID         string `json:"merchant_id,omitempty"`
	MerchantName       string `json:"merchant_name,omitempty"`
	TerminalID         string `json:"terminal_id,omitempty"`
	CounterpartyCardID string `json:"counterparty_card_id,omitempty"`
	Description        string `json:"description,omitempty"`
}

// Transaction is an append-only record of one attempted money movement.
type Transaction struct {
	ID               string    `json:"id"`
	CardID           string    `json:"card_id"`
	Type             TxType    `json:"type"`
	Direction        Direction `json:"direction"`
	Amount           int64     `json:"amount"`
	Fee              int64     `json:"fee"`
	BalanceBefore    int64     `json:"balance_before"`
	BalanceAfter     int64     `json:"balance_after"`
	Status           TxStatus  `json:"status"`
	ErrorCode        Code      `json:"error_code,omitempty"`
	ReferenceInterne string    `json:"reference_interne"`
	ReversalOf       string    `json:"reversal_of,omitempty"`
	Metadata
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Err returns the sentinel error for a failed transaction, or nil.
func (t *Transaction) Err() error {
	if t.Status != StatusEchouee {
		return nil
	}
	return t.ErrorCode.Err()
}

// Total is what a debit takes from the card.
func (t *Transaction) Total() int64 {
	if t.Direction == Debit {
		return t.Amount + t.Fee
	}
	return t.Amount
}

// Request asks the ledger to move Amount on one card. Direction is only
// read for TRANSFERT, which defaults to Debit; every other type implies it.
type Request struct {
	CardID    string    `json:"card_id"`
	Type      TxType    `json:"type"`
	Amount    int64     `json:"amount"`
	Direction Direction `json:"direction,omitempty"`
	Metadata

	reverses *Transaction
}

func (r Request) direction() Direction {
	switch r.Type {
	case TypeRecharge, TypeRemboursement:
		return Credit
	case TypeTransfert:
		if r.Direction == Credit {
			return Credit
		}
	}
	return Debit
}

// chargeable reports whether a fee applies. Credits never carry one.
func (r Request) chargeable() bool {
	return r.direction() == Debit
}
