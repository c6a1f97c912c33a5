package models

import (
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/pkg/terminal"
)

type IssueCardRequest struct {
	CodeUID        string     `json:"code_uid"`
	NumeroSerie    string     `json:"numero_serie,omitempty"`
	Type           card.Type  `json:"type"`
	Owner          card.Owner `json:"owner"`
	ExpirationDate time.Time  `json:"expiration_date,omitempty"`
	DailyLimit     int64      `json:"daily_limit,omitempty"`
	MonthlyLimit   int64      `json:"monthly_limit,omitempty"`
	MaxBalance     int64      `json:"max_balance,omitempty"`
}

type OwnerRequest struct {
	Kind card.OwnerKind `json:"kind"`
	ID   string         `json:"id"`
}

type BlockRequest struct {
	Reason string `json:"reason"`
}

type ReportRequest struct {
	Kind          card.Status `json:"kind"` // PERDUE or VOLEE
	Circumstances string      `json:"circumstances"`
}

type PINRequest struct {
	PIN string `json:"pin"`
}

type LimitsRequest struct {
	DailyLimit   int64 `json:"daily_limit"`
	MonthlyLimit int64 `json:"monthly_limit"`
}

type ReplacementRequest struct {
	CodeUID     string `json:"code_uid"`
	NumeroSerie string `json:"numero_serie,omitempty"`
}

// CardView is a card with its remaining spend for the current windows.
type CardView struct {
	*card.Card
	RemainingDaily   int64 `json:"remaining_daily"`
	RemainingMonthly int64 `json:"remaining_monthly"`
}

type AuthorizeRequest struct {
	CardID             string           `json:"card_id"`
	Type               ledger.TxType    `json:"type"`
	Amount             int64            `json:"amount"`
	Direction          ledger.Direction `json:"direction,omitempty"`
	MerchantID         string           `json:"merchant_id,omitempty"`
	MerchantName       string           `json:"merchant_name,omitempty"`
	TerminalID         string           `json:"terminal_id,omitempty"`
	CounterpartyCardID string           `json:"counterparty_card_id,omitempty"`
	Description        string           `json:"description,omitempty"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type TransactionList struct {
	Transactions []*ledger.Transaction `json:"transactions"`
	Count        int                   `json:"count"`
}

type FeePreview struct {
	Type   ledger.TxType `json:"type"`
	Amount int64         `json:"amount"`
	Fee    int64         `json:"fee"`
	Total  int64         `json:"total"`
}

type PresentCardRequest struct {
	CardID string `json:"card_id"`
}

type MerchantList struct {
	Merchants []terminal.Merchant `json:"merchants"`
}
