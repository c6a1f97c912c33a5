package chaincode

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	cardIndex     = "card~ref"
	anchoredEvent = "TransactionAnchored"
)

// TransactionRecord is the anchored copy of a final ledger transaction.
// Field tags follow the ledger's JSON encoding so the submitted payload
// can be stored as is.
type TransactionRecord struct {
	ID                 string `json:"id"`
	CardID             string `json:"card_id"`
	Type               string `json:"type"`
	Direction          string `json:"direction"`
	Amount             int64  `json:"amount"`
	Fee                int64  `json:"fee"`
	BalanceBefore      int64  `json:"balance_before"`
	BalanceAfter       int64  `json:"balance_after"`
	Status             string `json:"status"`
	ErrorCode          string `json:"error_code,omitempty"`
	ReferenceInterne   string `json:"reference_interne"`
	ReversalOf         string `json:"reversal_of,omitempty"`
	MerchantID         string `json:"merchant_id,omitempty"`
	MerchantName       string `json:"merchant_name,omitempty"`
	TerminalID         string `json:"terminal_id,omitempty"`
	CounterpartyCardID string `json:"counterparty_card_id,omitempty"`
	Description        string `json:"description,omitempty"`
	CreatedAt          string `json:"created_at"`
	CompletedAt        string `json:"completed_at,omitempty"`
	AnchoredBy         string `json:"anchored_by,omitempty"`
}

// SmartContract keeps a tamper-evident audit trail of card transactions.
type SmartContract struct {
	contractapi.Contract
}

// ParseRecord decodes and validates a submitted transaction payload.
func ParseRecord(payload string) (*TransactionRecord, error) {
	var rec TransactionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %v", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Validate checks the invariants an anchored record must hold.
func (r *TransactionRecord) Validate() error {
	if r.ReferenceInterne == "" {
		return fmt.Errorf("reference_interne is required")
	}
	if r.CardID == "" {
		return fmt.Errorf("card_id is required")
	}
	switch r.Status {
	case "VALIDEE", "ECHOUEE", "ANNULEE":
	default:
		return fmt.Errorf("transaction %s is not final (status %q)", r.ReferenceInterne, r.Status)
	}
	switch r.Direction {
	case "DEBIT", "CREDIT":
	default:
		return fmt.Errorf("invalid direction %q", r.Direction)
	}
	if r.Amount < 0 || r.Fee < 0 {
		return fmt.Errorf("amount and fee must not be negative")
	}
	if r.Status == "VALIDEE" {
		want := r.BalanceBefore - r.Amount - r.Fee
		if r.Direction == "CREDIT" {
			want = r.BalanceBefore + r.Amount
		}
		if r.BalanceAfter != want {
			return fmt.Errorf("balance_after %d does not match movement (expected %d)", r.BalanceAfter, want)
		}
		if r.ErrorCode != "" {
			return fmt.Errorf("validated transaction carries error code %s", r.ErrorCode)
		}
	} else if r.BalanceAfter != r.BalanceBefore {
		return fmt.Errorf("failed transaction %s moved the balance", r.ReferenceInterne)
	}
	return nil
}

// RecordTransaction anchors one final transaction. A reference can only be
// anchored once.
func (s *SmartContract) RecordTransaction(ctx contractapi.TransactionContextInterface, payload string) error {
	rec, err := ParseRecord(payload)
	if err != nil {
		return err
	}

	existing, err := ctx.GetStub().GetState(rec.ReferenceInterne)
	if err != nil {
		return fmt.Errorf("failed to read from world state: %v", err)
	}
	if existing != nil {
		return fmt.Errorf("transaction %s is already anchored", rec.ReferenceInterne)
	}

	if mspID, err := ctx.GetClientIdentity().GetMSPID(); err == nil {
		rec.AnchoredBy = mspID
	}

	recBytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(rec.ReferenceInterne, recBytes); err != nil {
		return fmt.Errorf("failed to put transaction: %v", err)
	}

	indexKey, err := ctx.GetStub().CreateCompositeKey(cardIndex, []string{rec.CardID, rec.ReferenceInterne})
	if err != nil {
		return fmt.Errorf("failed to create card index: %v", err)
	}
	if err := ctx.GetStub().PutState(indexKey, []byte{0x00}); err != nil {
		return fmt.Errorf("failed to put card index: %v", err)
	}

	return ctx.GetStub().SetEvent(anchoredEvent, recBytes)
}

// GetTransaction returns an anchored transaction by its internal reference.
func (s *SmartContract) GetTransaction(ctx contractapi.TransactionContextInterface, ref string) (*TransactionRecord, error) {
	recBytes, err := ctx.GetStub().GetState(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if recBytes == nil {
		return nil, fmt.Errorf("transaction %s does not exist", ref)
	}

	var rec TransactionRecord
	if err := json.Unmarshal(recBytes, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByCard returns every anchored transaction of a card.
func (s *SmartContract) ListByCard(ctx contractapi.TransactionContextInterface, cardID string) ([]*TransactionRecord, error) {
	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(cardIndex, []string{cardID})
	if err != nil {
		return nil, fmt.Errorf("failed to query card index: %v", err)
	}
	defer iter.Close()

	var records []*TransactionRecord
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, err
		}
		_, parts, err := ctx.GetStub().SplitCompositeKey(kv.Key)
		if err != nil {
			return nil, err
		}
		if len(parts) != 2 {
			continue
		}
		rec, err := s.GetTransaction(ctx, parts[1])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
