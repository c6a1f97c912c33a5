package ledger

import (
	"errors"

	"github.com/rfidpay/cardcore/backend/pkg/limits"
)

// Code is the machine-readable reason recorded on a failed transaction.
type Code string

const (
	CodeCardNotFound           Code = "CARD_NOT_FOUND"
	CodeCardNotActive          Code = "CARD_NOT_ACTIVE"
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeDailyLimitExceeded     Code = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded   Code = "MONTHLY_LIMIT_EXCEEDED"
	CodeBalanceCapExceeded     Code = "BALANCE_CAP_EXCEEDED"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeProcessingTimeout      Code = "PROCESSING_TIMEOUT"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

var (
	ErrCardNotFound           = errors.New("card not found")
	ErrCardNotActive          = errors.New("card is not active")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrDailyLimitExceeded     = limits.ErrDailyLimitExceeded
	ErrMonthlyLimitExceeded   = limits.ErrMonthlyLimitExceeded
	ErrBalanceCapExceeded     = errors.New("balance cap exceeded")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrProcessingTimeout      = errors.New("processing timeout")
	ErrInternal               = errors.New("internal error")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrVersionConflict     = errors.New("card version conflict")
	ErrDuplicateCard       = errors.New("card already exists")
	ErrUnknownType         = errors.New("unknown transaction type")
	ErrNotRefundable       = errors.New("transaction cannot be refunded")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")
	ErrUnlinkedRefund      = errors.New("refund must reference the original transaction")
	ErrNotReplaceable      = errors.New("only lost or stolen cards can be replaced")
	ErrAlreadyReplaced     = errors.New("card already replaced")
)

var codeErrors = map[Code]error{
	CodeCardNotFound:           ErrCardNotFound,
	CodeCardNotActive:          ErrCardNotActive,
	CodeInvalidAmount:          ErrInvalidAmount,
	CodeInsufficientBalance:    ErrInsufficientBalance,
	CodeDailyLimitExceeded:     ErrDailyLimitExceeded,
	CodeMonthlyLimitExceeded:   ErrMonthlyLimitExceeded,
	CodeBalanceCapExceeded:     ErrBalanceCapExceeded,
	CodeConcurrentModification: ErrConcurrentModification,
	CodeProcessingTimeout:      ErrProcessingTimeout,
	CodeInternalError:          ErrInternal,
}

var messages = map[Code]string{
	CodeCardNotFound:           "Carte introuvable / Card not found",
	CodeCardNotActive:          "Carte non active / Card is not active",
	CodeInvalidAmount:          "Montant invalide / Invalid amount",
	CodeInsufficientBalance:    "Solde insuffisant / Insufficient balance",
	CodeDailyLimitExceeded:     "Plafond journalier atteint / Daily limit exceeded",
	CodeMonthlyLimitExceeded:   "Plafond mensuel atteint / Monthly limit exceeded",
	CodeBalanceCapExceeded:     "Solde maximum atteint / Balance cap exceeded",
	CodeConcurrentModification: "Opération concurrente, réessayez / Concurrent operation, retry",
	CodeProcessingTimeout:      "Délai de traitement dépassé / Processing timed out",
	CodeInternalError:          "Erreur interne / Internal error",
}

func (c Code) Err() error {
	if err, ok := codeErrors[c]; ok {
		return err
	}
	return ErrInternal
}

// Message is the text shown to a cardholder or operator.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeInternalError]
}

// CodeOf maps an error to its code. Errors outside the taxonomy map to
// INTERNAL_ERROR.
func CodeOf(err error) Code {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	return CodeInternalError
}
