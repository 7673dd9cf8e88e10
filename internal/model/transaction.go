package model

import (
	"fmt"
	"time"

	"github.com/AlexZinkM/paygate/internal/common"
)

// EntryType distinguishes inbound payments from outbound releases.
type EntryType string

const (
	EntryPayment EntryType = "payment"
	EntryRelease EntryType = "release"
)

// EntryStatus is the status of a ledger entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryConfirmed EntryStatus = "confirmed"
	EntryFailed    EntryStatus = "failed"
	EntryWrong     EntryStatus = "wrong"
	// EntryReleased marks a confirmed payment whose funds were moved out.
	EntryReleased EntryStatus = "release"
)

// StatusChange is one element of a ledger entry's append-only history.
type StatusChange struct {
	Status    EntryStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
}

// LedgerEntry is one persisted payment or release transaction.
type LedgerEntry struct {
	TxID          string         `json:"txId"`
	TxHash        string         `json:"txHash,omitempty"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Amount        string         `json:"amount"`
	CryptoType    CryptoType     `json:"cryptoType"`
	Status        EntryStatus    `json:"status"`
	Type          EntryType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	StatusHistory []StatusChange `json:"statusHistory"`
	GasUsed       uint64         `json:"gasUsed,omitempty"`
	BlockNumber   uint64         `json:"blockNumber,omitempty"`
	OrderID       string         `json:"orderId,omitempty"`
	Nonce         *uint64        `json:"nonce,omitempty"`
	GasPrice      string         `json:"gasPrice,omitempty"`
}

// TransactionsResponse represents response for GET /api/admin/transactions
type TransactionsResponse struct {
	Success       bool                  `json:"success"`
	TotalReceived map[CryptoType]string `json:"totalReceived"`
	TotalReleased map[CryptoType]string `json:"totalReleased"`
	Transactions  []LedgerEntry         `json:"transactions"`
}

// TransactionFilter represents query parameters for GET /api/admin/transactions
type TransactionFilter struct {
	Type       *EntryType
	Status     *EntryStatus
	TxID       *string
	Address    *string
	CryptoType *CryptoType
	From       *time.Time
	To         *time.Time
	MinAmount  *string
	MaxAmount  *string
}

// Validate validates TransactionFilter parameters.
func (r *TransactionFilter) Validate() error {
	if r.Type != nil && *r.Type != EntryPayment && *r.Type != EntryRelease {
		return fmt.Errorf("type must be payment or release")
	}
	if r.Status != nil {
		switch *r.Status {
		case EntryPending, EntryConfirmed, EntryFailed, EntryWrong, EntryReleased:
		default:
			return fmt.Errorf("status must be one of pending, confirmed, failed, wrong, release")
		}
	}
	if r.CryptoType != nil && !r.CryptoType.Valid() {
		return fmt.Errorf("cryptoType must be ETH or SOL")
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return fmt.Errorf("to date must be after or equal to from date")
	}
	if r.MinAmount != nil && r.MaxAmount != nil {
		cmp, err := common.CompareAmounts(*r.MinAmount, *r.MaxAmount)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		if cmp == 1 {
			return fmt.Errorf("minAmount must be less than or equal to maxAmount")
		}
	}
	return nil
}
