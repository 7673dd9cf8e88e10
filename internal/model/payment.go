package model

import (
	"time"
)

// PaymentStatus is the lifecycle state of a payment address.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentWrong     PaymentStatus = "wrong"
	PaymentExpired   PaymentStatus = "expired"
	PaymentAbandoned PaymentStatus = "abandoned"
)

// PaymentAddress is an HD-derived address allocated to a single order.
type PaymentAddress struct {
	Address         string        `json:"address"`
	DerivationIndex uint32        `json:"derivationIndex"`
	ExpectedAmount  string        `json:"expectedAmount"`
	CryptoType      CryptoType    `json:"cryptoType"`
	CreatedAt       time.Time     `json:"createdAt"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	Status          PaymentStatus `json:"status"`
	IsExpired       bool          `json:"isExpired"`
	OrderID         string        `json:"orderId"`
	FiatAmount      string        `json:"fiatAmount,omitempty"`
	FiatCurrency    string        `json:"fiatCurrency,omitempty"`
	ReceivedAmount  string        `json:"receivedAmount,omitempty"`
	TxHash          string        `json:"txHash,omitempty"`
	ConfirmedAt     *time.Time    `json:"confirmedAt,omitempty"`
}

// Live reports whether the address still accepts a payment at the given time.
func (p *PaymentAddress) Live(now time.Time) bool {
	return p.Status == PaymentPending && !p.IsExpired && now.Before(p.ExpiresAt)
}

// RecordPaymentRequest represents request for POST /api/payments/record
type RecordPaymentRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	TxHash  string `json:"txHash,omitempty"`
	From    string `json:"from,omitempty"`
}

// RecordPaymentResponse represents response for POST /api/payments/record
type RecordPaymentResponse struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Status    PaymentStatus   `json:"status"`
	IsExpired bool            `json:"isExpired"`
	IsCorrect bool            `json:"isCorrect"`
	Criterion string          `json:"criterion,omitempty"`
	Payment   *PaymentAddress `json:"payment,omitempty"`
	Entry     *LedgerEntry    `json:"entry,omitempty"`
}

// PaymentStatusResponse represents response for GET /api/payments/{address}
type PaymentStatusResponse struct {
	Success bool            `json:"success"`
	Payment *PaymentAddress `json:"payment"`
}
