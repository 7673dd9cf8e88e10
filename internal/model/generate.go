package model

// AllocateRequest represents request for POST /api/payments/address
type AllocateRequest struct {
	OrderID      string     `json:"orderId"`
	Amount       string     `json:"amount,omitempty"`
	FiatAmount   string     `json:"fiatAmount,omitempty"`
	FiatCurrency string     `json:"fiatCurrency,omitempty"`
	CryptoType   CryptoType `json:"cryptoType"`
}

// AllocateResponse represents response for POST /api/payments/address
type AllocateResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payment *PaymentAddress `json:"payment,omitempty"`
	QR      string          `json:"qr,omitempty"`
	Rate    string          `json:"rate,omitempty"`
}
