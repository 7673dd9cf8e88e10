package model

// ReleaseRequest represents request for POST /api/admin/release
type ReleaseRequest struct {
	Source    string `json:"source,omitempty"`
	ToAddress string `json:"toAddress,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// ReleaseResponse represents response for POST /api/admin/release
type ReleaseResponse struct {
	Success      bool   `json:"success"`
	TxHash       string `json:"txHash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	SourcePolicy string `json:"sourcePolicy"`
	Error        string `json:"error,omitempty"`
}

// ConfirmResponse represents response for GET /api/admin/release/{txHash}
type ConfirmResponse struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"txHash"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
}
