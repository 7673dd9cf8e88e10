package model

// AddressBalance is one address's contribution to total exposure.
type AddressBalance struct {
	Address    string     `json:"address"`
	CryptoType CryptoType `json:"cryptoType"`
	Balance    string     `json:"balance"`
	Error      string     `json:"error,omitempty"`
}

// ExposureResponse represents response for GET /api/admin/exposure
type ExposureResponse struct {
	Success   bool                  `json:"success"`
	Totals    map[CryptoType]string `json:"totals"`
	Addresses []AddressBalance      `json:"addresses"`
	Failed    []string              `json:"failed,omitempty"`
}
