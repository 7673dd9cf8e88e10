package payments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/model"
)

// Transactions returns ledger entries matching the filter, newest first, with
// received and released totals per crypto type over the matched entries.
func (s *Service) Transactions(filter model.TransactionFilter) (*model.TransactionsResponse, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	entries, err := s.Ledger.All()
	if err != nil {
		return nil, err
	}
	matched := ledger.Filter(entries, filter)

	received := map[model.CryptoType]decimal.Decimal{}
	released := map[model.CryptoType]decimal.Decimal{}
	for _, e := range matched {
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			continue
		}
		switch {
		case e.Type == model.EntryPayment && (e.Status == model.EntryConfirmed || e.Status == model.EntryReleased):
			received[e.CryptoType] = received[e.CryptoType].Add(amount)
		case e.Type == model.EntryRelease && e.Status == model.EntryConfirmed:
			released[e.CryptoType] = released[e.CryptoType].Add(amount)
		}
	}

	resp := &model.TransactionsResponse{
		Success:       true,
		TotalReceived: map[model.CryptoType]string{},
		TotalReleased: map[model.CryptoType]string{},
		Transactions:  matched,
	}
	for _, crypto := range []model.CryptoType{model.CryptoETH, model.CryptoSOL} {
		resp.TotalReceived[crypto] = received[crypto].String()
		resp.TotalReleased[crypto] = released[crypto].String()
	}
	return resp, nil
}
