// Package fees computes perpetual trading fees
package fees

import (
	"github.com/shopspring/decimal"

	"okx_connector/internal/order"
)

// Schema holds the venue's default maker/taker percentage rates
type Schema struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

// DefaultSchema returns the venue's default swap fee tier
func DefaultSchema() Schema {
	return Schema{
		MakerRate: decimal.RequireFromString("0.0002"),
		TakerRate: decimal.RequireFromString("0.0005"),
	}
}

// Fee is the fee attached to one fill
type Fee struct {
	Token  string
	Amount decimal.Decimal
	Maker  bool
	Action order.PositionAction
}

// PerpetualFee computes a percentage fee in the quote asset:
// amount * price * rate. Used when the venue does not report the fee.
func (s Schema) PerpetualFee(maker bool, quote string, action order.PositionAction, amount, price decimal.Decimal) Fee {
	rate := s.TakerRate
	if maker {
		rate = s.MakerRate
	}
	return Fee{
		Token:  quote,
		Amount: amount.Mul(price).Mul(rate).Neg(),
		Maker:  maker,
		Action: action,
	}
}

// FlatFee wraps a venue-reported fee verbatim. The venue reports charges
// as negative amounts and rebates as positive ones; the sign is kept.
func FlatFee(token string, amount decimal.Decimal, maker bool, action order.PositionAction) Fee {
	return Fee{
		Token:  token,
		Amount: amount,
		Maker:  maker,
		Action: action,
	}
}
