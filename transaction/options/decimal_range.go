package options

import "github.com/shopspring/decimal"

var _ Range = (*DecimalRange)(nil)

// DecimalRange describes a lower and upper bound for Decimal values
// Either bound is optional
type DecimalRange struct {
	Low  *decimal.Decimal
	High *decimal.Decimal
}

func NewDecimalRange(low, high *decimal.Decimal) *DecimalRange {
	return &DecimalRange{Low: low, High: high}
}

func (r *DecimalRange) From() (interface{}, bool) {
	if r.Low != nil {
		return r.Low.String(), true
	}
	return nil, false
}

func (r *DecimalRange) To() (interface{}, bool) {
	if r.High != nil {
		return r.High.String(), true
	}
	return nil, false
}
