package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a scaled integer as a decimal string ("1000.500000").
func FormatAmount(v int64, cfg DecimalConfig) string {
	return decimal.New(v, -int32(cfg.DecimalPrecision)).StringFixed(int32(cfg.DecimalPrecision))
}

// ParseAmount converts a decimal string into a scaled integer.
// Inputs with more precision than cfg allows are rejected rather than rounded.
func ParseAmount(s string, cfg DecimalConfig) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}

	scaled := d.Shift(int32(cfg.DecimalPrecision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, cfg.DecimalPrecision)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}

	return scaled.IntPart(), nil
}

// FormatRatio renders a parts-per-million ratio as a percentage ("83.333400").
func FormatRatio(ppm int64) string {
	return decimal.New(ppm, -4).StringFixed(4)
}

// ToFloat converts a scaled integer for metrics. Never use the result in
// ledger arithmetic.
func ToFloat(v int64, cfg DecimalConfig) float64 {
	f, _ := decimal.New(v, -int32(cfg.DecimalPrecision)).Float64()
	return f
}
