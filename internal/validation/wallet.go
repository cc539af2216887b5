package validation

import (
	"vtupay/internal/models"
)

// Amount checks a minor-unit amount against the configured limits.
func (v *Validator) Amount(field string, amountMinor, minMinor, maxMinor int64) {
	if amountMinor <= 0 {
		v.AddError(field, "must be positive")
		return
	}
	v.Check(amountMinor >= minMinor, field, "must be at least "+models.FormatMinor(minMinor, models.DefaultCurrency))
	if maxMinor > 0 {
		v.Check(amountMinor <= maxMinor, field, "must not exceed "+models.FormatMinor(maxMinor, models.DefaultCurrency))
	}
}

// Network validates a mobile network name.
func (v *Validator) Network(field, network string) {
	v.OneOf(field, network, Networks...)
}
