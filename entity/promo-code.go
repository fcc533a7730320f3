package entity

import (
	"net/http"

	"matrixvpn/lib/validate"
)

// PromoCode allows admins to hand out extra subscription days.
// Redemption atomically decrements UsesRemaining and deactivates the code
// when the last use is consumed; see database.RedeemPromoAndExtend.
type PromoCode struct {
	Code          string `json:"code" validate:"required,min=4,max=64"`
	Days          int    `json:"days_duration" validate:"required,gt=0"`
	IsActive      bool   `json:"is_active"`
	UsesRemaining int    `json:"uses_remaining" validate:"gte=0"`
}

func (p *PromoCode) Bind(_ *http.Request) error {
	return validate.Struct(p)
}

// Redeemable reports whether the code can still be applied. The store
// re-checks this condition inside the redemption transaction; this method
// only serves presentation.
func (p *PromoCode) Redeemable() bool {
	return p.IsActive && p.UsesRemaining > 0
}
