package coupon

// Evaluate checks a coupon against an order and reports either eligibility
// plus the line items the discount applies to, or the first failing reason.
// Checks run in a fixed order so callers always see the same reason for the
// same state: active flag, validity window, minimum order value, scope.
//
// Expiry is inclusive of the end instant: a coupon whose window ends exactly
// at order.Now is still valid.
func Evaluate(c *Coupon, order OrderContext) Eligibility {
	if !c.IsActive {
		return ineligible(ReasonInactive)
	}
	if c.StartAt != nil && order.Now.Before(*c.StartAt) {
		return ineligible(ReasonNotYetStarted)
	}
	if c.EndAt != nil && order.Now.After(*c.EndAt) {
		return ineligible(ReasonExpired)
	}
	if c.MinOrderValue != nil && order.Subtotal.LessThan(*c.MinOrderValue) {
		return ineligible(ReasonBelowMinimum)
	}

	if c.Scope == ScopeStoreWide {
		items := order.LineItems
		sub := order.Subtotal
		return Eligibility{Eligible: true, LineItems: items, EligibleSubtotal: sub}
	}

	eligible := c.EligibleServiceIDs()
	var items []LineItem
	sub := zero
	for _, li := range order.LineItems {
		if _, ok := eligible[li.ServiceID]; ok {
			items = append(items, li)
			sub = sub.Add(li.Amount)
		}
	}
	if len(items) == 0 {
		return ineligible(ReasonNoEligibleServices)
	}
	return Eligibility{Eligible: true, LineItems: items, EligibleSubtotal: sub}
}

func ineligible(reason IneligibleReason) Eligibility {
	return Eligibility{Reason: reason}
}
