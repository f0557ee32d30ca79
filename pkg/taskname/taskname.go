package taskname

const (
	// Coupon tasks
	CouponSweepExpired = "coupon:sweep:expired"

	// Booking tasks
	BookingCancelled = "booking:cancelled"
)
