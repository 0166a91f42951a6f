package instance

// Resale settlement. Fees are basis points on the resale price in the
// smallest currency unit; integer arithmetic only. The commission always goes
// to the original issuer of the batch, not the previous owner, however many
// resales have happened.

type SettlementBreakdown struct {
	ResalePrice         int64  `json:"resale_price"`
	Commission          int64  `json:"commission"`
	PlatformFee         int64  `json:"platform_fee"`
	NetToSeller         int64  `json:"net_to_seller"`
	CommissionRecipient string `json:"commission_recipient"`
	SellerID            string `json:"seller_id"`
}

type FeePolicy struct {
	CommissionBps  int64
	PlatformFeeBps int64
}

// Split divides price into commission, platform fee, and seller net. Rounding
// from the basis-point division stays with the seller, so the three parts
// always sum to the price exactly.
func (p FeePolicy) Split(price int64) (commission, platformFee, netToSeller int64) {
	commission = price * p.CommissionBps / 10000
	platformFee = price * p.PlatformFeeBps / 10000
	netToSeller = price - commission - platformFee
	return commission, platformFee, netToSeller
}
