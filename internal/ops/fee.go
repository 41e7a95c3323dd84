package ops

// DefaultFeeBasisPoints is the market's cut of a sale: 500bp is 5%.
const DefaultFeeBasisPoints = 500

// Fee is the market's cut of a sale at price, rounded down.
func Fee(price, basisPoints int) int {
	if price <= 0 || basisPoints <= 0 {
		return 0
	}
	return price * basisPoints / 10000
}

// SellerProceeds is what reaches the seller's bank for a sale at price.
func SellerProceeds(price, basisPoints int) int {
	return price - Fee(price, basisPoints)
}
