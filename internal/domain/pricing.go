package domain

// FreeShippingThreshold is the subtotal at or above which shipping is free.
const FreeShippingThreshold = 50

// FlatShippingCost is charged when the subtotal is below the threshold.
const FlatShippingCost = 5

// OrderPricing captures the rolled-up monetary results of pricing an order.
type OrderPricing struct {
	Subtotal     float64
	ShippingCost float64
	Total        float64
}

// PriceItems computes the order totals from item snapshots. The unit
// prices are the ones submitted with the order, not current catalog
// prices.
func PriceItems(items []OrderItem) OrderPricing {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Price * float64(item.Quantity)
	}
	shipping := float64(FlatShippingCost)
	if subtotal >= FreeShippingThreshold {
		shipping = 0
	}
	return OrderPricing{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Total:        subtotal + shipping,
	}
}
