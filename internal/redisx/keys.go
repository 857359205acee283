package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"customerId": "...", "status": "...", "paymentStatus": "...", "updatedAt": "..."}
	KeyOrderStatus = "order_status:%s"

	// Product listing snapshot, dropped on any stock change (admin adjustment,
	// order placed, order cancelled).
	KeyProductList = "catalog:products"

	// Store open flag: "1" open, "0" closed. Missing key means open.
	KeyStoreOpen = "store:open"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache  = 5 * time.Minute
	TTLProductCache = time.Minute
	TTLDedup        = 48 * time.Hour
)
