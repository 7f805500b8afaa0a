package store

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrConcurrentUpdate  = errors.New("record was modified concurrently")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
)
