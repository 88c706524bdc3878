package service

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const (
	// OrderIDPrefix starts every human-facing order ID.
	OrderIDPrefix = "NJ"

	orderIDSuffixLen = 5
	base36Upper      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// OrderIDGenerator builds human-facing order IDs of the form
// NJ<unix millis><5 uppercase base-36 chars>.
type OrderIDGenerator struct {
	now  func() time.Time
	intn func(n int) int
}

// NewOrderIDGenerator returns a generator using the wall clock and math/rand.
func NewOrderIDGenerator() *OrderIDGenerator {
	return &OrderIDGenerator{now: time.Now, intn: rand.Intn}
}

// Generate returns a fresh order ID.
func (g *OrderIDGenerator) Generate() string {
	var b strings.Builder
	b.Grow(len(OrderIDPrefix) + 13 + orderIDSuffixLen)
	b.WriteString(OrderIDPrefix)
	b.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	for i := 0; i < orderIDSuffixLen; i++ {
		b.WriteByte(base36Upper[g.intn(len(base36Upper))])
	}
	return b.String()
}

// NormalizeOrderID upper-cases a customer supplied order ID for lookup.
func NormalizeOrderID(orderID string) string {
	return strings.ToUpper(strings.TrimSpace(orderID))
}
