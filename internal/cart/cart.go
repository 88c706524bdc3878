// Package cart holds the server-side shopping cart and its persistence.
package cart

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Item is a product line in a cart, priced from the catalog when added.
type Item struct {
	ProductID int64           `json:"product"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
}

// Cart is an ordered list of items, one per product.
type Cart struct {
	Items []Item `json:"items"`
}

// Add puts item in the cart, or increases the quantity of the existing line
// for the same product.
func (c *Cart) Add(item Item) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if i := c.index(item.ProductID); i >= 0 {
		c.Items[i].Quantity += item.Quantity
		return
	}
	c.Items = append(c.Items, item)
}

// UpdateQuantity changes the quantity of a product by delta. The line is
// removed once its quantity drops to zero. It reports whether the product
// was in the cart.
func (c *Cart) UpdateQuantity(productID int64, delta int) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	c.Items[i].Quantity += delta
	if c.Items[i].Quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	}
	return true
}

// Remove drops a product from the cart.
func (c *Cart) Remove(productID int64) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

// Empty reports whether the cart has no items.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// Count is the total number of units across all lines.
func (c *Cart) Count() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Subtotal is the sum of price * quantity.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// Total is the subtotal plus shipping. Shipping applies even to an empty cart.
func (c *Cart) Total(shipping decimal.Decimal) decimal.Decimal {
	return c.Subtotal().Add(shipping)
}

func (c *Cart) index(productID int64) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// Marshal encodes the cart for storage.
func (c *Cart) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal cart")
	}
	return data, nil
}

// Unmarshal decodes a stored cart.
func Unmarshal(data []byte) (*Cart, error) {
	c := &Cart{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart")
	}
	return c, nil
}
