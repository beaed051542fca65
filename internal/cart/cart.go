package cart

import (
	"strconv"
	"strings"

	"github.com/hanko-field/pos/internal/domain"
)

// Cart aggregates staged products into lines keyed by product code. A Cart is owned by a single
// session and is not safe for concurrent use.
type Cart struct {
	lines []domain.CartLine
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// AddLine merges a product into the cart. Incomplete entries (blank name or negative price) are
// ignored and reported by returning false. A repeated code increments the existing line's
// quantity and keeps the name and price recorded on first add.
func (c *Cart) AddLine(code, name string, price int64) bool {
	return c.add(0, code, name, price)
}

// AddProduct behaves like AddLine and additionally records the product id from lookup.
func (c *Cart) AddProduct(p domain.StagedProduct) bool {
	return c.add(p.ProductID, p.Code, p.Name, p.Price)
}

// AddRaw accepts the price as typed by the operator. A price that is not a base-10 integer is
// treated like a missing price.
func (c *Cart) AddRaw(code, name, rawPrice string) bool {
	price, ok := ParsePrice(rawPrice)
	if !ok {
		return false
	}
	return c.AddLine(code, name, price)
}

func (c *Cart) add(productID int64, code, name string, price int64) bool {
	name = strings.TrimSpace(name)
	if name == "" || price < 0 {
		return false
	}

	if idx := indexOfLine(c.lines, code); idx >= 0 {
		c.lines[idx].Qty++
		return true
	}

	c.lines = append(c.lines, domain.CartLine{
		ProductID: productID,
		Code:      code,
		Name:      name,
		Price:     price,
		Qty:       1,
	})
	return true
}

// Lines returns a copy of the cart lines in first-add order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len reports the number of distinct lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Subtotal sums price×qty across every line. It is recomputed on each call.
func (c *Cart) Subtotal() int64 {
	return Subtotal(c.lines)
}

// Clear drops every line.
func (c *Cart) Clear() {
	c.lines = nil
}

// Subtotal sums price×qty for the provided lines.
func Subtotal(lines []domain.CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.Amount()
	}
	return total
}

// ParsePrice parses an operator-typed yen amount. Negative and non-numeric input is rejected.
func ParsePrice(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || price < 0 {
		return 0, false
	}
	return price, true
}

func indexOfLine(lines []domain.CartLine, code string) int {
	for i := range lines {
		if lines[i].Code == code {
			return i
		}
	}
	return -1
}
