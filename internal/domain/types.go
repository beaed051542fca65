package domain

// Product is the resolved attribute set returned by the product lookup service.
type Product struct {
	ID    int64
	Code  string
	Name  string
	Price int64
}

// StagedProduct holds a resolved product awaiting operator confirmation. The zero value is the
// empty staged product shown at session start.
type StagedProduct struct {
	ProductID int64
	Code      string
	Name      string
	Price     int64
}

// IsEmpty reports whether nothing is currently staged.
func (s StagedProduct) IsEmpty() bool {
	return s.Code == "" && s.Name == "" && s.Price == 0 && s.ProductID == 0
}

// StagedFromProduct converts a lookup result into a staged candidate.
func StagedFromProduct(p Product) StagedProduct {
	return StagedProduct{
		ProductID: p.ID,
		Code:      p.Code,
		Name:      p.Name,
		Price:     p.Price,
	}
}

// CartLine is one merged row of the in-progress purchase, keyed by Code.
type CartLine struct {
	ProductID int64
	Code      string
	Name      string
	Price     int64
	Qty       int64
}

// Amount returns the line total in yen.
func (l CartLine) Amount() int64 {
	return l.Price * l.Qty
}

// Station identifies the operator and register submitting a purchase.
type Station struct {
	EmployeeCode string
	StoreCode    string
	RegisterNo   string
}

// PurchaseRequest is the wire payload submitted at checkout.
type PurchaseRequest struct {
	EmployeeCode string         `json:"employee_code"`
	StoreCode    string         `json:"store_code"`
	RegisterNo   string         `json:"register_no"`
	Items        []PurchaseItem `json:"items"`
}

// PurchaseItem mirrors a single cart line on the wire.
type PurchaseItem struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
}

// PurchaseResult is the backend's confirmation. TotalAmount is the amount of record.
type PurchaseResult struct {
	Success     bool  `json:"success"`
	TotalAmount int64 `json:"total_amount"`
}
