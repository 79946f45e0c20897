package domain

import "fmt"

// OfferingCategory is one of the alternative ways to pay a consultation with
// wallet offerings. Exactly one category is chosen per submission.
type OfferingCategory string

const (
	CategoryAnimal   OfferingCategory = "animal"
	CategoryVegetal  OfferingCategory = "vegetal"
	CategoryBeverage OfferingCategory = "beverage"
)

// Valid reports whether c is a known alternative category.
func (c OfferingCategory) Valid() bool {
	switch c {
	case CategoryAnimal, CategoryVegetal, CategoryBeverage:
		return true
	}
	return false
}

// RequiredOffering is immutable catalog data describing what a consultation
// needs for a given alternative category.
type RequiredOffering struct {
	OfferingID string           `json:"offering_id"`
	Quantity   int              `json:"quantity"`
	Name       string           `json:"name"`
	Price      float64          `json:"price"`
	Icon       string           `json:"icon,omitempty"`
	Category   OfferingCategory `json:"category"`
}

// WalletOffering is the user's available balance for one offering.
type WalletOffering struct {
	OfferingID string           `json:"offering_id"`
	Quantity   int              `json:"quantity"`
	Name       string           `json:"name"`
	Price      float64          `json:"price"`
	Icon       string           `json:"icon,omitempty"`
	Category   OfferingCategory `json:"category"`
}

// OfferingSelection is one line of a consumption request.
type OfferingSelection struct {
	OfferingID string `json:"offering_id"`
	Quantity   int    `json:"quantity"`
}

// ValidateSelection checks a submission against the catalog requirements for
// the chosen category and the wallet balances. It returns the selections to
// consume, in catalog order, or an error naming the first shortfall.
func ValidateSelection(category OfferingCategory, required []RequiredOffering, wallet []WalletOffering) ([]OfferingSelection, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("unknown offering category %q", category)
	}

	balances := make(map[string]int, len(wallet))
	for _, w := range wallet {
		balances[w.OfferingID] += w.Quantity
	}

	var selections []OfferingSelection
	for _, req := range required {
		if req.Category != category {
			continue
		}
		if req.Quantity <= 0 {
			continue
		}
		if balances[req.OfferingID] < req.Quantity {
			return nil, fmt.Errorf("solde insuffisant pour l'offrande %s (requis %d, disponible %d)",
				req.Name, req.Quantity, balances[req.OfferingID])
		}
		selections = append(selections, OfferingSelection{
			OfferingID: req.OfferingID,
			Quantity:   req.Quantity,
		})
	}

	if len(selections) == 0 {
		return nil, fmt.Errorf("aucune offrande requise pour la catégorie %s", category)
	}

	return selections, nil
}
