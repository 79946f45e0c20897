package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() []RequiredOffering {
	return []RequiredOffering{
		{OfferingID: "dove", Quantity: 2, Name: "Colombe blanche", Category: CategoryAnimal},
		{OfferingID: "sage", Quantity: 3, Name: "Sauge", Category: CategoryVegetal},
		{OfferingID: "rose", Quantity: 1, Name: "Rose", Category: CategoryVegetal},
		{OfferingID: "wine", Quantity: 1, Name: "Vin de messe", Category: CategoryBeverage},
	}
}

func TestValidateSelection_SufficientBalance(t *testing.T) {
	wallet := []WalletOffering{
		{OfferingID: "sage", Quantity: 5, Category: CategoryVegetal},
		{OfferingID: "rose", Quantity: 1, Category: CategoryVegetal},
	}

	selections, err := ValidateSelection(CategoryVegetal, testCatalog(), wallet)
	require.NoError(t, err)

	assert.Equal(t, []OfferingSelection{
		{OfferingID: "sage", Quantity: 3},
		{OfferingID: "rose", Quantity: 1},
	}, selections)
}

func TestValidateSelection_InsufficientBalance(t *testing.T) {
	wallet := []WalletOffering{
		{OfferingID: "sage", Quantity: 2, Category: CategoryVegetal},
		{OfferingID: "rose", Quantity: 1, Category: CategoryVegetal},
	}

	_, err := ValidateSelection(CategoryVegetal, testCatalog(), wallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Sauge")
}

func TestValidateSelection_MissingOffering(t *testing.T) {
	wallet := []WalletOffering{
		{OfferingID: "dove", Quantity: 1, Category: CategoryAnimal},
	}

	_, err := ValidateSelection(CategoryAnimal, testCatalog(), wallet)
	assert.Error(t, err)
}

func TestValidateSelection_UnknownCategory(t *testing.T) {
	_, err := ValidateSelection("mineral", testCatalog(), nil)
	assert.Error(t, err)
}

// Only the chosen alternative's requirements are considered.
func TestValidateSelection_OtherCategoriesIgnored(t *testing.T) {
	wallet := []WalletOffering{
		{OfferingID: "wine", Quantity: 1, Category: CategoryBeverage},
	}

	selections, err := ValidateSelection(CategoryBeverage, testCatalog(), wallet)
	require.NoError(t, err)
	assert.Len(t, selections, 1)
	assert.Equal(t, "wine", selections[0].OfferingID)
}

func TestValidateSelection_NoRequirementsForCategory(t *testing.T) {
	catalog := []RequiredOffering{
		{OfferingID: "sage", Quantity: 1, Category: CategoryVegetal},
	}

	_, err := ValidateSelection(CategoryAnimal, catalog, nil)
	assert.Error(t, err)
}
