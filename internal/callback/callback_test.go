package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKnownTokens(t *testing.T) {
	tests := []struct {
		token string
		want  Action
	}{
		{"back_to_menu", MainMenu()},
		{"browse_products", BrowseProducts()},
		{"view_cart", ViewCart()},
		{"my_orders", MyOrders()},
		{"about", About()},
		{"checkout", Checkout()},
		{"select_product_PROD001", SelectProduct("PROD001")},
		{"remove_from_cart_PROD002", RemoveFromCart("PROD002")},
		{"cancel_order_0f8fad5b", CancelOrder("0f8fad5b")},
		{"qty_3_PROD001", SelectQuantity(3, "PROD001")},
		{"qty_10_SKU_WITH_UNDERSCORES", SelectQuantity(10, "SKU_WITH_UNDERSCORES")},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := Parse(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.token, got.Token())
		})
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	tests := []struct {
		token string
		want  error
	}{
		{"", ErrUnknownToken},
		{"checkout_now", ErrUnknownToken},
		{"select_product_", ErrMalformed},
		{"remove_from_cart_", ErrMalformed},
		{"cancel_order_", ErrMalformed},
		{"qty_", ErrMalformed},
		{"qty_3", ErrMalformed},
		{"qty_3_", ErrMalformed},
		{"qty_x_PROD001", ErrMalformed},
		{"qty_0_PROD001", ErrMalformed},
		{"qty_-2_PROD001", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			_, err := Parse(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "select_quantity", KindSelectQuantity.String())
	assert.Equal(t, "Kind(0)", Kind(0).String())
	assert.Equal(t, "", Action{}.Token())
}
