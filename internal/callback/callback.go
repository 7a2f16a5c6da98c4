// Package callback decodes and encodes the opaque button tokens carried by
// inline keyboards.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownToken is returned for tokens that match no known action.
	ErrUnknownToken = errors.New("unknown callback token")
	// ErrMalformed is returned when a known prefix carries bad parameters.
	ErrMalformed = errors.New("malformed callback token")
)

// Kind enumerates button actions.
type Kind int

const (
	KindMainMenu Kind = iota + 1
	KindBrowseProducts
	KindViewCart
	KindMyOrders
	KindAbout
	KindCheckout
	KindSelectProduct
	KindSelectQuantity
	KindRemoveFromCart
	KindCancelOrder
)

const (
	tokenMainMenu       = "back_to_menu"
	tokenBrowseProducts = "browse_products"
	tokenViewCart       = "view_cart"
	tokenMyOrders       = "my_orders"
	tokenAbout          = "about"
	tokenCheckout       = "checkout"

	prefixSelectProduct  = "select_product_"
	prefixQuantity       = "qty_"
	prefixRemoveFromCart = "remove_from_cart_"
	prefixCancelOrder    = "cancel_order_"
)

var fixedTokens = map[string]Kind{
	tokenMainMenu:       KindMainMenu,
	tokenBrowseProducts: KindBrowseProducts,
	tokenViewCart:       KindViewCart,
	tokenMyOrders:       KindMyOrders,
	tokenAbout:          KindAbout,
	tokenCheckout:       KindCheckout,
}

func (k Kind) String() string {
	switch k {
	case KindMainMenu:
		return "main_menu"
	case KindBrowseProducts:
		return "browse_products"
	case KindViewCart:
		return "view_cart"
	case KindMyOrders:
		return "my_orders"
	case KindAbout:
		return "about"
	case KindCheckout:
		return "checkout"
	case KindSelectProduct:
		return "select_product"
	case KindSelectQuantity:
		return "select_quantity"
	case KindRemoveFromCart:
		return "remove_from_cart"
	case KindCancelOrder:
		return "cancel_order"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Action is a decoded button press.
type Action struct {
	Kind      Kind
	ProductID string
	OrderID   string
	Quantity  int
}

func MainMenu() Action       { return Action{Kind: KindMainMenu} }
func BrowseProducts() Action { return Action{Kind: KindBrowseProducts} }
func ViewCart() Action       { return Action{Kind: KindViewCart} }
func MyOrders() Action       { return Action{Kind: KindMyOrders} }
func About() Action          { return Action{Kind: KindAbout} }
func Checkout() Action       { return Action{Kind: KindCheckout} }

func SelectProduct(productID string) Action {
	return Action{Kind: KindSelectProduct, ProductID: productID}
}

func SelectQuantity(quantity int, productID string) Action {
	return Action{Kind: KindSelectQuantity, Quantity: quantity, ProductID: productID}
}

func RemoveFromCart(productID string) Action {
	return Action{Kind: KindRemoveFromCart, ProductID: productID}
}

func CancelOrder(orderID string) Action {
	return Action{Kind: KindCancelOrder, OrderID: orderID}
}

// Token encodes the action in the wire format understood by Parse.
func (a Action) Token() string {
	switch a.Kind {
	case KindMainMenu:
		return tokenMainMenu
	case KindBrowseProducts:
		return tokenBrowseProducts
	case KindViewCart:
		return tokenViewCart
	case KindMyOrders:
		return tokenMyOrders
	case KindAbout:
		return tokenAbout
	case KindCheckout:
		return tokenCheckout
	case KindSelectProduct:
		return prefixSelectProduct + a.ProductID
	case KindSelectQuantity:
		return prefixQuantity + strconv.Itoa(a.Quantity) + "_" + a.ProductID
	case KindRemoveFromCart:
		return prefixRemoveFromCart + a.ProductID
	case KindCancelOrder:
		return prefixCancelOrder + a.OrderID
	default:
		return ""
	}
}

// Parse decodes a callback token.
func Parse(token string) (Action, error) {
	token = strings.TrimSpace(token)
	if kind, ok := fixedTokens[token]; ok {
		return Action{Kind: kind}, nil
	}

	switch {
	case strings.HasPrefix(token, prefixSelectProduct):
		id, err := requireID(token, prefixSelectProduct)
		if err != nil {
			return Action{}, err
		}
		return SelectProduct(id), nil

	case strings.HasPrefix(token, prefixRemoveFromCart):
		id, err := requireID(token, prefixRemoveFromCart)
		if err != nil {
			return Action{}, err
		}
		return RemoveFromCart(id), nil

	case strings.HasPrefix(token, prefixCancelOrder):
		id, err := requireID(token, prefixCancelOrder)
		if err != nil {
			return Action{}, err
		}
		return CancelOrder(id), nil

	case strings.HasPrefix(token, prefixQuantity):
		// qty_<n>_<product id>; the product id may itself contain underscores.
		rest := strings.TrimPrefix(token, prefixQuantity)
		qtyStr, productID, found := strings.Cut(rest, "_")
		if !found || productID == "" {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		qty, err := strconv.Atoi(qtyStr)
		if err != nil || qty <= 0 {
			return Action{}, fmt.Errorf("%w: bad quantity in %q", ErrMalformed, token)
		}
		return SelectQuantity(qty, productID), nil
	}

	return Action{}, fmt.Errorf("%w: %q", ErrUnknownToken, token)
}

func requireID(token, prefix string) (string, error) {
	id := strings.TrimPrefix(token, prefix)
	if id == "" {
		return "", fmt.Errorf("%w: missing id in %q", ErrMalformed, token)
	}
	return id, nil
}
