package convo

import (
	"fmt"
	"strconv"
	"strings"

	"shopbot/internal/backend"
	"shopbot/internal/callback"

	"github.com/shopspring/decimal"
)

const (
	textMainMenu = "*Main Menu* 🏠\n\nSelect an option:"

	textHelp = `*🛍️ EduMart Store - Help*

*Available Commands:*
/start - Start the bot and show main menu
/help - Show this help message
/products - Browse all products
/cart - View your shopping cart
/orders - View your order history

*How to Use:*
1. Browse Products - View available items
2. Add to Cart - Select products and add quantities
3. View Cart - Review items before checkout
4. Checkout - Enter your details and delivery address
5. Track Orders - Monitor your order status

*Support:*
For issues, please contact our support team.`

	textAbout = `*ℹ️ About EduMart Store*

An e-commerce storefront for tech products, right in your chat.

*Features:*
✅ Browse the product catalog
✅ Add items to cart
✅ Guided checkout
✅ Order tracking and cancellation

*Version:* 1.0.0

Enjoy shopping! 🛍️`

	textBackendDown       = "❌ Sorry, I couldn't connect to the backend. Please try again later."
	textProductsFailed    = "❌ Could not fetch products"
	textAddFailed         = "❌ Could not add to cart"
	textCartFailed        = "❌ Could not fetch cart"
	textRemoveFailed      = "❌ Could not remove item"
	textOrdersFailed      = "❌ Could not fetch orders"
	textCancelFailed      = "❌ Could not cancel order"
	textOrderFailed       = "❌ Could not create order. Please try again."
	textEmptyCart         = "🛒 *Your Cart is Empty*\n\nStart shopping by browsing products!"
	textNoOrders          = "📦 *Your Orders*\n\nYou haven't placed any orders yet!"
	textHint              = "ℹ️ Use the buttons below to navigate, or send /start to begin"
	textSomethingWrong    = "⚠️ Something went wrong. Please try again."
	textUnknownAction     = "⚠️ This button is no longer available."
	textSubmissionPending = "⚠️ Your last order could not be placed. Open your cart and tap Proceed to Checkout, or send /start to begin again."

	textAskName    = "👤 *Customer Details*\n\n*Please enter your full name:*"
	textAskEmail   = "📧 *Please enter your email address:*"
	textAskPhone   = "📱 *Please enter your phone number:*"
	textAskAddress = "📍 *Please enter your delivery address:*"

	fallbackProductName  = "Product"
	fallbackProductPrice = "N/A"

	orderIDPrefixLen = 8
	orderDateLen     = 10
)

// quantityChoices are offered on the quantity prompt, split into two rows.
var quantityChoices = [][]int{{1, 2, 3, 5}, {10}}

var (
	buttonBack       = Button{Label: "⬅️ Back", Action: callback.MainMenu()}
	buttonViewCart   = Button{Label: "🛒 View Cart", Action: callback.ViewCart()}
	buttonContinue   = Button{Label: "🛍️ Continue Shopping", Action: callback.BrowseProducts()}
	buttonCheckout   = Button{Label: "💳 Proceed to Checkout", Action: callback.Checkout()}
	buttonTrack      = Button{Label: "📦 Track Orders", Action: callback.MyOrders()}
	buttonHome       = Button{Label: "🏠 Main Menu", Action: callback.MainMenu()}
	buttonToProducts = Button{Label: "⬅️ Back", Action: callback.BrowseProducts()}
)

func screen(text string, buttons ...[]Button) Reply {
	return Reply{Kind: ReplyScreen, Text: text, Buttons: buttons}
}

func message(text string, buttons ...[]Button) Reply {
	return Reply{Kind: ReplyMessage, Text: text, Buttons: buttons}
}

func notice(text string) Reply {
	return Reply{Kind: ReplyNotice, Text: text}
}

func row(buttons ...Button) []Button { return buttons }

func hintReply() Reply { return message(textHint) }

func mainMenuScreen() Reply {
	return screen(textMainMenu,
		row(Button{Label: "🛍️ Browse Products", Action: callback.BrowseProducts()}),
		row(Button{Label: "🛒 View Cart", Action: callback.ViewCart()}),
		row(Button{Label: "📦 My Orders", Action: callback.MyOrders()}),
		row(Button{Label: "ℹ️ About", Action: callback.About()}),
	)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func productListScreen(products []backend.Product) Reply {
	var builder strings.Builder
	builder.WriteString("*🛍️ Available Products:*\n\n")

	buttons := make([][]Button, 0, len(products)+1)
	for _, p := range products {
		builder.WriteString(fmt.Sprintf("• *%s* - %s\n", p.Name, money(p.Price)))
		builder.WriteString(fmt.Sprintf("  📦 Stock: %d items\n\n", p.Stock))
		buttons = append(buttons, row(Button{
			Label:  fmt.Sprintf("📌 %s - %s", p.Name, money(p.Price)),
			Action: callback.SelectProduct(p.ID),
		}))
	}
	buttons = append(buttons, row(buttonBack))

	return Reply{Kind: ReplyScreen, Text: strings.TrimSpace(builder.String()), Buttons: buttons}
}

func quantityPrompt(productID, name, price string) Reply {
	text := fmt.Sprintf("*%s*\n💰 Price: %s\n\n*How many items would you like?*", name, price)

	buttons := make([][]Button, 0, len(quantityChoices))
	for i, choices := range quantityChoices {
		r := make([]Button, 0, len(choices)+1)
		for _, qty := range choices {
			r = append(r, Button{Label: strconv.Itoa(qty), Action: callback.SelectQuantity(qty, productID)})
		}
		if i == len(quantityChoices)-1 {
			r = append(r, buttonToProducts)
		}
		buttons = append(buttons, r)
	}
	return Reply{Kind: ReplyScreen, Text: text, Buttons: buttons}
}

func addedScreen(quantity int) Reply {
	return screen(fmt.Sprintf("✅ *Added %d item(s) to cart!*", quantity),
		row(buttonViewCart),
		row(buttonContinue),
	)
}

func cartScreen(cart *backend.Cart) Reply {
	if cart.Empty() {
		return screen(textEmptyCart, row(buttonBack))
	}

	var builder strings.Builder
	builder.WriteString("*🛒 Your Shopping Cart:*\n\n")

	buttons := make([][]Button, 0, len(cart.Items)+2)
	for _, item := range cart.Items {
		builder.WriteString(fmt.Sprintf("• *%s*\n", item.Name))
		builder.WriteString(fmt.Sprintf("  Price: %s × %d = %s\n\n", money(item.Price), item.Quantity, money(item.LineTotal())))
		buttons = append(buttons, row(Button{
			Label:  "❌ Remove " + item.Name,
			Action: callback.RemoveFromCart(item.ProductID),
		}))
	}
	builder.WriteString(fmt.Sprintf("*Total: %s*", money(cart.Total)))

	buttons = append(buttons, row(buttonCheckout), row(buttonBack))
	return Reply{Kind: ReplyScreen, Text: builder.String(), Buttons: buttons}
}

func ordersScreen(orders []backend.Order) Reply {
	if len(orders) == 0 {
		return screen(textNoOrders, row(buttonBack))
	}

	var builder strings.Builder
	builder.WriteString("*📦 Your Orders:*\n\n")

	var buttons [][]Button
	for _, o := range orders {
		shortID := truncate(o.OrderID, orderIDPrefixLen)
		builder.WriteString(fmt.Sprintf("%s *Order %s...*\n", o.Status.Glyph(), shortID))
		builder.WriteString(fmt.Sprintf("  Total: %s\n", money(o.Total)))
		builder.WriteString(fmt.Sprintf("  Status: %s\n", o.Status))
		builder.WriteString(fmt.Sprintf("  Date: %s\n\n", truncate(o.CreatedAt, orderDateLen)))
		if !o.Status.Terminal() && o.OrderID != "" {
			buttons = append(buttons, row(Button{
				Label:  "🚫 Cancel " + shortID,
				Action: callback.CancelOrder(o.OrderID),
			}))
		}
	}
	buttons = append(buttons, row(buttonBack))

	return Reply{Kind: ReplyScreen, Text: strings.TrimSpace(builder.String()), Buttons: buttons}
}

func confirmationMessage(details customerView, order *backend.Order) Reply {
	text := fmt.Sprintf(`*✅ Order Confirmed!*

*Customer Details:*
• Name: %s
• Email: %s
• Phone: %s

*Order Information:*
• Order ID: `+"`%s`"+`
• Total: %s
• Status: %s
• Delivery Address: %s

Your order has been placed successfully!
We'll update you on the status soon. 📦`,
		details.Name, details.Email, details.Phone,
		order.OrderID, money(order.Total), order.Status, details.Address)

	return message(text, row(buttonTrack), row(buttonHome))
}

// customerView is CustomerDetails with blanks filled for display.
type customerView struct {
	Name, Email, Phone, Address string
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
