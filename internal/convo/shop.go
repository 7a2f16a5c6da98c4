package convo

import (
	"context"
	"os"
	"path/filepath"
)

// OnStart resets the user's session and registers them with the backend.
func (e *Engine) OnStart(ctx context.Context, userID, username, displayName string) Reply {
	if err := e.store.Clear(ctx, userID); err != nil {
		e.logger.Error("clear session", "user_id", userID, "error", err)
		e.metrics.IncError("session")
		return message(textSomethingWrong)
	}
	if _, err := e.api.RegisterUser(ctx, userID, username, displayName); err != nil {
		return message(textBackendDown)
	}
	return mainMenuScreen()
}

// OnHelp returns the static help text.
func (e *Engine) OnHelp(context.Context, string) Reply {
	return message(textHelp)
}

// OnMainMenu shows the main menu.
func (e *Engine) OnMainMenu(context.Context, string) Reply {
	return mainMenuScreen()
}

// OnAbout shows the about screen.
func (e *Engine) OnAbout(context.Context, string) Reply {
	return screen(textAbout, row(buttonBack))
}

// OnListProducts renders the catalog with one button per product.
func (e *Engine) OnListProducts(ctx context.Context, userID string) Reply {
	products, err := e.api.ListProducts(ctx)
	if err != nil || len(products) == 0 {
		if err == nil {
			e.logger.Warn("catalog is empty", "user_id", userID)
		}
		return notice(textProductsFailed)
	}
	return productListScreen(products)
}

// OnSelectProduct remembers the product and asks for a quantity. The catalog
// is fetched again so name, price and image reflect the backend right now; if
// that fails the prompt still works with placeholder values.
func (e *Engine) OnSelectProduct(ctx context.Context, userID, productID string) Reply {
	sess, ok := e.loadSession(ctx, userID)
	if !ok {
		return message(textSomethingWrong)
	}
	sess.SelectedProductID = productID
	if !e.saveSession(ctx, userID, sess) {
		return message(textSomethingWrong)
	}

	name, price := fallbackProductName, fallbackProductPrice
	var image string
	if products, err := e.api.ListProducts(ctx); err == nil {
		for _, p := range products {
			if p.ID == productID {
				name, price, image = p.Name, money(p.Price), p.Image
				break
			}
		}
	}

	reply := quantityPrompt(productID, name, price)
	reply.ImagePath = e.resolveImage(userID, image)
	return reply
}

// resolveImage maps a backend image path to an existing local file, or "".
func (e *Engine) resolveImage(userID, image string) string {
	if image == "" {
		return ""
	}
	if !filepath.IsLocal(image) {
		e.logger.Warn("image path escapes image dir, sending text only", "user_id", userID, "image", image)
		return ""
	}
	path := filepath.Join(e.cfg.ImageDir, image)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		e.logger.Warn("image not found, sending text only", "user_id", userID, "path", path)
		return ""
	}
	return path
}

// OnSelectQuantity adds the chosen quantity to the cart with a single call.
func (e *Engine) OnSelectQuantity(ctx context.Context, userID string, quantity int, productID string) Reply {
	if _, err := e.api.AddToCart(ctx, userID, productID, quantity); err != nil {
		return notice(textAddFailed)
	}
	return addedScreen(quantity)
}

// OnViewCart renders the cart, or an empty-cart screen.
func (e *Engine) OnViewCart(ctx context.Context, userID string) Reply {
	cart, err := e.api.GetCart(ctx, userID)
	if err != nil {
		return notice(textCartFailed)
	}
	return cartScreen(cart)
}

// OnRemoveFromCart drops a line and re-renders the cart. On failure the
// current screen is left as is.
func (e *Engine) OnRemoveFromCart(ctx context.Context, userID, productID string) Reply {
	if err := e.api.RemoveFromCart(ctx, userID, productID); err != nil {
		return notice(textRemoveFailed)
	}
	return e.OnViewCart(ctx, userID)
}

// OnViewOrders renders the user's order history.
func (e *Engine) OnViewOrders(ctx context.Context, userID string) Reply {
	orders, err := e.api.ListOrders(ctx, userID)
	if err != nil {
		return notice(textOrdersFailed)
	}
	return ordersScreen(orders)
}

// OnCancelOrder cancels an order and re-renders the history.
func (e *Engine) OnCancelOrder(ctx context.Context, userID, orderID string) Reply {
	order, err := e.api.CancelOrder(ctx, orderID)
	if err != nil {
		return notice(textCancelFailed)
	}
	e.logger.Info("order cancelled", "user_id", userID, "order_id", order.OrderID)
	return e.OnViewOrders(ctx, userID)
}
