package convo

import (
	"context"
	"strings"

	"shopbot/internal/session"
)

// OnCheckoutStart begins the questionnaire. It is valid from any step and
// discards previously collected details.
func (e *Engine) OnCheckoutStart(ctx context.Context, userID string) Reply {
	sess, ok := e.loadSession(ctx, userID)
	if !ok {
		return message(textSomethingWrong)
	}
	if sess.Step != session.StepNone {
		e.logger.Info("checkout restarted", "user_id", userID, "from_step", sess.Step.String())
	}
	sess.Step = session.StepAwaitingName
	sess.Details = session.CustomerDetails{}
	if !e.saveSession(ctx, userID, sess) {
		return message(textSomethingWrong)
	}
	e.metrics.IncCheckout(sess.Step.String())
	return message(textAskName)
}

// OnTextMessage feeds free text into the checkout questionnaire.
func (e *Engine) OnTextMessage(ctx context.Context, userID, text string) Reply {
	sess, ok := e.loadSession(ctx, userID)
	if !ok {
		return message(textSomethingWrong)
	}

	switch {
	case sess.Step == session.StepNone:
		return hintReply()
	case sess.Step == session.StepSubmitting:
		return notice(textSubmissionPending)
	case !sess.Step.Collecting():
		e.logger.Warn("session in unexpected step", "user_id", userID, "step", sess.Step.String())
		return hintReply()
	}

	value := strings.TrimSpace(text)
	if value == "" {
		return message(promptFor(sess.Step))
	}

	sess.Details.Set(sess.Step, value)
	sess.Step = sess.Step.Next()
	if !e.saveSession(ctx, userID, sess) {
		return message(textSomethingWrong)
	}
	e.metrics.IncCheckout(sess.Step.String())

	if sess.Step == session.StepSubmitting {
		return e.submitOrder(ctx, userID, sess)
	}
	return message(promptFor(sess.Step))
}

// submitOrder places the order. On failure the session stays in SUBMITTING
// with its details, and the user restarts through checkout or /start.
func (e *Engine) submitOrder(ctx context.Context, userID string, sess session.Session) Reply {
	order, err := e.api.CreateOrder(ctx, userID, sess.Details.Address, e.cfg.PaymentMethod)
	if err != nil {
		e.metrics.IncOrder("failed")
		e.logger.Warn("order submission failed", "user_id", userID, "error", err)
		return message(textOrderFailed)
	}
	e.metrics.IncOrder("created")
	e.logger.Info("order created", "user_id", userID, "order_id", order.OrderID, "total", order.Total.StringFixed(2))

	if err := e.store.Clear(ctx, userID); err != nil {
		e.logger.Error("clear session after order", "user_id", userID, "error", err)
		e.metrics.IncError("session")
	}
	e.metrics.IncCheckout(session.StepNone.String())

	return confirmationMessage(customerView{
		Name:    orNA(sess.Details.Name),
		Email:   orNA(sess.Details.Email),
		Phone:   orNA(sess.Details.Phone),
		Address: orNA(sess.Details.Address),
	}, order)
}

func promptFor(step session.Step) string {
	switch step {
	case session.StepAwaitingName:
		return textAskName
	case session.StepAwaitingEmail:
		return textAskEmail
	case session.StepAwaitingPhone:
		return textAskPhone
	case session.StepAwaitingAddress:
		return textAskAddress
	default:
		return textHint
	}
}
