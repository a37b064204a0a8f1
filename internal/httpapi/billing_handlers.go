package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/store"
	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe price IDs (set via environment variables)
var (
	stripePriceProMonthly        = os.Getenv("STRIPE_PRICE_PRO_MONTHLY")
	stripePriceProAnnual         = os.Getenv("STRIPE_PRICE_PRO_ANNUAL")
	stripePriceEnterpriseMonthly = os.Getenv("STRIPE_PRICE_ENTERPRISE_MONTHLY")
	stripePriceEnterpriseAnnual  = os.Getenv("STRIPE_PRICE_ENTERPRISE_ANNUAL")
	stripeWebhookSecret          = os.Getenv("STRIPE_WEBHOOK_SECRET")
	stripeSuccessURL             = os.Getenv("STRIPE_SUCCESS_URL")
	stripeCancelURL              = os.Getenv("STRIPE_CANCEL_URL")
)

func init() {
	// Set Stripe API key from environment
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
}

// handleCreateCheckout creates a Stripe Checkout session for upgrading
func (r *Router) handleCreateCheckout(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())

	var body struct {
		Plan     string `json:"plan"`     // "pro" or "enterprise"
		Interval string `json:"interval"` // "monthly" or "annual"
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	// Get the price ID based on plan and interval
	priceID := getPriceID(body.Plan, body.Interval)
	if priceID == "" {
		http.Error(w, `{"error": "invalid plan or interval"}`, http.StatusBadRequest)
		return
	}

	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}

	// Get or create Stripe customer
	customerID, err := r.getOrCreateStripeCustomer(req.Context(), user)
	if err != nil {
		r.logger.Printf("billing: failed to get/create customer: %v", err)
		http.Error(w, `{"error": "failed to create customer"}`, http.StatusInternalServerError)
		return
	}

	// Create Checkout session
	successURL := stripeSuccessURL
	if successURL == "" {
		successURL = r.cfg.PublicBaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := stripeCancelURL
	if cancelURL == "" {
		cancelURL = r.cfg.PublicBaseURL + "/billing/cancel"
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			"user_id": user.ID,
			"plan":    body.Plan,
		},
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		r.logger.Printf("billing: failed to create checkout session: %v", err)
		http.Error(w, `{"error": "failed to create checkout session"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("billing: created checkout session %s for user %s", s.ID, user.ID)

	writeJSON(w, http.StatusOK, map[string]string{
		"checkout_url": s.URL,
		"session_id":   s.ID,
	})
}

// handleCreatePortal creates a Stripe Customer Portal session
func (r *Router) handleCreatePortal(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())

	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		http.Error(w, `{"error": "no subscription found"}`, http.StatusNotFound)
		return
	}

	returnURL := r.cfg.PublicBaseURL + "/settings"

	params := &stripe.BillingPortalSessionParams{
		Customer:  user.StripeCustomerID,
		ReturnURL: stripe.String(returnURL),
	}

	s, err := portalsession.New(params)
	if err != nil {
		r.logger.Printf("billing: failed to create portal session: %v", err)
		http.Error(w, `{"error": "failed to create portal session"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"portal_url": s.URL,
	})
}

// handleStripeWebhook processes Stripe webhook events
func (r *Router) handleStripeWebhook(w http.ResponseWriter, req *http.Request) {
	const MaxBodyBytes = int64(65536)
	req.Body = http.MaxBytesReader(w, req.Body, MaxBodyBytes)

	body, err := io.ReadAll(req.Body)
	if err != nil {
		r.logger.Printf("billing webhook: failed to read body: %v", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify webhook signature
	sigHeader := req.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(body, sigHeader, stripeWebhookSecret)
	if err != nil {
		r.logger.Printf("billing webhook: signature verification failed: %v", err)
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	r.logger.Printf("billing webhook: received event %s (type=%s)", event.ID, event.Type)

	// Handle different event types
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			r.logger.Printf("billing webhook: failed to parse session: %v", err)
			http.Error(w, "failed to parse event", http.StatusBadRequest)
			return
		}
		r.handleCheckoutCompleted(&session)

	case "customer.subscription.updated":
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			r.logger.Printf("billing webhook: failed to parse subscription: %v", err)
			http.Error(w, "failed to parse event", http.StatusBadRequest)
			return
		}
		r.handleSubscriptionUpdated(&subscription)

	case "customer.subscription.deleted":
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			r.logger.Printf("billing webhook: failed to parse subscription: %v", err)
			http.Error(w, "failed to parse event", http.StatusBadRequest)
			return
		}
		r.handleSubscriptionDeleted(&subscription)
	}

	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted upgrades the user named in the session metadata.
func (r *Router) handleCheckoutCompleted(session *stripe.CheckoutSession) {
	userID, ok := session.Metadata["user_id"]
	if !ok {
		r.logger.Printf("billing webhook: checkout session missing user_id")
		return
	}

	plan := session.Metadata["plan"]
	if _, known := store.PlanQuotas[plan]; !known {
		plan = store.PlanPro
	}

	// Use background context since webhooks are async
	ctx := context.Background()
	if session.Customer != nil {
		if err := r.store.SetStripeCustomerID(ctx, userID, session.Customer.ID); err != nil {
			r.logger.Printf("billing webhook: failed to save customer for user %s: %v", userID, err)
		}
	}
	if err := r.store.SetUserPlan(ctx, userID, plan); err != nil {
		r.logger.Printf("billing webhook: failed to upgrade user %s: %v", userID, err)
		return
	}

	r.eventLog.LogAsync(userID, eventlog.EventPlanChanged, map[string]any{"plan": plan})
	r.logger.Printf("billing webhook: upgraded user %s to plan %s", userID, plan)
}

// handleSubscriptionUpdated moves the user onto the plan of the new price.
func (r *Router) handleSubscriptionUpdated(subscription *stripe.Subscription) {
	ctx := context.Background()
	user, err := r.store.GetUserByStripeCustomerID(ctx, subscription.Customer.ID)
	if err != nil {
		r.logger.Printf("billing webhook: user not found for customer %s: %v", subscription.Customer.ID, err)
		return
	}

	plan := getPlanFromPriceID(subscription.Items.Data[0].Price.ID)
	if subscription.Status == stripe.SubscriptionStatusCanceled {
		plan = store.PlanFree
	}
	if plan == user.Plan {
		return
	}

	if err := r.store.SetUserPlan(ctx, user.ID, plan); err != nil {
		r.logger.Printf("billing webhook: failed to update user %s: %v", user.ID, err)
		return
	}

	r.eventLog.LogAsync(user.ID, eventlog.EventPlanChanged, map[string]any{"plan": plan})
	r.logger.Printf("billing webhook: updated subscription for user %s (plan=%s)", user.ID, plan)
}

// handleSubscriptionDeleted downgrades the user to the free plan.
func (r *Router) handleSubscriptionDeleted(subscription *stripe.Subscription) {
	ctx := context.Background()
	user, err := r.store.GetUserByStripeCustomerID(ctx, subscription.Customer.ID)
	if err != nil {
		r.logger.Printf("billing webhook: user not found for customer %s: %v", subscription.Customer.ID, err)
		return
	}

	if err := r.store.SetUserPlan(ctx, user.ID, store.PlanFree); err != nil {
		r.logger.Printf("billing webhook: failed to downgrade user %s: %v", user.ID, err)
		return
	}

	r.eventLog.LogAsync(user.ID, eventlog.EventPlanChanged, map[string]any{"plan": store.PlanFree})
	r.logger.Printf("billing webhook: subscription cancelled for user %s", user.ID)
}

// getOrCreateStripeCustomer gets an existing Stripe customer or creates a new one
func (r *Router) getOrCreateStripeCustomer(ctx context.Context, user *store.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	// Create new customer
	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": user.ID,
		},
	}
	if user.Name != nil {
		params.Name = stripe.String(*user.Name)
	}

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	if err := r.store.SetStripeCustomerID(ctx, user.ID, c.ID); err != nil {
		r.logger.Printf("billing: failed to save customer id for user %s: %v", user.ID, err)
	}

	return c.ID, nil
}

// getPriceID returns the Stripe price ID for a plan and interval
func getPriceID(plan, interval string) string {
	switch plan {
	case store.PlanPro:
		if interval == "annual" {
			return stripePriceProAnnual
		}
		return stripePriceProMonthly
	case store.PlanEnterprise:
		if interval == "annual" {
			return stripePriceEnterpriseAnnual
		}
		return stripePriceEnterpriseMonthly
	default:
		return ""
	}
}

// getPlanFromPriceID determines the plan name from a Stripe price ID
func getPlanFromPriceID(priceID string) string {
	switch priceID {
	case stripePriceProMonthly, stripePriceProAnnual:
		return store.PlanPro
	case stripePriceEnterpriseMonthly, stripePriceEnterpriseAnnual:
		return store.PlanEnterprise
	default:
		return store.PlanPro
	}
}
