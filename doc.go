// Package entitle provides an entitlement and metering core for Go
// applications: it decides, for every metered request, whether access is
// permitted, and records the consumption so the same unit can never be
// spent twice.
//
// Entitle is designed as a library, not a service. It provides:
//
//   - Expiring single-use tokens for email verification and change
//   - A usage ledger that increments and journals in one atomic write
//   - Anonymous demo grants with bounded uses and an access journal
//   - A policy-driven access decision (unrestricted, subscribed, anonymous)
//   - A provider-agnostic payment reconciler with Stripe, iyzico and PayTR
//     webhook gateways
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/entitle"
//	    "github.com/xraph/entitle/store/postgres"
//	)
//
//	s := postgres.New(db)
//	e := entitle.New(s,
//	    entitle.WithGateway(gateway.NewStripe(webhookSecret)),
//	    entitle.WithStoreTimeout(2*time.Second),
//	)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// Subscriptions tie a subscriber to one service and carry the usage
// counter for the current period:
//
//	sub, err := e.CreateSubscription(ctx, entitle.SubscriptionRequest{
//	    SubscriberID: userID,
//	    PlanID:       planID,
//	    Cycle:        plan.CycleMonthly,
//	})
//
// A subscription becomes active when its payment completes, which the
// reconciler learns from provider webhooks:
//
//	res, err := e.HandleWebhook(ctx, payment.ProviderStripe, r.Header, body)
//
// Every metered request goes through CheckAccess. Denials are values,
// not errors:
//
//	d, err := e.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceTryOn})
//	if err != nil {
//	    return err
//	}
//	if !d.Allowed {
//	    return deny(d.Reason)
//	}
//
// # Consistency
//
// Every counter increment, single-use mark and status transition is one
// conditional store write. Under concurrency exactly one of N racing
// redemptions of a token succeeds, a counter never passes its limit, and
// a redelivered webhook never applies its effects twice. Expiry is
// evaluated on read, so a lapsed subscription denies access even before
// the maintenance worker marks it expired.
//
// # TypeID
//
// Records use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	pay_01h455vb4pex5vsknk084sn02q   // Payment ID
//
// Secrets handed to end users (token links, demo links) are random
// 32-character hex strings instead.
package entitle
