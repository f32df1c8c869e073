package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
)

// Collection name constants.
const (
	colPlans         = "entitle_plans"
	colSubscriptions = "entitle_subscriptions"
	colUsageLog      = "entitle_usage_log"
	colServiceStats  = "entitle_service_stats"
	colTokens        = "entitle_tokens"
	colDemoGrants    = "entitle_demo_grants"
	colDemoAccess    = "entitle_demo_access_log"
	colPayments      = "entitle_payments"
	colWebhookEvents = "entitle_webhook_events"
	colPurchases     = "entitle_purchases"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Guarded writes are single-document updates whose filter carries the
// guard. Counter increments use findOneAndUpdate so the new value comes
// back with the write. Writes that span documents (usage with its
// journal entry, token replacement, token redemption) run in a session
// transaction, which needs a replica set or a sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, service plan.Service) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if service != "" {
		filter["service"] = string(service)
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrSubscriptionExists
		}
		return fmt.Errorf("entitle/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionFor(ctx context.Context, subscriberID string, service plan.Service) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"subscriber_id": subscriberID, "service": string(service)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription for subscriber: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, subscriberID string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"subscriber_id": subscriberID}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ActivateSubscription(ctx context.Context, subID id.SubscriptionID, a subscription.Activation) error {
	set := bson.M{
		"status":           string(subscription.StatusActive),
		"start_at":         a.StartAt,
		"end_at":           a.EndAt,
		"last_payment_key": a.PaymentKey,
		"updated_at":       a.At,
	}
	if a.ResetUsage {
		set["usage_count"] = int64(0)
		set["last_reset_at"] = a.At
	}

	res, err := s.mdb.Collection(colSubscriptions).UpdateOne(ctx,
		bson.M{
			"_id":     subID.String(),
			"version": a.ExpectedVersion,
			"status":  bson.M{"$ne": string(subscription.StatusCancelled)},
		},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return fmt.Errorf("entitle/mongo: activate subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.conditionOrMissing(ctx, colSubscriptions, bson.M{"_id": subID.String()}, entitle.ErrSubscriptionNotFound)
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.mdb.Collection(colSubscriptions).UpdateOne(ctx,
		bson.M{
			"_id":    subID.String(),
			"status": bson.M{"$ne": string(subscription.StatusCancelled)},
		},
		bson.M{
			"$set": bson.M{
				"status":       string(subscription.StatusCancelled),
				"auto_renew":   false,
				"cancelled_at": at,
				"updated_at":   at,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("entitle/mongo: cancel subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.conditionOrMissing(ctx, colSubscriptions, bson.M{"_id": subID.String()}, entitle.ErrSubscriptionNotFound)
	}
	return nil
}

func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.mdb.Collection(colSubscriptions).UpdateMany(ctx,
		bson.M{
			"status": string(subscription.StatusActive),
			"end_at": bson.M{"$lt": now},
		},
		bson.M{
			"$set": bson.M{"status": string(subscription.StatusExpired), "updated_at": now},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: expire subscriptions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) ListResetDue(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	yearly := string(plan.CycleYearly)

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status": string(subscription.StatusActive),
			"$or": bson.A{
				bson.M{"billing_cycle": yearly, "last_reset_at": bson.M{"$lte": now.Add(-plan.CycleYearly.Duration())}},
				bson.M{"billing_cycle": bson.M{"$ne": yearly}, "last_reset_at": bson.M{"$lte": now.Add(-plan.CycleMonthly.Duration())}},
			},
		}).
		Sort(bson.D{{Key: "last_reset_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list reset due: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ResetUsage(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("usage_count", int64(0)).
		Set("last_reset_at", at).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: reset usage: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Token Store ====================

func (s *Store) CreateToken(ctx context.Context, t *token.Token) error {
	_, err := s.mdb.NewInsert(toTokenModel(t)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create token: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (*token.Token, error) {
	var m tokenModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": tokenID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrTokenNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get token: %w", err)
	}
	return fromTokenModel(&m), nil
}

func (s *Store) InvalidateTokens(ctx context.Context, subjectID string, purpose token.Purpose, at time.Time) (int64, error) {
	res, err := s.mdb.Collection(colTokens).UpdateMany(ctx,
		bson.M{"subject_id": subjectID, "purpose": string(purpose), "is_used": false},
		bson.M{"$set": bson.M{"is_used": true, "used_at": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: invalidate tokens: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) ReplaceToken(ctx context.Context, t *token.Token) (int64, error) {
	var invalidated int64
	err := s.withTx(ctx, func(sctx context.Context, tx *mongodriver.MongoTx) error {
		res, err := s.mdb.Collection(colTokens).UpdateMany(sctx,
			bson.M{"subject_id": t.SubjectID, "purpose": string(t.Purpose), "is_used": false},
			bson.M{"$set": bson.M{"is_used": true, "used_at": t.CreatedAt}},
		)
		if err != nil {
			return err
		}
		invalidated = res.ModifiedCount
		_, err = tx.NewInsert(toTokenModel(t)).Exec(sctx)
		return err
	})
	if isConflict(err) {
		return 0, entitle.ErrConditionFailed
	}
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: replace token: %w", err)
	}
	return invalidated, nil
}

func (s *Store) MarkTokenUsed(ctx context.Context, tokenID string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*tokenModel)(nil)).
		Filter(bson.M{
			"_id":        tokenID,
			"is_used":    false,
			"expires_at": bson.M{"$gt": at},
		}).
		Set("is_used", true).
		Set("used_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: mark token used: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.conditionOrMissing(ctx, colTokens, bson.M{"_id": tokenID}, entitle.ErrTokenNotFound)
	}
	return nil
}

func (s *Store) RedeemToken(ctx context.Context, tokenID string, at time.Time, fn token.RedeemFunc) error {
	var fnErr error
	err := s.withTx(ctx, func(sctx context.Context, _ *mongodriver.MongoTx) error {
		var m tokenModel
		err := s.mdb.Collection(colTokens).FindOneAndUpdate(sctx,
			bson.M{
				"_id":        tokenID,
				"is_used":    false,
				"expires_at": bson.M{"$gt": at},
			},
			bson.M{"$set": bson.M{"is_used": true, "used_at": at}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&m)
		if err != nil {
			return err
		}
		fnErr = fn(fromTokenModel(&m))
		return fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case isNoDocuments(err), isConflict(err):
		return s.conditionOrMissing(ctx, colTokens, bson.M{"_id": tokenID}, entitle.ErrTokenNotFound)
	}
	return fmt.Errorf("entitle/mongo: redeem token: %w", err)
}

// ==================== Meter Store ====================

func (s *Store) ConsumeUsage(ctx context.Context, e *meter.UsageEntry, now time.Time) (int64, error) {
	filter := bson.M{
		"_id":    e.SubscriptionID.String(),
		"status": string(subscription.StatusActive),
		"end_at": bson.M{"$gte": now},
		"$or": bson.A{
			bson.M{"usage_limit": plan.Unlimited},
			bson.M{"$expr": bson.M{"$lte": bson.A{
				bson.M{"$add": bson.A{"$usage_count", e.Amount}},
				"$usage_limit",
			}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"usage_count": e.Amount},
		"$set": bson.M{"updated_at": now},
	}

	var m subscriptionModel
	err := s.withTx(ctx, func(sctx context.Context, tx *mongodriver.MongoTx) error {
		err := s.mdb.Collection(colSubscriptions).
			FindOneAndUpdate(sctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).
			Decode(&m)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert(toUsageEntryModel(e)).Exec(sctx)
		return err
	})
	if isNoDocuments(err) || isConflict(err) {
		return 0, s.conditionOrMissing(ctx, colSubscriptions, bson.M{"_id": e.SubscriptionID.String()}, entitle.ErrSubscriptionNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: consume usage: %w", err)
	}
	return m.UsageCount, nil
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, opts meter.QueryOpts) ([]*meter.UsageEntry, error) {
	var models []usageEntryModel

	filter := bson.M{"subscription_id": subID.String()}
	created := bson.M{}
	if !opts.Start.IsZero() {
		created["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		created["$lt"] = opts.End
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list usage: %w", err)
	}

	result := make([]*meter.UsageEntry, len(models))
	for i := range models {
		entry, err := fromUsageEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) RecordOutcome(ctx context.Context, o *meter.Outcome) error {
	var successful, failed int64
	if o.Success {
		successful = 1
	} else {
		failed = 1
	}

	_, err := s.mdb.Collection(colServiceStats).UpdateOne(ctx,
		bson.M{"_id": string(o.Service)},
		bson.M{
			"$inc": bson.M{
				"total_requests": int64(1),
				"successful":     successful,
				"failed":         failed,
				"total_cost":     o.Cost.Amount,
			},
			"$set":         bson.M{"updated_at": o.At},
			"$setOnInsert": bson.M{"currency": o.Cost.Currency},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("entitle/mongo: record outcome: %w", err)
	}
	return nil
}

func (s *Store) GetServiceStats(ctx context.Context, service plan.Service) (*meter.ServiceStats, error) {
	var m serviceStatsModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": string(service)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get service stats: %w", err)
	}
	return fromServiceStatsModel(&m), nil
}

// ==================== Demo Store ====================

func (s *Store) CreateGrant(ctx context.Context, g *demo.Grant) error {
	_, err := s.mdb.NewInsert(toGrantModel(g)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrGrantExists
		}
		return fmt.Errorf("entitle/mongo: create grant: %w", err)
	}
	return nil
}

func (s *Store) GetGrant(ctx context.Context, tok string) (*demo.Grant, error) {
	var m grantModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": tok}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrGrantNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get grant: %w", err)
	}
	return fromGrantModel(&m), nil
}

func (s *Store) ConsumeGrant(ctx context.Context, tok string, now time.Time) (int64, error) {
	filter := bson.M{
		"_id":        tok,
		"expires_at": bson.M{"$gte": now},
		"$expr":      bson.M{"$lt": bson.A{"$usage_count", "$max_usage"}},
	}
	// The second stage sees the incremented count.
	exhausted := bson.M{"$gte": bson.A{"$usage_count", "$max_usage"}}
	pipeline := bson.A{
		bson.M{"$set": bson.M{
			"usage_count": bson.M{"$add": bson.A{"$usage_count", 1}},
			"updated_at":  now,
		}},
		bson.M{"$set": bson.M{
			"is_used": exhausted,
			"used_at": bson.M{"$cond": bson.A{exhausted, now, "$used_at"}},
		}},
	}

	var m grantModel
	err := s.mdb.Collection(colDemoGrants).
		FindOneAndUpdate(ctx, filter, pipeline, options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, s.conditionOrMissing(ctx, colDemoGrants, bson.M{"_id": tok}, entitle.ErrGrantNotFound)
		}
		return 0, fmt.Errorf("entitle/mongo: consume grant: %w", err)
	}
	return m.UsageCount, nil
}

func (s *Store) AppendDemoAccess(ctx context.Context, l *demo.AccessLog) error {
	_, err := s.mdb.NewInsert(toDemoAccessModel(l)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: append demo access: %w", err)
	}
	return nil
}

func (s *Store) ListDemoAccess(ctx context.Context, tok string, limit int) ([]*demo.AccessLog, error) {
	var models []demoAccessModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"grant_token": tok}).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list demo access: %w", err)
	}

	result := make([]*demo.AccessLog, len(models))
	for i := range models {
		l, err := fromDemoAccessModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	return result, nil
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.mdb.NewInsert(toPaymentModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrPaymentExists
		}
		return fmt.Errorf("entitle/mongo: create payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, key string) (*payment.Payment, error) {
	var m paymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"payment_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) ListPayments(ctx context.Context, subjectID string) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"subject_id": subjectID}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list payments: %w", err)
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) TransitionPayment(ctx context.Context, key string, t payment.Transition) error {
	q := s.mdb.NewUpdate((*paymentModel)(nil)).
		Filter(bson.M{"payment_key": key, "status": string(t.From)}).
		Set("status", string(t.To)).
		Set("updated_at", t.At)
	if t.ProviderEventID != "" {
		q = q.Set("provider_event_id", t.ProviderEventID)
	}
	if t.ProviderPaymentID != "" {
		q = q.Set("provider_payment_id", t.ProviderPaymentID)
	}
	if t.To == payment.StatusCompleted {
		q = q.Set("paid_at", t.At)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: transition payment: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.conditionOrMissing(ctx, colPayments, bson.M{"payment_key": key}, entitle.ErrPaymentNotFound)
	}
	return nil
}

func (s *Store) GetProcessedEvent(ctx context.Context, provider payment.Provider, eventID string) (*payment.ProcessedEvent, error) {
	var m webhookEventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider": string(provider), "event_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get processed event: %w", err)
	}
	return fromWebhookEventModel(&m)
}

func (s *Store) RecordProcessedEvent(ctx context.Context, e *payment.ProcessedEvent) error {
	_, err := s.mdb.NewInsert(toWebhookEventModel(e)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrDuplicateEvent
		}
		return fmt.Errorf("entitle/mongo: record processed event: %w", err)
	}
	return nil
}

func (s *Store) CreatePurchase(ctx context.Context, p *payment.Purchase) error {
	_, err := s.mdb.NewInsert(toPurchaseModel(p)).Exec(ctx)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("entitle/mongo: create purchase: %w", err)
	}
	return nil
}

func (s *Store) GetPurchase(ctx context.Context, subjectID, workflowID string) (*payment.Purchase, error) {
	var m purchaseModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"subject_id": subjectID, "workflow_id": workflowID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get purchase: %w", err)
	}
	return fromPurchaseModel(&m)
}

// ==================== Helpers ====================

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// conditionOrMissing tells a missing document from a failed guard after a
// guarded write matched nothing.
func (s *Store) conditionOrMissing(ctx context.Context, col string, filter bson.M, missing error) error {
	n, err := s.mdb.Collection(col).CountDocuments(ctx, filter)
	if err != nil {
		return fmt.Errorf("entitle/mongo: count %s: %w", col, err)
	}
	if n == 0 {
		return missing
	}
	return entitle.ErrConditionFailed
}

// withTx runs fn in a session transaction and commits only when fn
// succeeds. Operations inside fn must use sctx to join the transaction.
func (s *Store) withTx(ctx context.Context, fn func(sctx context.Context, tx *mongodriver.MongoTx) error) error {
	raw, err := s.mdb.GroveTx(ctx, 0, false)
	if err != nil {
		return err
	}
	tx, ok := raw.(*mongodriver.MongoTx)
	if !ok {
		return fmt.Errorf("entitle/mongo: unexpected transaction type %T", raw)
	}
	if err := fn(tx.SessionContext(ctx), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isConflict reports a write that lost to a concurrent transaction or
// hit a unique index.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError")
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{Keys: bson.D{{Key: "service", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "subscriber_id", Value: 1}, {Key: "service", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_reset_at", Value: 1}}},
		},
		colUsageLog: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colTokens: {
			{Keys: bson.D{{Key: "subject_id", Value: 1}, {Key: "purpose", Value: 1}, {Key: "is_used", Value: 1}}},
			{
				Keys: bson.D{{Key: "subject_id", Value: 1}, {Key: "purpose", Value: 1}},
				Options: options.Index().
					SetName("subject_purpose_unused").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_used": false}),
			},
		},
		colDemoAccess: {
			{Keys: bson.D{{Key: "grant_token", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colPayments: {
			{
				Keys:    bson.D{{Key: "payment_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subject_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colWebhookEvents: {
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "event_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colPurchases: {
			{
				Keys:    bson.D{{Key: "subject_id", Value: 1}, {Key: "workflow_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
