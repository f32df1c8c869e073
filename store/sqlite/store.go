package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// Guards live in the WHERE clause of a single UPDATE; SQLite serializes
// writers on the database lock. Writes that span rows (usage with its
// journal row, token replacement, token redemption) run in one
// transaction. A redemption callback runs while that transaction holds
// the write lock, so it must not write through the same database.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("entitle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/sqlite: migration failed: %w", err)
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
	res, err := s.sdb.NewInsert(toPlanModel(p)).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrAlreadyExists)
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, service plan.Service) ([]*plan.Plan, error) {
	var models []planModel
	q := s.sdb.NewSelect(&models)
	if service != "" {
		q = q.Where("service = ?", string(service))
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.sdb.NewInsert(toSubscriptionModel(sub)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrSubscriptionExists)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionFor(ctx context.Context, subscriberID string, service plan.Service) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("subscriber_id = ?", subscriberID).
		Where("service = ?", string(service)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, subscriberID string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.sdb.NewSelect(&models).
		Where("subscriber_id = ?", subscriberID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ActivateSubscription(ctx context.Context, subID id.SubscriptionID, a subscription.Activation) error {
	q := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusActive)).
		Set("start_at = ?", a.StartAt).
		Set("end_at = ?", a.EndAt).
		Set("last_payment_key = ?", a.PaymentKey).
		Set("updated_at = ?", a.At).
		Set("version = version + 1")

	if a.ResetUsage {
		q = q.Set("usage_count = 0").
			Set("last_reset_at = ?", a.At)
	}
	q = q.Where("id = ?", subID.String()).
		Where("version = ?", a.ExpectedVersion).
		Where("status <> ?", string(subscription.StatusCancelled))

	res, err := q.Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_subscriptions", "id", subID.String(), entitle.ErrSubscriptionNotFound)
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCancelled)).
		Set("auto_renew = FALSE").
		Set("cancelled_at = ?", at).
		Set("updated_at = ?", at).
		Set("version = version + 1").
		Where("id = ?", subID.String()).
		Where("status <> ?", string(subscription.StatusCancelled)).
		Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_subscriptions", "id", subID.String(), entitle.ErrSubscriptionNotFound)
}

func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusExpired)).
		Set("updated_at = ?", now).
		Set("version = version + 1").
		Where("status = ?", string(subscription.StatusActive)).
		Where("end_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListResetDue(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(subscription.StatusActive)).
		Where("((billing_cycle = ? AND last_reset_at <= ?) OR (billing_cycle <> ? AND last_reset_at <= ?))",
			string(plan.CycleYearly),
			now.Add(-plan.CycleYearly.Duration()),
			string(plan.CycleYearly),
			now.Add(-plan.CycleMonthly.Duration()),
		).
		OrderExpr("last_reset_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ResetUsage(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("usage_count = 0").
		Set("last_reset_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", subID.String()).
		Exec(ctx)
	return mustAffect(res, err, entitle.ErrSubscriptionNotFound)
}

// ==================== Token Store ====================

func (s *Store) CreateToken(ctx context.Context, t *token.Token) error {
	res, err := s.sdb.NewInsert(toTokenModel(t)).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrAlreadyExists)
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (*token.Token, error) {
	m := new(tokenModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", tokenID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrTokenNotFound
		}
		return nil, err
	}
	return fromTokenModel(m), nil
}

func (s *Store) InvalidateTokens(ctx context.Context, subjectID string, purpose token.Purpose, at time.Time) (int64, error) {
	res, err := s.sdb.NewUpdate((*tokenModel)(nil)).
		Set("is_used = TRUE").
		Set("used_at = ?", at).
		Where("subject_id = ?", subjectID).
		Where("purpose = ?", string(purpose)).
		Where("is_used = FALSE").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ReplaceToken(ctx context.Context, t *token.Token) (int64, error) {
	var invalidated int64
	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		res, err := tx.NewUpdate((*tokenModel)(nil)).
			Set("is_used = TRUE").
			Set("used_at = ?", t.CreatedAt).
			Where("subject_id = ?", t.SubjectID).
			Where("purpose = ?", string(t.Purpose)).
			Where("is_used = FALSE").
			Exec(ctx)
		if err != nil {
			return err
		}
		if invalidated, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.NewInsert(toTokenModel(t)).
			OnConflict("DO NOTHING").
			Exec(ctx)
		return insertResult(res, err, errNoMatch)
	})
	if errors.Is(err, errNoMatch) {
		return 0, entitle.ErrConditionFailed
	}
	if err != nil {
		return 0, err
	}
	return invalidated, nil
}

func (s *Store) MarkTokenUsed(ctx context.Context, tokenID string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*tokenModel)(nil)).
		Set("is_used = TRUE").
		Set("used_at = ?", at).
		Where("id = ?", tokenID).
		Where("is_used = FALSE").
		Where("expires_at > ?", at).
		Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_tokens", "id", tokenID, entitle.ErrTokenNotFound)
}

func (s *Store) RedeemToken(ctx context.Context, tokenID string, at time.Time, fn token.RedeemFunc) error {
	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		res, err := tx.NewUpdate((*tokenModel)(nil)).
			Set("is_used = TRUE").
			Set("used_at = ?", at).
			Where("id = ?", tokenID).
			Where("is_used = FALSE").
			Where("expires_at > ?", at).
			Exec(ctx)
		if err := insertResult(res, err, errNoMatch); err != nil {
			return err
		}

		m := new(tokenModel)
		if err := tx.NewSelect(m).Where("id = ?", tokenID).Scan(ctx); err != nil {
			return err
		}
		return fn(fromTokenModel(m))
	})
	if errors.Is(err, errNoMatch) {
		return s.conditionOrMissing(ctx, "entitle_tokens", "id", tokenID, entitle.ErrTokenNotFound)
	}
	return err
}

// ==================== Meter Store ====================

func (s *Store) ConsumeUsage(ctx context.Context, e *meter.UsageEntry, now time.Time) (int64, error) {
	var count int64
	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		err := tx.NewUpdate((*subscriptionModel)(nil)).
			Set("usage_count = usage_count + ?", e.Amount).
			Set("updated_at = ?", now).
			Where("id = ?", e.SubscriptionID.String()).
			Where("status = ?", string(subscription.StatusActive)).
			Where("end_at >= ?", now).
			Where("(usage_limit = -1 OR usage_count + ? <= usage_limit)", e.Amount).
			Returning("usage_count").
			Scan(ctx, &count)
		if isNoRows(err) {
			return errNoMatch
		}
		if err != nil {
			return err
		}
		_, err = tx.NewInsert(toUsageEntryModel(e)).Exec(ctx)
		return err
	})
	if errors.Is(err, errNoMatch) {
		return 0, s.conditionOrMissing(ctx, "entitle_subscriptions", "id", e.SubscriptionID.String(), entitle.ErrSubscriptionNotFound)
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, opts meter.QueryOpts) ([]*meter.UsageEntry, error) {
	var models []usageEntryModel
	q := s.sdb.NewSelect(&models).
		Where("subscription_id = ?", subID.String())

	if !opts.Start.IsZero() {
		q = q.Where("created_at >= ?", opts.Start)
	}
	if !opts.End.IsZero() {
		q = q.Where("created_at < ?", opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	m := &serviceStatsModel{
		Service:       string(o.Service),
		TotalRequests: 1,
		TotalCost:     o.Cost.Amount,
		Currency:      o.Cost.Currency,
		UpdatedAt:     o.At,
	}
	if o.Success {
		m.Successful = 1
	} else {
		m.Failed = 1
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(service) DO UPDATE").
		Set("total_requests = entitle_service_stats.total_requests + EXCLUDED.total_requests").
		Set("successful = entitle_service_stats.successful + EXCLUDED.successful").
		Set("failed = entitle_service_stats.failed + EXCLUDED.failed").
		Set("total_cost = entitle_service_stats.total_cost + EXCLUDED.total_cost").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetServiceStats(ctx context.Context, service plan.Service) (*meter.ServiceStats, error) {
	m := new(serviceStatsModel)
	err := s.sdb.NewSelect(m).
		Where("service = ?", string(service)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrNotFound
		}
		return nil, err
	}
	return fromServiceStatsModel(m), nil
}

// ==================== Demo Store ====================

func (s *Store) CreateGrant(ctx context.Context, g *demo.Grant) error {
	res, err := s.sdb.NewInsert(toGrantModel(g)).
		OnConflict("(token) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrGrantExists)
}

func (s *Store) GetGrant(ctx context.Context, tok string) (*demo.Grant, error) {
	m := new(grantModel)
	err := s.sdb.NewSelect(m).
		Where("token = ?", tok).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrGrantNotFound
		}
		return nil, err
	}
	return fromGrantModel(m), nil
}

func (s *Store) ConsumeGrant(ctx context.Context, tok string, now time.Time) (int64, error) {
	// SET expressions see the pre-update row.
	res, err := s.sdb.NewUpdate((*grantModel)(nil)).
		Set("usage_count = usage_count + 1").
		Set("is_used = (usage_count + 1 >= max_usage)").
		Set("used_at = CASE WHEN usage_count + 1 >= max_usage THEN ? ELSE used_at END", now).
		Set("updated_at = ?", now).
		Where("token = ?", tok).
		Where("expires_at >= ?", now).
		Where("usage_count < max_usage").
		Exec(ctx)
	if err := s.guardedResult(ctx, res, err, "entitle_demo_grants", "token", tok, entitle.ErrGrantNotFound); err != nil {
		return 0, err
	}

	var count int64
	if err := s.sdb.NewRaw(`SELECT usage_count FROM entitle_demo_grants WHERE token = ?`, tok).Scan(ctx, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) AppendDemoAccess(ctx context.Context, l *demo.AccessLog) error {
	_, err := s.sdb.NewInsert(toDemoAccessModel(l)).Exec(ctx)
	return err
}

func (s *Store) ListDemoAccess(ctx context.Context, tok string, limit int) ([]*demo.AccessLog, error) {
	var models []demoAccessModel
	q := s.sdb.NewSelect(&models).
		Where("grant_token = ?", tok).
		OrderExpr("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.sdb.NewInsert(toPaymentModel(p)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrPaymentExists)
}

func (s *Store) GetPayment(ctx context.Context, key string) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.sdb.NewSelect(m).
		Where("payment_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) ListPayments(ctx context.Context, subjectID string) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.sdb.NewSelect(&models).
		Where("subject_id = ?", subjectID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	q := s.sdb.NewUpdate((*paymentModel)(nil)).
		Set("status = ?", string(t.To)).
		Set("provider_event_id = COALESCE(NULLIF(?, ''), provider_event_id)", t.ProviderEventID).
		Set("provider_payment_id = COALESCE(NULLIF(?, ''), provider_payment_id)", t.ProviderPaymentID).
		Set("updated_at = ?", t.At)

	if t.To == payment.StatusCompleted {
		q = q.Set("paid_at = ?", t.At)
	}
	res, err := q.
		Where("payment_key = ?", key).
		Where("status = ?", string(t.From)).
		Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_payments", "payment_key", key, entitle.ErrPaymentNotFound)
}

func (s *Store) GetProcessedEvent(ctx context.Context, provider payment.Provider, eventID string) (*payment.ProcessedEvent, error) {
	m := new(webhookEventModel)
	err := s.sdb.NewSelect(m).
		Where("provider = ?", string(provider)).
		Where("event_id = ?", eventID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrNotFound
		}
		return nil, err
	}
	return fromWebhookEventModel(m)
}

func (s *Store) RecordProcessedEvent(ctx context.Context, e *payment.ProcessedEvent) error {
	res, err := s.sdb.NewInsert(toWebhookEventModel(e)).
		OnConflict("(provider, event_id) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrDuplicateEvent)
}

func (s *Store) CreatePurchase(ctx context.Context, p *payment.Purchase) error {
	_, err := s.sdb.NewInsert(toPurchaseModel(p)).
		OnConflict("(subject_id, workflow_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) GetPurchase(ctx context.Context, subjectID, workflowID string) (*payment.Purchase, error) {
	m := new(purchaseModel)
	err := s.sdb.NewSelect(m).
		Where("subject_id = ?", subjectID).
		Where("workflow_id = ?", workflowID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

// ==================== Helpers ====================

// errNoMatch aborts a transaction whose guarded write matched no row.
var errNoMatch = errors.New("entitle/sqlite: no row matched")

// withTx runs fn in a transaction and commits only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlitedriver.SqliteTx) error) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rowsAffecter is the part of a grove exec result the store reads.
type rowsAffecter interface {
	RowsAffected() (int64, error)
}

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

// insertResult maps an ON CONFLICT DO NOTHING insert that wrote no row
// to dup.
func insertResult(res rowsAffecter, err error, dup error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return dup
	}
	return nil
}

// mustAffect maps an unconditional update that matched nothing to missing.
func mustAffect(res rowsAffecter, err error, missing error) error {
	return insertResult(res, err, missing)
}

// guardedResult distinguishes a missing row from a failed guard after a
// conditional update that matched nothing.
func (s *Store) guardedResult(ctx context.Context, res rowsAffecter, err error, table, col, key string, missing error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	return s.conditionOrMissing(ctx, table, col, key, missing)
}

func (s *Store) conditionOrMissing(ctx context.Context, table, col, key string, missing error) error {
	var n int64
	err := s.sdb.NewRaw(`SELECT COUNT(*) FROM `+table+` WHERE `+col+` = ?`, key).Scan(ctx, &n)
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return entitle.ErrConditionFailed
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
