package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Counters, single-use flags and status transitions are written with one
// UPDATE whose WHERE clause carries the guard, so concurrent writers are
// serialized by the row lock. Token replacement and redemption span
// several statements and run in one transaction.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
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
	res, err := s.pg.NewInsert(toPlanModel(p)).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrAlreadyExists)
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
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
	q := s.pg.NewSelect(&models)
	if service != "" {
		q = q.Where("service = $1", string(service))
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
	res, err := s.pg.NewInsert(toSubscriptionModel(sub)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrSubscriptionExists)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
	err := s.pg.NewSelect(m).
		Where("subscriber_id = $1", subscriberID).
		Where("service = $2", string(service)).
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
	err := s.pg.NewSelect(&models).
		Where("subscriber_id = $1", subscriberID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ActivateSubscription(ctx context.Context, subID id.SubscriptionID, a subscription.Activation) error {
	q := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusActive)).
		Set("start_at = $2", a.StartAt).
		Set("end_at = $3", a.EndAt).
		Set("last_payment_key = $4", a.PaymentKey).
		Set("updated_at = $5", a.At).
		Set("version = version + 1")

	argIdx := 5
	if a.ResetUsage {
		argIdx++
		q = q.Set("usage_count = 0").
			Set(fmt.Sprintf("last_reset_at = $%d", argIdx), a.At)
	}
	q = q.Where(fmt.Sprintf("id = $%d", argIdx+1), subID.String()).
		Where(fmt.Sprintf("version = $%d", argIdx+2), a.ExpectedVersion).
		Where(fmt.Sprintf("status <> $%d", argIdx+3), string(subscription.StatusCancelled))

	res, err := q.Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_subscriptions", "id", subID.String(), entitle.ErrSubscriptionNotFound)
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCancelled)).
		Set("auto_renew = FALSE").
		Set("cancelled_at = $2", at).
		Set("updated_at = $3", at).
		Set("version = version + 1").
		Where("id = $4", subID.String()).
		Where("status <> $5", string(subscription.StatusCancelled)).
		Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_subscriptions", "id", subID.String(), entitle.ErrSubscriptionNotFound)
}

func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusExpired)).
		Set("updated_at = $2", now).
		Set("version = version + 1").
		Where("status = $3", string(subscription.StatusActive)).
		Where("end_at < $4", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListResetDue(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(subscription.StatusActive)).
		Where("((billing_cycle = $2 AND last_reset_at <= $3) OR (billing_cycle <> $2 AND last_reset_at <= $4))",
			string(plan.CycleYearly),
			now.Add(-plan.CycleYearly.Duration()),
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("usage_count = 0").
		Set("last_reset_at = $1", at).
		Set("updated_at = $2", at).
		Where("id = $3", subID.String()).
		Exec(ctx)
	return mustAffect(res, err, entitle.ErrSubscriptionNotFound)
}

// ==================== Token Store ====================

func (s *Store) CreateToken(ctx context.Context, t *token.Token) error {
	res, err := s.pg.NewInsert(toTokenModel(t)).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrAlreadyExists)
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (*token.Token, error) {
	m := new(tokenModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", tokenID).
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
	res, err := s.pg.NewUpdate((*tokenModel)(nil)).
		Set("is_used = TRUE").
		Set("used_at = $1", at).
		Where("subject_id = $2", subjectID).
		Where("purpose = $3", string(purpose)).
		Where("is_used = FALSE").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ReplaceToken(ctx context.Context, t *token.Token) (int64, error) {
	var invalidated int64
	err := s.withTx(ctx, func(tx *pgdriver.PgTx) error {
		res, err := tx.NewUpdate((*tokenModel)(nil)).
			Set("is_used = TRUE").
			Set("used_at = $1", t.CreatedAt).
			Where("subject_id = $2", t.SubjectID).
			Where("purpose = $3", string(t.Purpose)).
			Where("is_used = FALSE").
			Exec(ctx)
		if err != nil {
			return err
		}
		if invalidated, err = res.RowsAffected(); err != nil {
			return err
		}
		// A concurrent replacement holding the unused-token index entry
		// makes this insert a no-op once it commits.
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
	res, err := s.pg.NewUpdate((*tokenModel)(nil)).
		Set("is_used = TRUE").
		Set("used_at = $1", at).
		Where("id = $2", tokenID).
		Where("is_used = FALSE").
		Where("expires_at > $3", at).
		Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_tokens", "id", tokenID, entitle.ErrTokenNotFound)
}

// RedeemToken holds the token's row lock while fn runs, so concurrent
// redemptions wait for the outcome instead of racing it.
func (s *Store) RedeemToken(ctx context.Context, tokenID string, at time.Time, fn token.RedeemFunc) error {
	err := s.withTx(ctx, func(tx *pgdriver.PgTx) error {
		res, err := tx.NewUpdate((*tokenModel)(nil)).
			Set("is_used = TRUE").
			Set("used_at = $1", at).
			Where("id = $2", tokenID).
			Where("is_used = FALSE").
			Where("expires_at > $3", at).
			Exec(ctx)
		if err := insertResult(res, err, errNoMatch); err != nil {
			return err
		}

		m := new(tokenModel)
		if err := tx.NewSelect(m).Where("id = $1", tokenID).Scan(ctx); err != nil {
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

// consumeUsageSQL increments the counter and appends the journal row in
// one statement. The insert only runs when the guarded update matched;
// -1 signals that it did not.
const consumeUsageSQL = `
WITH upd AS (
	UPDATE entitle_subscriptions
	   SET usage_count = usage_count + $1, updated_at = $2
	 WHERE id = $3
	   AND status = 'active'
	   AND end_at >= $2
	   AND (usage_limit = -1 OR usage_count + $1 <= usage_limit)
	RETURNING usage_count
), ins AS (
	INSERT INTO entitle_usage_log (id, subscription_id, subject_id, service, amount, metadata, created_at)
	SELECT $4, $3, $5, $6, $1, $7::jsonb, $8 FROM upd
)
SELECT COALESCE((SELECT usage_count FROM upd), -1)`

func (s *Store) ConsumeUsage(ctx context.Context, e *meter.UsageEntry, now time.Time) (int64, error) {
	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.pg.NewRaw(consumeUsageSQL,
		e.Amount, now, e.SubscriptionID.String(),
		e.ID.String(), e.SubjectID, string(e.Service), metadata, e.CreatedAt,
	).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, s.conditionOrMissing(ctx, "entitle_subscriptions", "id", e.SubscriptionID.String(), entitle.ErrSubscriptionNotFound)
	}
	return count, nil
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, opts meter.QueryOpts) ([]*meter.UsageEntry, error) {
	var models []usageEntryModel
	q := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID.String())

	argIdx := 1
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at < $%d", argIdx), opts.End)
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
	_, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("service = $1", string(service)).
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
	res, err := s.pg.NewInsert(toGrantModel(g)).
		OnConflict("(token) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrGrantExists)
}

func (s *Store) GetGrant(ctx context.Context, tok string) (*demo.Grant, error) {
	m := new(grantModel)
	err := s.pg.NewSelect(m).
		Where("token = $1", tok).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrGrantNotFound
		}
		return nil, err
	}
	return fromGrantModel(m), nil
}

// consumeGrantSQL spends one use and flips is_used on the last one.
// SET expressions see the pre-update row.
const consumeGrantSQL = `
WITH upd AS (
	UPDATE entitle_demo_grants
	   SET usage_count = usage_count + 1,
	       is_used = (usage_count + 1 >= max_usage),
	       used_at = CASE WHEN usage_count + 1 >= max_usage THEN $1 ELSE used_at END,
	       updated_at = $1
	 WHERE token = $2
	   AND expires_at >= $1
	   AND usage_count < max_usage
	RETURNING usage_count
)
SELECT COALESCE((SELECT usage_count FROM upd), -1)`

func (s *Store) ConsumeGrant(ctx context.Context, tok string, now time.Time) (int64, error) {
	var count int64
	if err := s.pg.NewRaw(consumeGrantSQL, now, tok).Scan(ctx, &count); err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, s.conditionOrMissing(ctx, "entitle_demo_grants", "token", tok, entitle.ErrGrantNotFound)
	}
	return count, nil
}

func (s *Store) AppendDemoAccess(ctx context.Context, l *demo.AccessLog) error {
	_, err := s.pg.NewInsert(toDemoAccessModel(l)).Exec(ctx)
	return err
}

func (s *Store) ListDemoAccess(ctx context.Context, tok string, limit int) ([]*demo.AccessLog, error) {
	var models []demoAccessModel
	q := s.pg.NewSelect(&models).
		Where("grant_token = $1", tok).
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
	res, err := s.pg.NewInsert(toPaymentModel(p)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrPaymentExists)
}

func (s *Store) GetPayment(ctx context.Context, key string) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.pg.NewSelect(m).
		Where("payment_key = $1", key).
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
	err := s.pg.NewSelect(&models).
		Where("subject_id = $1", subjectID).
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
	q := s.pg.NewUpdate((*paymentModel)(nil)).
		Set("status = $1", string(t.To)).
		Set("provider_event_id = COALESCE(NULLIF($2, ''), provider_event_id)", t.ProviderEventID).
		Set("provider_payment_id = COALESCE(NULLIF($3, ''), provider_payment_id)", t.ProviderPaymentID).
		Set("updated_at = $4", t.At)

	argIdx := 4
	if t.To == payment.StatusCompleted {
		argIdx++
		q = q.Set(fmt.Sprintf("paid_at = $%d", argIdx), t.At)
	}
	res, err := q.
		Where(fmt.Sprintf("payment_key = $%d", argIdx+1), key).
		Where(fmt.Sprintf("status = $%d", argIdx+2), string(t.From)).
		Exec(ctx)
	return s.guardedResult(ctx, res, err, "entitle_payments", "payment_key", key, entitle.ErrPaymentNotFound)
}

func (s *Store) GetProcessedEvent(ctx context.Context, provider payment.Provider, eventID string) (*payment.ProcessedEvent, error) {
	m := new(webhookEventModel)
	err := s.pg.NewSelect(m).
		Where("provider = $1", string(provider)).
		Where("event_id = $2", eventID).
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
	res, err := s.pg.NewInsert(toWebhookEventModel(e)).
		OnConflict("(provider, event_id) DO NOTHING").
		Exec(ctx)
	return insertResult(res, err, entitle.ErrDuplicateEvent)
}

func (s *Store) CreatePurchase(ctx context.Context, p *payment.Purchase) error {
	_, err := s.pg.NewInsert(toPurchaseModel(p)).
		OnConflict("(subject_id, workflow_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) GetPurchase(ctx context.Context, subjectID, workflowID string) (*payment.Purchase, error) {
	m := new(purchaseModel)
	err := s.pg.NewSelect(m).
		Where("subject_id = $1", subjectID).
		Where("workflow_id = $2", workflowID).
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
var errNoMatch = errors.New("entitle/postgres: no row matched")

// withTx runs fn in a transaction and commits only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *pgdriver.PgTx) error) error {
	tx, err := s.pg.BeginTxQuery(ctx, nil)
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
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM `+table+` WHERE `+col+` = $1`, key).Scan(ctx, &n)
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return entitle.ErrConditionFailed
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
