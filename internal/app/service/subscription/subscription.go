package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/tool"
	types "github.com/fatflowers/saasbill/pkg/types"
)

// Service is the subscription store. Only the webhook reconciler writes through it.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// SubscriptionUpdate carries the fields a gateway update event overwrites.
type SubscriptionUpdate struct {
	Status            types.SubscriptionStatus
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
}

// Create inserts a subscription. A row already holding the same gateway
// subscription id is left untouched and created is false.
func (s *Service) Create(ctx context.Context, m *models.Subscription) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("nil subscription")
	}
	if m.GatewaySubscriptionID == "" {
		return false, fmt.Errorf("gateway subscription id required")
	}
	if m.ID == "" {
		m.ID = tool.GenerateUUIDV7()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_subscription_id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logctx.FromCtx(ctx, s.log).Infow("subscription_exists", "gateway_subscription_id", m.GatewaySubscriptionID)
		return false, nil
	}

	s.saveLog(ctx, types.SubscriptionChangeReasonCreated, m)
	return true, nil
}

// UpdateByGatewaySubscriptionID overwrites status, cancel flag and period in one
// statement. found is false when no row carries the id.
func (s *Service) UpdateByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string, u SubscriptionUpdate) (bool, error) {
	return s.updateByGatewaySubscriptionID(ctx, gatewaySubscriptionID, types.SubscriptionChangeReasonUpdated, map[string]any{
		"status":               u.Status,
		"cancel_at_period_end": u.CancelAtPeriodEnd,
		"period_start":         u.PeriodStart,
		"period_end":           u.PeriodEnd,
		"updated_at":           time.Now(),
	})
}

// CancelByGatewaySubscriptionID moves the row to canceled and leaves every other field alone.
func (s *Service) CancelByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string) (bool, error) {
	return s.updateByGatewaySubscriptionID(ctx, gatewaySubscriptionID, types.SubscriptionChangeReasonCanceled, map[string]any{
		"status":     types.SubscriptionStatusCanceled,
		"updated_at": time.Now(),
	})
}

func (s *Service) updateByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string, reason types.SubscriptionChangeReason, values map[string]any) (bool, error) {
	if gatewaySubscriptionID == "" {
		return false, nil
	}
	var rows []*models.Subscription
	res := s.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("gateway_subscription_id = ?", gatewaySubscriptionID).
		Updates(values)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update subscription %s (%s): %w", gatewaySubscriptionID, reason, res.Error)
	}
	for _, row := range rows {
		s.saveLog(ctx, reason, row)
	}
	return res.RowsAffected > 0, nil
}

// GetActiveByReference returns the most recent current subscription of a user, or nil.
func (s *Service) GetActiveByReference(ctx context.Context, referenceID string) (*models.Subscription, error) {
	if referenceID == "" {
		return nil, nil
	}
	var m models.Subscription
	err := s.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Where("status IN ?", types.CurrentSubscriptionStatuses).
		Order("created_at desc").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription of %s: %w", referenceID, err)
	}
	return &m, nil
}

// AttachUnclaimed links rows that were created without a reference to userID
// when their customer email matches.
func (s *Service) AttachUnclaimed(ctx context.Context, email, userID string) (int64, error) {
	email = strings.TrimSpace(email)
	if email == "" || userID == "" {
		return 0, nil
	}
	var rows []*models.Subscription
	res := s.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("reference_id IS NULL").
		Where("lower(customer_email) = lower(?)", email).
		Updates(map[string]any{"reference_id": userID, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to attach subscriptions to %s: %w", userID, res.Error)
	}
	for _, row := range rows {
		s.saveLog(ctx, types.SubscriptionChangeReasonAttached, row)
	}
	if res.RowsAffected > 0 {
		logctx.FromCtx(ctx, s.log).Infow("subscriptions_attached", "count", res.RowsAffected, "reference_id", userID)
	}
	return res.RowsAffected, nil
}

// ScanFields are the columns admin listing may filter and sort on.
var ScanFields = []string{
	"id", "plan", "reference_id", "customer_email", "gateway_customer_id", "gateway_subscription_id",
	"status", "cancel_at_period_end", "period_start", "period_end", "created_at", "updated_at",
}

type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// Normalize applies paging defaults and validates filters and the sort column.
func (r *ScanRequest) Normalize() error {
	if r == nil {
		return fmt.Errorf("nil request")
	}
	if r.Size <= 0 {
		r.Size = 10
	}
	if r.Size > 200 {
		r.Size = 200
	}
	if r.From < 0 {
		r.From = 0
	}
	for _, f := range r.Filters {
		if err := f.Validate(ScanFields); err != nil {
			return err
		}
	}
	if r.SortBy != "" && !slices.Contains(ScanFields, r.SortBy) {
		return fmt.Errorf("sort field not allowed: %s", r.SortBy)
	}
	return nil
}

type ScanResponse struct {
	Items []*models.Subscription `json:"items"`
	Total int64                  `json:"total"`
}

// Scan implements paginated admin listing with filters.
func (s *Service) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.Subscription
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}

// saveLog writes the audit row asynchronously; errors are logged but not returned.
func (s *Service) saveLog(ctx context.Context, reason types.SubscriptionChangeReason, after *models.Subscription) {
	snapshot := *after
	traceID := logctx.TraceID(ctx)
	go func() {
		row := &models.SubscriptionLog{
			ID:                    tool.GenerateUUIDV7(),
			GatewaySubscriptionID: snapshot.GatewaySubscriptionID,
			Reason:                reason,
			After:                 datatypes.NewJSONType(&snapshot),
			Extra:                 datatypes.JSONMap{"trace_id": traceID},
		}
		if err := s.db.Create(row).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}()
}
