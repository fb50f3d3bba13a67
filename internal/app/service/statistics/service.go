package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/pkg/types"
)

type StatisticType string

const (
	StatisticTypeTotalSubscriptionCount         StatisticType = "total_subscription_count"
	StatisticTypeSubscriptionCountByStatus      StatisticType = "subscription_count_by_status"
	StatisticTypeSubscriptionCountByPlan        StatisticType = "subscription_count_by_plan"
	StatisticTypeDailyNewSubscriptionCount      StatisticType = "daily_new_subscription_count"
	StatisticTypeDailyCanceledSubscriptionCount StatisticType = "daily_canceled_subscription_count"
)

var allStatisticTypes = []StatisticType{
	StatisticTypeTotalSubscriptionCount,
	StatisticTypeSubscriptionCountByStatus,
	StatisticTypeSubscriptionCountByPlan,
	StatisticTypeDailyNewSubscriptionCount,
	StatisticTypeDailyCanceledSubscriptionCount,
}

const (
	DefaultDays = 30
	MaxDays     = 366
)

// filterFields may be used in filters. Only the subscription table is filtered.
var filterFields = []string{"plan", "status"}

// filteredTypes read the subscription table and honor filters.
var filteredTypes = []StatisticType{
	StatisticTypeTotalSubscriptionCount,
	StatisticTypeSubscriptionCountByStatus,
	StatisticTypeSubscriptionCountByPlan,
	StatisticTypeDailyNewSubscriptionCount,
}

type SubscriptionStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

// SubscriptionStatisticRequest selects statistics. Days bounds the daily
// series, counting today.
type SubscriptionStatisticRequest struct {
	Filters   []*types.CommonFilter            `json:"filters"`
	DataItems []*SubscriptionStatisticDataItem `json:"data_items"`
	Days      int                              `json:"days"`
}

// Normalize fills defaults and validates data items and filters.
// An empty data item list means every statistic.
func (r *SubscriptionStatisticRequest) Normalize() error {
	if r == nil {
		return fmt.Errorf("nil request")
	}
	if r.Days <= 0 {
		r.Days = DefaultDays
	}
	if r.Days > MaxDays {
		r.Days = MaxDays
	}
	if len(r.DataItems) == 0 {
		r.DataItems = lo.Map(allStatisticTypes, func(t StatisticType, _ int) *SubscriptionStatisticDataItem {
			return &SubscriptionStatisticDataItem{ID: t}
		})
	}
	for _, di := range r.DataItems {
		if di == nil || !lo.Contains(allStatisticTypes, di.ID) {
			return fmt.Errorf("invalid data item id: %v", lo.FromPtr(di).ID)
		}
	}
	for _, f := range r.Filters {
		if err := f.Validate(filterFields); err != nil {
			return err
		}
	}
	return nil
}

func (r *SubscriptionStatisticRequest) where(statisticType StatisticType) clause.Expression {
	if !lo.Contains(filteredTypes, statisticType) {
		return types.FiltersAnd(nil)
	}
	return types.FiltersAnd(r.Filters)
}

// since is the first day of the daily series, in UTC.
func (r *SubscriptionStatisticRequest) since(now time.Time) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -(r.Days - 1))
}

type SubscriptionStatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type SubscriptionStatisticResponse struct {
	DataItems map[StatisticType][]SubscriptionStatisticResponseDataItem `json:"data_items"`
}

// Service provides admin statistics over the subscription table.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service { return &Service{db: db, now: time.Now} }

func (s *Service) getTotalSubscriptionCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.where(StatisticTypeTotalSubscriptionCount)}}).
		Where("status IN ?", types.CurrentSubscriptionStatuses)
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getSubscriptionCountByStatus(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("status as label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.where(StatisticTypeSubscriptionCountByStatus)}}).
		Group("status").
		Order("value DESC")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getSubscriptionCountByPlan(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("plan as label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.where(StatisticTypeSubscriptionCountByPlan)}}).
		Where("status IN ?", types.CurrentSubscriptionStatuses).
		Group("plan").
		Order("value DESC")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// getDailyNewSubscriptionCount returns one row per day, zero filled.
func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var rows []SubscriptionStatisticResponseDataItem
	since := request.since(s.now())
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.where(StatisticTypeDailyNewSubscriptionCount)}}).
		Where("created_at >= ?", since).
		Group("TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')")
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fillDays(rows, since, request.Days), nil
}

// getDailyCanceledSubscriptionCount reads cancellations from the audit log.
func (s *Service) getDailyCanceledSubscriptionCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var rows []SubscriptionStatisticResponseDataItem
	since := request.since(s.now())
	q := s.db.WithContext(ctx).Table((models.SubscriptionLog{}).TableName()).
		Select("TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') as date, count(DISTINCT gateway_subscription_id) as value").
		Where("reason = ?", types.SubscriptionChangeReasonCanceled).
		Where("created_at >= ?", since).
		Group("TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')")
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fillDays(rows, since, request.Days), nil
}

// fillDays returns days entries starting at since, newest first. Days
// missing from rows count zero.
func fillDays(rows []SubscriptionStatisticResponseDataItem, since time.Time, days int) []SubscriptionStatisticResponseDataItem {
	byDate := lo.SliceToMap(rows, func(r SubscriptionStatisticResponseDataItem) (string, int64) {
		return r.Date, r.Value
	})
	out := make([]SubscriptionStatisticResponseDataItem, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := since.AddDate(0, 0, i).Format(time.DateOnly)
		out = append(out, SubscriptionStatisticResponseDataItem{Date: date, Value: byDate[date]})
	}
	return out
}

func (s *Service) getSubscriptionStatistic(ctx context.Context, request *SubscriptionStatisticRequest, dataItem *SubscriptionStatisticDataItem) ([]SubscriptionStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeTotalSubscriptionCount:
		return s.getTotalSubscriptionCount(ctx, request)
	case StatisticTypeSubscriptionCountByStatus:
		return s.getSubscriptionCountByStatus(ctx, request)
	case StatisticTypeSubscriptionCountByPlan:
		return s.getSubscriptionCountByPlan(ctx, request)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, request)
	case StatisticTypeDailyCanceledSubscriptionCount:
		return s.getDailyCanceledSubscriptionCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetSubscriptionStatistic computes the requested data items concurrently.
func (s *Service) GetSubscriptionStatistic(ctx context.Context, request *SubscriptionStatisticRequest) (*SubscriptionStatisticResponse, error) {
	if err := request.Normalize(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []SubscriptionStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *SubscriptionStatisticDataItem) {
			defer wg.Done()
			res, err := s.getSubscriptionStatistic(ctx, request, di)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", di.ID, err)
				return
			}
			resChan <- &lo.Entry[StatisticType, []SubscriptionStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}
	wg.Wait()
	close(errChan)
	close(resChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	results := make(map[StatisticType][]SubscriptionStatisticResponseDataItem, len(request.DataItems))
	for entry := range resChan {
		results[entry.Key] = lo.Ternary(entry.Value == nil, []SubscriptionStatisticResponseDataItem{}, entry.Value)
	}
	return &SubscriptionStatisticResponse{DataItems: results}, nil
}
