package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

const partialReportSample = 50

// PartialOrderReportJobParams configure the reconciliation report.
type PartialOrderReportJobParams struct {
	Logger  *logger.Logger
	Orders  partialOrderSource
	Metrics *metrics.CommerceMetrics
	Sample  int
}

type partialOrderSource interface {
	CountPendingReconciliation(ctx context.Context) (int64, error)
	ListOrders(ctx context.Context, filter orders.ListFilter, params pagination.Params) ([]models.Order, error)
}

// NewPartialOrderReportJob publishes the number of orders awaiting
// reconciliation (unreconciled partial orders and stale pending ones) and logs
// the newest of them.
func NewPartialOrderReportJob(params PartialOrderReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	sample := params.Sample
	if sample <= 0 {
		sample = partialReportSample
	}
	return &partialOrderReportJob{
		logg:    params.Logger,
		orders:  params.Orders,
		metrics: params.Metrics,
		sample:  sample,
	}, nil
}

type partialOrderReportJob struct {
	logg    *logger.Logger
	orders  partialOrderSource
	metrics *metrics.CommerceMetrics
	sample  int
}

func (j *partialOrderReportJob) Name() string { return "partial-order-report" }

func (j *partialOrderReportJob) Run(ctx context.Context) error {
	pending, err := j.orders.CountPendingReconciliation(ctx)
	if err != nil {
		return fmt.Errorf("count partial orders: %w", err)
	}
	j.metrics.SetPendingReconciliation(pending)
	if pending == 0 {
		j.logg.Info(ctx, "cron.partial_orders_none")
		return nil
	}

	rows, err := j.orders.ListOrders(ctx, orders.ListFilter{Unreconciled: true}, pagination.Params{Limit: j.sample})
	if err != nil {
		return fmt.Errorf("list partial orders: %w", err)
	}
	if len(rows) > j.sample {
		rows = rows[:j.sample]
	}
	ids := make([]string, 0, len(rows))
	failedLines := 0
	for _, row := range rows {
		ids = append(ids, row.ID.String())
		failedLines += row.FailedLineCount
	}
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"pending":      pending,
		"order_ids":    ids,
		"failed_lines": failedLines,
	}), "cron.partial_orders_pending")
	return nil
}
