package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradebalance/internal/cache"
	"tradebalance/internal/config"
	"tradebalance/internal/freshness"
	"tradebalance/internal/interpolate"
	"tradebalance/internal/logging"
	"tradebalance/internal/model"
	"tradebalance/internal/providers"
	"tradebalance/internal/providers/eurostat"
	"tradebalance/internal/table"
	"tradebalance/internal/vocab"
)

// Options select what a run does.
type Options struct {
	// Force discards every cached artifact before running.
	Force bool
	// SkipPartners runs the aggregate stage only.
	SkipPartners bool
}

// pacer is implemented by fetchers whose request spacing can change per
// stage.
type pacer interface {
	SetInterval(time.Duration)
}

// Orchestrator runs the fetch-and-process stages one request at a time.
// A failed unit of work is counted and the batch moves on.
type Orchestrator struct {
	fetcher   providers.Fetcher
	store     cache.Store
	vocab     *vocab.Translator
	cfg       *config.Config
	log       *logging.Entry
	aggregate *freshness.Evaluator
	partners  *freshness.Evaluator
	now       func() time.Time
}

func New(fetcher providers.Fetcher, store cache.Store, tr *vocab.Translator, cfg *config.Config, log *logging.Log) *Orchestrator {
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		fetcher:   fetcher,
		store:     store,
		vocab:     tr,
		cfg:       cfg,
		log:       log.WithComponent("pipeline"),
		aggregate: freshness.New(store, cfg.Freshness.MinSize, cfg.Freshness.MaxAge),
		partners:  freshness.New(store, cfg.Freshness.PartnerMinSize, cfg.Freshness.MaxAge),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for freshness and periods.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.aggregate.Now = now
	o.partners.Now = now
}

// Run executes the configured stages in order. The returned error is set
// only when the run could not start; stage failures are reported in the
// summary.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), Started: o.now()}
	log := o.log.WithFields(logging.Fields{"run_id": summary.RunID})

	if opts.Force {
		log.Info("force refresh: purging cache")
		if err := o.store.Purge(ctx); err != nil {
			return summary, fmt.Errorf("pipeline: purge cache: %w", err)
		}
	}

	stages := []func(context.Context, *logging.Entry) StageResult{o.runAggregate}
	if !opts.SkipPartners {
		stages = append(stages, o.runGoodsPartners, o.runServicesPartners)
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result := stage(ctx, log)
		entry := log.WithFields(logging.Fields{
			"stage":   result.Stage,
			"status":  result.Status(),
			"success": result.Success,
			"reused":  result.Reused,
			"failed":  result.Failed,
			"skipped": result.Skipped,
		})
		if result.Status() == StatusOK {
			entry.Info("stage complete")
		} else {
			entry.Warn("stage complete with failures")
		}
		summary.Stages = append(summary.Stages, result)
	}
	summary.Finished = o.now()
	return summary, nil
}

func (o *Orchestrator) pace(interval time.Duration) {
	if p, ok := o.fetcher.(pacer); ok {
		p.SetInterval(interval)
	}
}

func (o *Orchestrator) monthRange() (string, string) {
	return fmt.Sprintf("%04d-01", o.cfg.StartYear), fmt.Sprintf("%04d-12", o.cfg.End(o.now()))
}

func (o *Orchestrator) quarterRange() (string, string) {
	return fmt.Sprintf("%04d-Q1", o.cfg.StartYear), fmt.Sprintf("%04d-Q4", o.cfg.End(o.now()))
}

var bothFlows = []model.Flow{model.FlowImport, model.FlowExport}

func (o *Orchestrator) runAggregate(ctx context.Context, log *logging.Entry) StageResult {
	result := StageResult{Stage: StageAggregate}
	log = log.WithFields(logging.Fields{"stage": StageAggregate})
	o.pace(0)

	goodsKey := cache.AggregateKey(model.KindGoodsAggregate)
	refreshed, err := o.aggregate.NeedsRefresh(ctx, goodsKey, o.fetchGoodsAggregate)
	switch {
	case err != nil:
		result.Failed++
		result.Err = err
		log.WithError(err).Error("goods aggregate failed")
		return result
	case refreshed:
		result.Success++
	default:
		result.Reused++
		log.WithFields(logging.Fields{"artifact": goodsKey.String()}).Info("using cached goods aggregate")
	}

	servicesKey := cache.AggregateKey(model.KindServicesAggregate)
	refreshed, err = o.aggregate.NeedsRefresh(ctx, servicesKey, o.fetchServicesAggregate)
	switch {
	case err != nil:
		result.Failed++
		result.warn("services unavailable, continuing with goods only: %v", err)
		log.WithError(err).Warn("services aggregate failed, continuing with goods only")
	case refreshed:
		result.Success++
	default:
		result.Reused++
		log.WithFields(logging.Fields{"artifact": servicesKey.String()}).Info("using cached services aggregate")
	}
	return result
}

func (o *Orchestrator) fetchGoodsAggregate(ctx context.Context) error {
	start, end := o.monthRange()
	body, err := o.fetcher.Fetch(ctx, providers.Query{
		Dataset:   eurostat.DatasetComext,
		Frequency: model.PeriodMonth,
		Reporters: o.cfg.Aggregate.GoodsReporters,
		Partners:  []string{"WORLD"},
		Products:  o.cfg.Aggregate.Products,
		Flows:     bothFlows,
		Start:     start,
		End:       end,
		Labels:    "label_only",
		Timeout:   o.cfg.Aggregate.Timeout,
	})
	if err != nil {
		return err
	}
	t, err := table.Parse(body)
	if err != nil {
		return err
	}
	o.log.WithFields(logging.Fields{"rows": t.Len(), "bytes": len(body)}).Info("goods aggregate downloaded")
	return o.store.Put(ctx, cache.AggregateKey(model.KindGoodsAggregate), body)
}

func (o *Orchestrator) fetchServicesAggregate(ctx context.Context) error {
	reporters := o.cfg.Aggregate.ServicesReporters
	if len(reporters) == 0 {
		reporters = []string{"ES"}
	}
	start, end := o.quarterRange()
	body, err := o.fetcher.Fetch(ctx, providers.Query{
		Dataset:   eurostat.DatasetBOP,
		Frequency: model.PeriodQuarter,
		Reporters: reporters,
		Partners:  []string{"WRL_REST"},
		Products:  []string{"S"},
		Flows:     bothFlows,
		Start:     start,
		End:       end,
		Labels:    "label_only",
		Timeout:   o.cfg.Aggregate.ServicesTimeout,
	})
	if err != nil {
		return err
	}
	t, err := table.Parse(body)
	if err != nil {
		return err
	}
	monthly, stats, err := interpolate.EqualSplit(t, table.ColumnPeriod, table.ColumnValue)
	if err != nil {
		return fmt.Errorf("%w: %v", eurostat.ErrMalformedPayload, err)
	}
	entry := o.log.WithFields(logging.Fields{
		"quarters":    stats.Quarters,
		"months":      stats.Months,
		"absent":      stats.Absent,
		"passthrough": stats.Passthrough,
		"preserved":   stats.Preserved,
	})
	if stats.Preserved > 0 {
		entry.WithFields(logging.Fields{"periods": strings.Join(stats.PreservedPeriods, ",")}).Warn("services periods kept unmodified")
	} else {
		entry.Info("services aggregate interpolated")
	}
	data, err := monthly.Bytes()
	if err != nil {
		return err
	}
	return o.store.Put(ctx, cache.AggregateKey(model.KindServicesAggregate), data)
}

func (o *Orchestrator) runGoodsPartners(ctx context.Context, log *logging.Entry) StageResult {
	result := StageResult{Stage: StageGoodsPartners}
	log = log.WithFields(logging.Fields{"stage": StageGoodsPartners})
	cfg := o.cfg.GoodsPartners
	o.pace(cfg.Interval)
	start, end := o.monthRange()

	for _, reporter := range cfg.Reporters {
		for _, flow := range bothFlows {
			if ctx.Err() != nil {
				result.Err = ctx.Err()
				return result
			}
			key := cache.PartnerKey(model.KindGoodsPartners, reporter, flow)
			unit := log.WithFields(logging.Fields{"reporter": key.Country, "flow": flow})
			if o.partners.IsFresh(ctx, key) {
				result.Reused++
				unit.Debug("using cached partners")
				continue
			}

			body, err := o.fetcher.Fetch(ctx, providers.Query{
				Dataset:   eurostat.DatasetComext,
				Frequency: model.PeriodMonth,
				Reporters: []string{key.Country},
				Partners:  cfg.Partners,
				Products:  cfg.Products,
				Flows:     []model.Flow{flow},
				Start:     start,
				End:       end,
				Timeout:   cfg.Timeout,
			})
			if errors.Is(err, eurostat.ErrNoRecords) {
				result.Skipped++
				unit.Info("no partner records")
				continue
			}
			if err != nil {
				result.Failed++
				unit.WithError(err).Warn("partner fetch failed")
				continue
			}
			t, err := table.Parse(body)
			if err != nil {
				result.Failed++
				unit.WithError(err).Warn("partner payload rejected")
				continue
			}
			if t.Len() == 0 {
				result.Skipped++
				unit.Info("empty partner payload")
				continue
			}
			if err := o.store.Put(ctx, key, body); err != nil {
				result.Failed++
				unit.WithError(err).Warn("partner cache write failed")
				continue
			}
			result.Success++
			unit.WithFields(logging.Fields{"rows": t.Len()}).Info("partners stored")
		}
	}
	return result
}

func (o *Orchestrator) runServicesPartners(ctx context.Context, log *logging.Entry) StageResult {
	result := StageResult{Stage: StageServicesPartners}
	log = log.WithFields(logging.Fields{"stage": StageServicesPartners})
	cfg := o.cfg.ServicesPartners
	o.pace(cfg.Interval)
	start, _ := o.quarterRange()

	for _, reporter := range cfg.Reporters {
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}
		reporter = strings.ToUpper(strings.TrimSpace(reporter))
		unit := log.WithFields(logging.Fields{"reporter": reporter})
		if o.partners.IsFresh(ctx, cache.PartnerKey(model.KindServicesPartners, reporter, model.FlowImport)) &&
			o.partners.IsFresh(ctx, cache.PartnerKey(model.KindServicesPartners, reporter, model.FlowExport)) {
			result.Reused++
			unit.Debug("using cached services partners")
			continue
		}

		body, err := o.fetcher.Fetch(ctx, providers.Query{
			Dataset:   eurostat.DatasetBOP,
			Frequency: model.PeriodQuarter,
			Reporters: []string{reporter},
			Partners:  cfg.Partners,
			Products:  []string{"S"},
			Flows:     bothFlows,
			Start:     start,
			Labels:    "id",
			Timeout:   cfg.Timeout,
		})
		if errors.Is(err, eurostat.ErrNoRecords) {
			result.Skipped++
			unit.Info("no services partner records")
			continue
		}
		if err != nil {
			result.Failed++
			unit.WithError(err).Warn("services partner fetch failed")
			continue
		}
		t, err := table.Parse(body)
		if err != nil {
			result.Failed++
			unit.WithError(err).Warn("services partner payload rejected")
			continue
		}

		written, err := o.storeServicesPartners(ctx, reporter, t, unit)
		switch {
		case err != nil:
			result.Failed++
			unit.WithError(err).Warn("services partner processing failed")
		case written == 0:
			result.Skipped++
			unit.Info("no services partner rows after interpolation")
		default:
			result.Success++
		}
	}
	return result
}

// storeServicesPartners interpolates one reporter's quarterly bilateral
// services to months and writes one artifact per flow. It returns the
// number of artifacts written.
func (o *Orchestrator) storeServicesPartners(ctx context.Context, reporter string, t *table.Table, log *logging.Entry) (int, error) {
	for _, name := range []string{"geo", "partner", "stk_flow", table.ColumnPeriod, table.ColumnValue} {
		if !t.HasColumns(name) {
			return 0, fmt.Errorf("%w: missing column %s", eurostat.ErrMalformedPayload, name)
		}
	}

	var points []interpolate.QuarterPoint
	unmapped := 0
	for _, record := range t.Rows {
		geo, ok := o.vocab.Translate(vocab.ServicesCountry, t.Cell(record, "geo"))
		if !ok || geo != reporter {
			unmapped++
			continue
		}
		partner, ok := o.vocab.Translate(vocab.ServicesCountry, t.Cell(record, "partner"))
		if !ok {
			unmapped++
			continue
		}
		flow, ok := model.ParseFlow(t.Cell(record, "stk_flow"))
		if !ok {
			unmapped++
			continue
		}
		points = append(points, interpolate.QuarterPoint{
			Partner: partner,
			Flow:    string(flow),
			Period:  t.Cell(record, table.ColumnPeriod),
			Value:   model.ParseAmount(t.Cell(record, table.ColumnValue)),
		})
	}

	smoothed := interpolate.Smooth(points)
	fields := logging.Fields{"points": len(smoothed.Points), "dropped": smoothed.Dropped, "unmapped": unmapped}
	if len(smoothed.Preserved) > 0 {
		fields["unparsed_periods"] = len(smoothed.Preserved)
	}
	log.WithFields(fields).Debug("services partners interpolated")
	if unmapped > 0 {
		log.WithFields(logging.Fields{"unmapped": unmapped}).Warn("unmapped services partner rows dropped")
	}

	byFlow := make(map[model.Flow]*table.Table)
	for _, p := range smoothed.Points {
		flow := model.Flow(p.Flow)
		out, ok := byFlow[flow]
		if !ok {
			out = table.New([]string{"reporter", "partner", table.ColumnPeriod, table.ColumnValue})
			byFlow[flow] = out
		}
		out.Append([]string{reporter, p.Partner, p.Month.String(), strconv.FormatFloat(p.Value, 'f', 2, 64)})
	}

	flows := make([]model.Flow, 0, len(byFlow))
	for flow := range byFlow {
		flows = append(flows, flow)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i] < flows[j] })

	for _, flow := range flows {
		data, err := byFlow[flow].Bytes()
		if err != nil {
			return 0, err
		}
		key := cache.PartnerKey(model.KindServicesPartners, reporter, flow)
		if err := o.store.Put(ctx, key, data); err != nil {
			return 0, err
		}
		log.WithFields(logging.Fields{"artifact": key.String(), "rows": byFlow[flow].Len()}).Info("services partners stored")
	}
	return len(flows), nil
}
