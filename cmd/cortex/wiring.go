package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/adapter/cron"
	"github.com/cortexlabs/cortex/adapter/webchat"
	"github.com/cortexlabs/cortex/contextassembler"
	"github.com/cortexlabs/cortex/internal/config"
	"github.com/cortexlabs/cortex/loop"
	"github.com/cortexlabs/cortex/observability"
	"github.com/cortexlabs/cortex/router"
	"github.com/cortexlabs/cortex/storage/sqlite"
)

// components bundles every collaborator shared across the serve, recover,
// and router-watch subcommands so each only wires what it actually runs.
type components struct {
	cfg      config.Config
	store    *sqlite.Store
	logger   *slog.Logger
	tracer   cortex.Tracer
	metrics  *observability.Metrics
	registry *prometheus.Registry
}

func newComponents(ctx context.Context, cfg config.Config, logger *slog.Logger) (*components, func(), error) {
	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}

	tp, shutdownTracing, err := observability.Init(ctx)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	c := &components{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		tracer:   observability.NewTracer(tp),
		metrics:  observability.NewMetrics(reg),
		registry: reg,
	}

	cleanup := func() {
		_ = shutdownTracing(context.Background())
		store.Close()
	}
	return c, cleanup, nil
}

// buildRouter wires the Evaluator/Dispatcher/Worker/Notifier/Router per
// cfg.Router, calling model for both evaluation and execution.
func (c *components) buildRouter(model cortex.ModelFunc) *router.Router {
	evalFn := func(ctx context.Context, payloadText string) (string, error) {
		resp, err := model(ctx, cortex.ChatRequest{Messages: []cortex.ChatMessage{
			cortex.SystemMessage("Rate the complexity of the following task on a 1-10 scale. Respond with JSON: {\"weight\": <int>, \"reasoning\": \"<string>\"}."),
			cortex.UserMessage(payloadText),
		}})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	evaluator := router.NewEvaluator(evalFn, time.Duration(c.cfg.Router.EvaluatorTimeoutSeconds)*time.Second, c.cfg.Router.FallbackWeight)

	tierModels := make(map[router.Tier]string, len(c.cfg.Router.TierModels))
	for tier, m := range c.cfg.Router.TierModels {
		tierModels[router.Tier(tier)] = m
	}
	dispatcher := router.NewDispatcher(router.WithTierModels(tierModels))

	notifier := router.NewNotifier()

	executor := func(ctx context.Context, prompt, modelName string) (string, error) {
		resp, err := model(ctx, cortex.ChatRequest{Messages: []cortex.ChatMessage{cortex.UserMessage(prompt)}})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	worker := router.NewWorker(c.store, executor, notifier)

	// RouterLatency is observed on delivery, the only point a job's full
	// dispatch-to-delivery span is known; RouterInFlight would need a
	// dispatch-time hook the Router doesn't currently expose (Notifier only
	// fires on terminal delivery/failure), so it stays registered but
	// unincremented here — see DESIGN.md.
	notifier.OnDelivered(func(job router.Job) {
		if job.DeliveredAt != nil {
			c.metrics.RouterLatency.WithLabelValues(string(job.Tier), "completed").Observe(job.DeliveredAt.Sub(job.CreatedAt).Seconds())
		}
	})
	// sessions_spawn jobs are always issued with router.IssuerCortex, so
	// CortexDelivery/CortexFailureDelivery is the only delivery path this
	// process needs — there is no other issuer in this binary. Both look
	// the pending op back up by job id to recover the reply channel the
	// Loop recorded when it dispatched the tool call.
	replyChannelFor := func(jobID string) string {
		op, err := c.store.GetPendingOp(context.Background(), jobID)
		if err != nil || op.ReplyChannel == "" {
			return "router"
		}
		return op.ReplyChannel
	}
	notifier.OnDelivered(router.CortexDelivery(c.store, c.store, func(job router.Job) string { return replyChannelFor(job.ID) }))
	notifier.OnFailed(router.CortexFailureDelivery(c.store, c.store, replyChannelFor))

	return router.New(router.Config{
		Store:        c.store,
		Evaluator:    evaluator,
		Dispatcher:   dispatcher,
		Worker:       worker,
		Notifier:     notifier,
		RetryDelay:   time.Duration(c.cfg.Router.RetryDelaySeconds) * time.Second,
		PollInterval: time.Duration(c.cfg.Router.PollIntervalSeconds) * time.Second,
		Logger:       c.logger,
		Tracer:       c.tracer,
	})
}

// buildAdapters registers a cron and a webchat adapter, each gated by its
// configured channel mode, plus a chi router serving webchat's upgrade
// endpoint. The Prometheus /metrics endpoint is not mounted here;
// mountMetrics adds it to the returned router.
func (c *components) buildAdapters(bus cortex.Bus, onEnvelope func(context.Context, cortex.Envelope)) (*cortex.AdapterRegistry, *cron.Adapter, *webchat.Adapter, chi.Router) {
	registry := cortex.NewAdapterRegistry()

	cronInner := cron.New(bus, time.Duration(c.cfg.Cron.IntervalSeconds)*time.Second, c.logger)
	registry.Register(newModeAdapter(cronInner, c.cfg.Channels.ModeFor(cron.ChannelID), c.logger))

	webchatInner := webchat.New(onEnvelope, c.logger)
	registry.Register(newModeAdapter(webchatInner, c.cfg.Channels.ModeFor(webchat.ChannelID), c.logger))

	r := chi.NewRouter()
	webchatInner.Mount(r)

	return registry, cronInner, webchatInner, r
}

// buildLoop wires the Processing Loop against store (as Bus/SessionStore/
// Hippocampus), a ToolRegistry carrying sessions_spawn (dispatching onto
// rt), the given model and adapters.
func (c *components) buildLoop(model cortex.ModelFunc, adapters *cortex.AdapterRegistry, rt *router.Router) *loop.Loop {
	assembler := contextassembler.New(c.store, c.store, c.cfg.Brain.WorkspacePath, assemblerOptions(c.logger)...)

	tools := cortex.NewToolRegistry()
	tools.AddSync(newFetchChatHistoryTool(c.store))
	tools.AddSync(newMemoryQueryTool(c.store, newEmbedder(c.cfg.LLM), c.cfg.Brain.VectorTopK))
	tools.AddAsync(newSpawnTool(rt))

	return loop.New(loop.Config{
		Bus:                c.store,
		Sessions:           c.store,
		Assembler:          assembler,
		Tools:              tools,
		Model:              model,
		Adapters:           adapters,
		HippocampusEnabled: c.cfg.Channels.Hippocampus.Enabled,
		MaxTokens:          c.cfg.Brain.MaxTokens,
		Logger:             c.logger,
		Tracer:             c.tracer,
	})
}

func assemblerOptions(logger *slog.Logger) []contextassembler.Option {
	if counter := newTokenCounter(logger); counter != nil {
		return []contextassembler.Option{contextassembler.WithTokenCounter(counter)}
	}
	return nil
}

// mountMetrics registers the Prometheus /metrics endpoint alongside r's
// webchat routes on the same HTTP server.
func (c *components) mountMetrics(r chi.Router) {
	r.Handle("/metrics", observability.Handler(c.registry))
}

// pollBusDepth refreshes cortex_bus_pending every 5s until ctx is
// cancelled. The Bus exposes no "currently processing" count, so
// cortex_bus_processing stays registered but undriven by this process —
// it is still observable by anything wired through loop.Config.Bus
// directly, a gap to close if that count becomes available.
func (c *components) pollBusDepth(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.store.CountPending(ctx); err == nil {
				c.metrics.BusPending.Set(float64(n))
			}
		}
	}
}
