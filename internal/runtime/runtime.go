package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/norish-recipes/norish-sub000/internal/bus"
	"github.com/norish-recipes/norish-sub000/internal/config"
	"github.com/norish-recipes/norish-sub000/internal/events"
	"github.com/norish-recipes/norish-sub000/internal/jobqueue"
	"github.com/norish-recipes/norish-sub000/internal/scheduler"
	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
	"github.com/norish-recipes/norish-sub000/internal/syncstate"
	"github.com/norish-recipes/norish-sub000/internal/visibility"
	"github.com/norish-recipes/norish-sub000/internal/worker"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// Options configures runtime construction.
type Options struct {
	DataDir string
	Config  config.Config
	Logger  log.Logger
	Fsync   pebblestore.FsyncMode
	// FsyncInterval is the group-commit window for FsyncModeInterval.
	FsyncInterval time.Duration
	// PollEvery overrides the worker polling interval (tests).
	PollEvery time.Duration
}

type poolEntry struct {
	handler worker.Handler
	cb      worker.Callbacks
	pool    *worker.Pool
}

// Runtime owns the storage, bus, queues, pools, and scheduler of one node.
// Everything hangs off this value; there are no package-level singletons.
type Runtime struct {
	logger log.Logger
	cfg    config.Config
	opts   Options

	db      *pebblestore.DB
	bus     *bus.Bus
	router  *visibility.Router
	tracker *syncstate.Tracker
	sched   *scheduler.Scheduler

	queues map[string]*jobqueue.Queue
	gates  map[string]*jobqueue.Gate
	pools  map[string]*poolEntry

	started bool
}

// Open builds the runtime: storage, bus, policy router, sync tracker, the
// queue catalog, and the maintenance schedule. Nothing runs until Start.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	cfg := opts.Config

	policy, err := visibility.ParsePolicy(cfg.VisibilityPolicy)
	if err != nil {
		return nil, err
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open storage: %w", err)
	}

	b := bus.New(logger)
	rt := &Runtime{
		logger:  logger.WithComponent("runtime"),
		cfg:     cfg,
		opts:    opts,
		db:      db,
		bus:     b,
		router:  visibility.NewRouter(b, policy, logger),
		sched:   scheduler.New(logger),
		queues:  make(map[string]*jobqueue.Queue),
		gates:   make(map[string]*jobqueue.Gate),
		pools:   make(map[string]*poolEntry),
	}
	rt.tracker = syncstate.NewTracker(db, rt.router, cfg.SyncErrorMaxBytes, logger)

	for _, spec := range Catalog {
		q, err := jobqueue.Open(db, spec.Name, jobqueue.Options{
			MaxAttempts: cfg.Queue.MaxAttempts,
			LeaseMs:     cfg.Queue.LeaseMs,
			SweepEvery:  time.Duration(cfg.Queue.SweepEveryMs) * time.Millisecond,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.queues[spec.Name] = q
		rt.gates[spec.Name] = jobqueue.NewGate(q, nil)
	}

	rt.RegisterHandler(QueueMaintenance, rt.runMaintenance, worker.Callbacks{})
	if err := rt.sched.Register(maintenanceEntryName, cfg.MaintenanceSpec, rt.enqueueMaintenance); err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

// Accessors for the wired components.
func (rt *Runtime) Bus() *bus.Bus                 { return rt.bus }
func (rt *Runtime) Router() *visibility.Router    { return rt.router }
func (rt *Runtime) Tracker() *syncstate.Tracker   { return rt.tracker }
func (rt *Runtime) Logger() log.Logger            { return rt.logger }
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }

// Queue returns the named queue, or nil for names outside the catalog.
func (rt *Runtime) Queue(name string) *jobqueue.Queue { return rt.queues[name] }

// Gate returns the admission gate for the named queue.
func (rt *Runtime) Gate(name string) *jobqueue.Gate { return rt.gates[name] }

// SetExistsFunc installs the domain existence check for one queue's gate.
func (rt *Runtime) SetExistsFunc(queue string, fn jobqueue.ExistsFunc) {
	if q, ok := rt.queues[queue]; ok {
		rt.gates[queue] = jobqueue.NewGate(q, fn)
	}
}

// RegisterHandler installs the handler (and outcome callbacks) for one
// queue's worker pool. Must be called before Start; queues without a handler
// accept jobs but do not consume them.
func (rt *Runtime) RegisterHandler(queue string, h worker.Handler, cb worker.Callbacks) {
	if _, ok := rt.queues[queue]; !ok {
		rt.logger.Warn("handler for unknown queue ignored", log.Str("queue", queue))
		return
	}
	rt.pools[queue] = &poolEntry{handler: h, cb: cb}
}

// Start launches sweepers, worker pools, and the cron scheduler.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.started {
		return nil
	}
	rt.started = true

	pollEvery := rt.opts.PollEvery
	backoff := worker.Backoff{BaseMs: rt.cfg.Queue.BackoffBaseMs, CapMs: rt.cfg.Queue.BackoffCapMs}
	for name, entry := range rt.pools {
		spec, _ := catalogSpec(name)
		entry.pool = worker.NewPool(rt.queues[name], entry.handler, worker.PoolOptions{
			Concurrency: spec.Concurrency,
			PollEvery:   pollEvery,
			Backoff:     backoff,
			Logger:      rt.logger,
		}, entry.cb)
		entry.pool.Start(ctx)
	}
	for _, q := range rt.queues {
		q.StartSweeper()
	}
	rt.sched.Start()
	rt.logger.Info("runtime started",
		log.Int("queues", len(rt.queues)),
		log.Int("pools", len(rt.pools)),
		log.Str("policy", string(rt.router.Policy())))
	return nil
}

// Close drains workers within the configured grace period, then stops the
// scheduler and sweepers and closes storage.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.started {
		grace := time.Duration(rt.cfg.ShutdownGraceMs) * time.Millisecond
		drainCtx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()
		for name, entry := range rt.pools {
			if entry.pool == nil {
				continue
			}
			if err := entry.pool.Stop(drainCtx); err != nil {
				rt.logger.Warn("pool drain incomplete, leases left for the sweeper",
					log.Str("queue", name), log.Err(err))
			}
		}
		_ = rt.sched.Stop(drainCtx)
		for _, q := range rt.queues {
			q.StopSweeper()
		}
		rt.started = false
	}
	return rt.db.Close()
}

// enqueueMaintenance is the cron entry: one maintenance job per day, deduped
// by date so overlapping schedulers (or a restart mid-day) enqueue nothing.
func (rt *Runtime) enqueueMaintenance() {
	jobID := "maintenance_" + time.Now().UTC().Format("2006-01-02")
	d, err := rt.gates[QueueMaintenance].Admit(context.Background(), jobID, nil, jobqueue.EnqueueOptions{MaxAttempts: 1})
	if err != nil {
		rt.logger.Error("maintenance enqueue failed", log.Err(err))
		return
	}
	rt.logger.Info("maintenance job admitted", log.Str("jobId", jobID), log.Str("status", string(d.Status)))
}

// runMaintenance reclaims stale leases across all queues, audits sync
// records, and announces the run on the global channel.
func (rt *Runtime) runMaintenance(ctx context.Context, _ *jobqueue.Job) error {
	reclaimed := 0
	for name, q := range rt.queues {
		n, err := q.ReclaimExpired(ctx, 0, 0)
		if err != nil {
			return fmt.Errorf("reclaim %s: %w", name, err)
		}
		reclaimed += n
	}
	audited, err := rt.auditSyncRecords()
	if err != nil {
		return err
	}

	payload, err := events.Encode(events.MaintenanceCompletedPayload{
		ReclaimedJobs:  reclaimed,
		AuditedRecords: audited,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	rt.router.EmitGlobal(events.MaintenanceCompleted, payload)
	rt.logger.Info("maintenance completed",
		log.Int("reclaimedJobs", reclaimed),
		log.Int("auditedRecords", audited))
	return nil
}

// auditSyncRecords walks the sync keyspace and counts live records.
func (rt *Runtime) auditSyncRecords() (int, error) {
	lo := []byte("sync/")
	hi := []byte("sync/\xff")
	iter, err := rt.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		count++
	}
	return count, nil
}
