package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"loan-review-workers/internal/common/aws"
	"loan-review-workers/internal/common/camunda"
	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/common/database"
	"loan-review-workers/internal/common/logger"
	"loan-review-workers/internal/lock"
	"loan-review-workers/internal/review"
	"loan-review-workers/internal/search"
	"loan-review-workers/internal/store"
	"loan-review-workers/pkg/registry"

	nro "loan-review-workers/internal/workers/notification/notify-review-outcome"
	gpd "loan-review-workers/internal/workers/proposal/get-proposal-detail"
	lp "loan-review-workers/internal/workers/proposal/list-proposals"
	rd "loan-review-workers/internal/workers/proposal/record-decision"
	sp "loan-review-workers/internal/workers/proposal/search-proposals"
	sub "loan-review-workers/internal/workers/proposal/submit-proposal"
)

type healthCheck func(ctx context.Context) error

// app holds everything the workers share: the review service, its backends
// and the readiness checks for each of them.
type app struct {
	service *review.Service
	index   *search.Index
	email   aws.EmailAPI
	sms     aws.SMSAPI

	mu      sync.Mutex
	checks  map[string]healthCheck
	closers []func() error
	started []string
}

func buildApp(ctx context.Context, cfg *config.Config, log logger.Logger, tracer trace.Tracer) (*app, error) {
	a := &app{checks: make(map[string]healthCheck)}

	repo, err := a.repository(ctx, cfg, log)
	if err != nil {
		a.close(log)
		return nil, err
	}

	locker, err := a.locker(ctx, cfg, log)
	if err != nil {
		a.close(log)
		return nil, err
	}

	var indexer review.Indexer
	if cfg.Search.Enabled {
		if err := a.searchIndex(ctx, cfg, log); err != nil {
			a.close(log)
			return nil, err
		}
		indexer = a.index
	}

	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		sesClient, snsClient, err := aws.Clients(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			a.close(log)
			return nil, err
		}
		a.email, a.sms = sesClient, snsClient
	}

	a.service, err = review.NewService(review.ServiceOptions{
		Repository:  repo,
		Locker:      locker,
		LockBackend: cfg.Review.LockBackend,
		LockWait:    config.GetDuration(cfg.Review.LockWait),
		Indexer:     indexer,
		Logger:      log,
		Tracer:      tracer,
	})
	if err != nil {
		a.close(log)
		return nil, err
	}
	return a, nil
}

func (a *app) repository(ctx context.Context, cfg *config.Config, log logger.Logger) (review.Repository, error) {
	if cfg.Review.StoreBackend != config.StoreBackendPostgres {
		log.Warn("Using the in-memory proposal store; proposals are lost on restart", nil)
		return store.NewMemoryStore(), nil
	}

	var pg *database.PostgresClient
	err := retryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	a.addCheck("postgres", pg.Ping)

	if cfg.Database.Postgres.RunMigrations {
		if err := store.ApplyMigrations(ctx, pg.DB); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("Database migrations applied", nil)
	}
	log.Info("PostgreSQL connected successfully", nil)
	return store.NewPostgresStore(pg.DB), nil
}

func (a *app) locker(ctx context.Context, cfg *config.Config, log logger.Logger) (lock.Locker, error) {
	if cfg.Review.LockBackend != config.LockBackendRedis {
		return lock.NewKeyedMutex(), nil
	}

	rdb := database.NewRedis(cfg.Database.Redis)
	a.closers = append(a.closers, rdb.Close)
	err := retryWithBackoff(ctx, rdb.Ping, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		return nil, err
	}
	a.addCheck("redis", rdb.Ping)
	log.Info("Redis connected successfully", nil)

	return lock.NewRedisLocker(rdb.Client,
		lock.WithPrefix(cfg.Review.LockPrefix),
		lock.WithTTL(config.GetDuration(cfg.Review.LockTTL)),
		lock.WithPollInterval(config.GetDuration(cfg.Review.LockPoll)),
	), nil
}

func (a *app) searchIndex(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	var es *database.ElasticsearchClient
	err := retryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, log, "Elasticsearch connection")
	if err != nil {
		return err
	}
	a.addCheck("elasticsearch", es.Ping)

	a.index = search.NewIndex(es.Client, cfg.Search)
	if err := a.index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("prepare search index: %w", err)
	}
	log.Info("Elasticsearch connected successfully", map[string]interface{}{"index": a.index.Name()})
	return nil
}

func (a *app) addCheck(name string, check healthCheck) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks[name] = check
}

// handlers builds every enabled worker handler keyed by task type.
func (a *app) handlers(cfg *config.Config, log logger.Logger) (map[string]camunda.JobHandler, error) {
	out := make(map[string]camunda.JobHandler)

	add := func(taskType string, build func() (camunda.JobHandler, error)) error {
		if !config.IsWorkerEnabled(cfg, taskType) {
			log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
			return nil
		}
		h, err := build()
		if err != nil {
			return fmt.Errorf("failed to create %s handler: %w", taskType, err)
		}
		out[taskType] = h
		return nil
	}

	steps := []struct {
		taskType string
		build    func() (camunda.JobHandler, error)
	}{
		{sub.TaskType, func() (camunda.JobHandler, error) {
			return sub.NewHandler(sub.HandlerOptions{AppConfig: cfg, Service: a.service, Logger: log})
		}},
		{rd.TaskType, func() (camunda.JobHandler, error) {
			return rd.NewHandler(rd.HandlerOptions{AppConfig: cfg, Service: a.service, Logger: log})
		}},
		{lp.TaskType, func() (camunda.JobHandler, error) {
			return lp.NewHandler(lp.HandlerOptions{AppConfig: cfg, Service: a.service, Logger: log})
		}},
		{gpd.TaskType, func() (camunda.JobHandler, error) {
			return gpd.NewHandler(gpd.HandlerOptions{AppConfig: cfg, Service: a.service, Logger: log})
		}},
		{nro.TaskType, func() (camunda.JobHandler, error) {
			return nro.NewHandler(nro.HandlerOptions{AppConfig: cfg, Service: a.service, Email: a.email, SMS: a.sms, Logger: log})
		}},
	}
	if a.index != nil {
		steps = append(steps, struct {
			taskType string
			build    func() (camunda.JobHandler, error)
		}{sp.TaskType, func() (camunda.JobHandler, error) {
			return sp.NewHandler(sp.HandlerOptions{AppConfig: cfg, Searcher: a.index, Logger: log})
		}})
	} else {
		log.Info("search disabled, not starting worker", map[string]interface{}{"taskType": sp.TaskType})
	}

	for _, step := range steps {
		if err := add(step.taskType, step.build); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *app) startWorkers(client zbc.Client, cfg *config.Config, log logger.Logger) ([]*camunda.CamundaWorker, error) {
	handlers, err := a.handlers(cfg, log)
	if err != nil {
		return nil, err
	}

	taskTypes := make([]string, 0, len(handlers))
	for tt := range handlers {
		taskTypes = append(taskTypes, tt)
	}
	sort.Strings(taskTypes)

	workers := make([]*camunda.CamundaWorker, 0, len(taskTypes))
	for _, tt := range taskTypes {
		workers = append(workers, camunda.StartWorker(client, tt, config.GetWorkerConfig(cfg, tt), handlers[tt], log))
	}
	a.started = taskTypes
	log.Info("workers registered", map[string]interface{}{"count": len(workers), "taskTypes": taskTypes})
	return workers, nil
}

// warnUnregistered reports started task types the activity registry does not describe.
func (a *app) warnUnregistered(path string, log logger.Logger) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		log.Warn("activity registry unavailable", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	for _, tt := range reg.Missing(a.started) {
		log.Warn("worker is not described in the activity registry", map[string]interface{}{"taskType": tt, "path": path})
	}
}

func (a *app) httpServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", a.ready)
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ready runs every backend check; any failure makes the manager not ready.
func (a *app) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	a.mu.Lock()
	checks := make(map[string]healthCheck, len(a.checks))
	for name, check := range a.checks {
		checks[name] = check
	}
	a.mu.Unlock()

	status := http.StatusOK
	results := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (a *app) close(log logger.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error("error closing backend", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
