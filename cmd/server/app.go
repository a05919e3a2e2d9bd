package main

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"waqf-reconciliation-backend/internal/config"
	"waqf-reconciliation-backend/internal/lock"
	"waqf-reconciliation-backend/internal/models"
	"waqf-reconciliation-backend/internal/queue"
	"waqf-reconciliation-backend/internal/repository"
	"waqf-reconciliation-backend/internal/services/distribution"
	"waqf-reconciliation-backend/internal/services/matching"
	"waqf-reconciliation-backend/internal/services/reconciliation"
)

// app holds the stores and services shared by the serve and worker commands.
type app struct {
	cnf            *config.Configuration
	db             *gorm.DB
	redis          redis.UniversalClient
	tasks          *asynq.Client
	ledger         *repository.LedgerEntryRepository
	reconciliation *reconciliation.Service
	distribution   *distribution.Service
}

func newApp() (*app, error) {
	cnf, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.InitLogger(cnf.Log); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	db, err := config.InitDB(cnf.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&models.LedgerEntry{},
		&models.ReconciliationSession{},
		&models.BankTransaction{},
		&models.Match{},
		&models.ReconcilingItem{},
		&models.MatchAuditLog{},
		&models.DistributionJob{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	rdb := config.InitRedis(cnf.Redis)
	locks := lock.NewManager(rdb, "waqf:lock", cnf.Lock.TTL, cnf.Lock.Wait)
	tasks := asynq.NewClient(queue.RedisConnOpt(cnf.Redis))
	ledger := repository.NewLedgerEntryRepository(db)

	recon := reconciliation.NewService(
		repository.NewSessionRepository(db),
		ledger,
		locks,
		reconciliation.ServiceConfig{
			Session: reconciliation.SessionConfig{
				Matching: matching.Config{
					AutoMatchThreshold: cnf.Matching.AutoMatchThreshold,
					DateToleranceDays:  cnf.Matching.DateToleranceDays,
				},
				EpsilonMinor: cnf.Matching.EpsilonMinor,
			},
			CandidateWindowDays: cnf.Matching.CandidateWindowDays,
		},
	)

	dist := distribution.NewService(
		repository.NewDistributionRepository(db),
		queue.New(tasks),
		locks,
		distribution.NewRedisPauseSignal(rdb, cnf.Distribution.PauseTTL),
		distribution.NewHTTPGateway(cnf.Gateway.BaseURL, cnf.Gateway.APIKey, cnf.Gateway.Timeout),
		distribution.ServiceConfig{
			BatchSize: cnf.Distribution.BatchSize,
			Processor: processorConfig(cnf.Distribution),
		},
	)

	return &app{
		cnf:            cnf,
		db:             db,
		redis:          rdb,
		tasks:          tasks,
		ledger:         ledger,
		reconciliation: recon,
		distribution:   dist,
	}, nil
}

func processorConfig(cnf config.DistributionConfig) distribution.ProcessorConfig {
	pc := distribution.ProcessorConfig{
		Concurrency:  cnf.Concurrency,
		RetryBackoff: cnf.RetryBackoff,
		ItemTimeout:  cnf.ItemTimeout,
	}
	if cnf.AutoRetries != nil {
		pc.AutoRetries = *cnf.AutoRetries
	}
	return pc
}

func (a *app) close() {
	_ = a.tasks.Close()
	_ = a.redis.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
