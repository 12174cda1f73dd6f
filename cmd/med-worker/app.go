package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/MedLedger/config"
	"github.com/BearBump/MedLedger/internal/broker/kafka"
	"github.com/BearBump/MedLedger/internal/broker/messages"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	ledgerfake "github.com/BearBump/MedLedger/internal/integrations/ledger/fake"
	"github.com/BearBump/MedLedger/internal/integrations/ledger/gatewayhttp"
	"github.com/BearBump/MedLedger/internal/services/verifier"
	"github.com/BearBump/MedLedger/internal/storage/pgcustody"
)

type kafkaConsumer interface {
	ConsumeCustodyChanged(ctx context.Context, handler func(m messages.CustodyChanged) error) error
	Close() error
}

type workerFactories struct {
	newStorage      func(cfg *config.Config) (repo verifier.Repository, closeFn func(), err error)
	newLedgerClient func(cfg *config.Config) ledger.Client
	newConsumer     func(cfg *config.Config, topic string) kafkaConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (verifier.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgcustody.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newLedgerClient: func(cfg *config.Config) ledger.Client {
			if cfg.Ledger.GatewayBaseURL != "" {
				return gatewayhttp.New(cfg.Ledger.GatewayBaseURL, cfg.Ledger.APIKey)
			}
			return ledgerfake.New()
		},
		newConsumer: func(cfg *config.Config, topic string) kafkaConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			group := cfg.MedLedger.KafkaConsumerGroup
			if group == "" {
				group = "med-worker"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

func RunMedWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.CustodyChangedTopicName
	if topic == "" {
		topic = "custody.changed"
	}

	sweepInterval := time.Duration(cfg.MedLedger.WorkerSweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	concurrency := cfg.MedLedger.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	v := verifier.New(f.newLedgerClient(cfg), repo).
		WithSettings(sweepInterval, concurrency)

	consumer := f.newConsumer(cfg, topic)
	defer func() { _ = consumer.Close() }()

	// Событие custody.changed даёт точечную проверку без ожидания
	// планового прохода.
	go runConsumerLoop(ctx, consumer, v, topic, 5*time.Second)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: cfg.MedLedger.WorkerHTTPAddr,
			verifier: v,
			cfg:      cfg,
		})
	}()

	verifierErr := make(chan error, 1)
	go func() {
		verifierErr <- v.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-verifierErr:
		return err
	case err := <-httpErr:
		return err
	}
}

// runConsumerLoop держит консьюмер живым до отмены контекста: выход из
// ConsumeCustodyChanged логируется и чтение возобновляется после паузы,
// чтобы одна ошибка хэндлера не убила событийную проверку навсегда.
func runConsumerLoop(ctx context.Context, consumer kafkaConsumer, v *verifier.Verifier, topic string, backoff time.Duration) {
	slog.Info("kafka consumer started", "topic", topic)
	for {
		err := consumer.ConsumeCustodyChanged(ctx, func(m messages.CustodyChanged) error {
			return v.VerifySerial(ctx, m.SerialNumber)
		})
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consumer exited, restarting", "topic", topic, "error", err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
