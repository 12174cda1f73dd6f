package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/MedLedger/config"
	"github.com/BearBump/MedLedger/internal/api/identity"
	"github.com/BearBump/MedLedger/internal/api/medications_api"
	"github.com/BearBump/MedLedger/internal/broker/kafka"
	"github.com/BearBump/MedLedger/internal/cache/rediscache"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	ledgerfake "github.com/BearBump/MedLedger/internal/integrations/ledger/fake"
	"github.com/BearBump/MedLedger/internal/integrations/ledger/gatewayhttp"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/BearBump/MedLedger/internal/services/custody"
	"github.com/BearBump/MedLedger/internal/storage/pgcustody"
)

type medAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    medAPIOpts
	api     *medications_api.MedicationsAPI
	closeDB func()
}

func mustBootstrapMedAPI() *medAPIApp {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.MedLedger.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.CustodyChangedTopicName
	if topic == "" {
		topic = "custody.changed"
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	svc := custody.New(newLedgerClient(cfg), st, custody.NewAuthorizer(custody.AuthorizerConfig{
		ArrivalRoles: cfg.MedLedger.ArrivalRoles,
	}))

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	svc = svc.WithProducer(kafka.NewProducer(brokers), topic)

	if cfg.MedLedger.BatchItemTimeoutSeconds > 0 {
		svc = svc.WithItemTimeout(time.Duration(cfg.MedLedger.BatchItemTimeoutSeconds) * time.Second)
	}

	api := medications_api.New(svc, newResolver(cfg))
	if cfg.MedLedger.BatchRateLimitPerMinute > 0 {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		api = api.WithRateLimiter(rediscache.NewRateLimiter(redisAddr), int64(cfg.MedLedger.BatchRateLimitPerMinute))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &medAPIApp{
		ctx:     ctx,
		cancel:  cancel,
		opts:    medAPIOpts{httpAddr: httpAddr},
		api:     api,
		closeDB: st.Close,
	}
}

// newLedgerClient подключает HTTP-шлюз леджера. Без base_url используется
// локальный in-memory леджер: удобно для демо без внешнего gateway.
func newLedgerClient(cfg *config.Config) ledger.Client {
	if cfg.Ledger.GatewayBaseURL != "" {
		return gatewayhttp.New(cfg.Ledger.GatewayBaseURL, cfg.Ledger.APIKey)
	}
	return ledgerfake.New()
}

func newResolver(cfg *config.Config) identity.Resolver {
	actors := make(map[string]models.Actor, len(cfg.Actors))
	for _, a := range cfg.Actors {
		actors[a.APIKey] = models.Actor{
			Username:       a.Username,
			CompanyType:    a.CompanyType,
			CompanyName:    a.CompanyName,
			ApprovalStatus: a.ApprovalStatus,
		}
	}
	return identity.NewStaticResolver(actors)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgcustody.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgcustody.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *medAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *medAPIApp) Run() error {
	return runMedAPI(a.ctx, a.opts, a.api)
}
