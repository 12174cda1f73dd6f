package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	MedLedger MedLedgerConfig `yaml:"medledger"`
	Actors    []ActorConfig   `yaml:"actors"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	CustodyChangedTopicName string `yaml:"custody_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LedgerConfig — доступ к HTTP-шлюзу леджера.
type LedgerConfig struct {
	GatewayBaseURL string `yaml:"gateway_base_url"`
	APIKey         string `yaml:"api_key"`
}

type MedLedgerConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	BatchRateLimitPerMinute int `yaml:"batch_rate_limit_per_minute"`
	BatchItemTimeoutSeconds int `yaml:"batch_item_timeout_seconds"`

	// Роли, которым разрешён arrived. Пусто — pharmacy и clinic.
	ArrivalRoles []string `yaml:"arrival_roles"`

	WorkerHTTPAddr             string `yaml:"worker_http_addr"`
	WorkerSweepIntervalSeconds int    `yaml:"worker_sweep_interval_seconds"`
	WorkerConcurrency          int    `yaml:"worker_concurrency"`
}

// ActorConfig — статическая таблица API-ключей.
type ActorConfig struct {
	APIKey         string `yaml:"api_key"`
	Username       string `yaml:"username"`
	CompanyType    string `yaml:"company_type"`
	CompanyName    string `yaml:"company_name"`
	ApprovalStatus string `yaml:"approval_status"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
