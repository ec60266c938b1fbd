package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/jimlawless/whereami"
)

type Config struct {
	Minio   *MinIOCfg
	Http    *HTTPConfig
	Db      *PGDBCfg
	Redis   *RedisCfg
	Kafka   *KafkaCfg
	Scraper *ScraperCfg
	Queue   *QueueCfg
	// MerchantsFile — путь к YAML-каталогу продавцов.
	MerchantsFile string
	// MigrationsURL — источник golang-migrate.
	MigrationsURL string
}

type KafkaCfg struct {
	Topic             string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type MinIOCfg struct {
	MinioEndpoint     string // Адрес конечной точки Minio
	BucketName        string // Бакет для снимков страниц без записей
	MinioRootUser     string // Имя пользователя для доступа к Minio
	MinioRootPassword string // Пароль для доступа к Minio
	MinioUseSSL       bool
	// Enabled выключает архив, если endpoint не задан.
	Enabled bool
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PGDBCfg struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisCfg struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	// RobotsTTL — срок хранения robots.txt в кэше.
	RobotsTTL time.Duration
}

// ScraperCfg — общие параметры вежливости и обхода; продавец может переопределить интервал и RPM.
type ScraperCfg struct {
	UserAgent          string
	ProxyURL           string
	MinInterval        time.Duration
	MaxRetries         int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	// Jitter — доля случайного разброса пауз повторов, от 0 до 1.
	Jitter             float64
	RequestTimeout     time.Duration
	RetryAfterFallback time.Duration
	MaxPages           int
	MaxRecords         int
}

type QueueCfg struct {
	Concurrency int
	// SyncInterval — период плановой полной синхронизации, 0 отключает планировщик.
	SyncInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	scraper, err := loadScraperCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	queue, err := loadQueueCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Minio:         minio,
		Http:          http,
		Db:            db,
		Redis:         redis,
		Kafka:         kafka,
		Scraper:       scraper,
		Queue:         queue,
		MerchantsFile: getEnvOrDefault("MERCHANTS_FILE", "config/merchants.yaml"),
		MigrationsURL: getEnvOrDefault("MIGRATIONS_URL", "file://db/migrations"),
	}, nil
}

func loadScraperCfg(log logger.Logger) (*ScraperCfg, error) {
	const (
		defaultUserAgent          = "PriceSyncBot/1.0 (+https://github.com/DRSN-tech/price-sync)"
		defaultMinInterval        = time.Second
		defaultMaxRetries         = 3
		defaultBackoffBase        = time.Second
		defaultBackoffMax         = 30 * time.Second
		defaultRequestTimeout     = 15 * time.Second
		defaultRetryAfterFallback = 60 * time.Second
		defaultMaxPages           = 50
		defaultJitter             = 0.5
	)

	c := &ScraperCfg{
		UserAgent: getEnvOrDefault("SCRAPER_USER_AGENT", defaultUserAgent),
		ProxyURL:  getEnv("SCRAPER_PROXY_URL"),
	}

	durations := []durationEnv{
		{"SCRAPER_MIN_INTERVAL", defaultMinInterval, &c.MinInterval},
		{"SCRAPER_BACKOFF_BASE", defaultBackoffBase, &c.BackoffBase},
		{"SCRAPER_BACKOFF_MAX", defaultBackoffMax, &c.BackoffMax},
		{"SCRAPER_REQUEST_TIMEOUT", defaultRequestTimeout, &c.RequestTimeout},
		{"SCRAPER_RETRY_AFTER_FALLBACK", defaultRetryAfterFallback, &c.RetryAfterFallback},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(d.key, d.def)
		if err != nil {
			log.Errorf(err, "invalid %s", d.key)
			return nil, err
		}
		*d.dst = v
	}

	var err error
	if c.MaxRetries, err = parseIntEnv("SCRAPER_MAX_RETRIES", defaultMaxRetries); err != nil {
		return nil, e.Wrap("SCRAPER_MAX_RETRIES", err)
	}
	if c.MaxPages, err = parseIntEnv("SCRAPER_MAX_PAGES", defaultMaxPages); err != nil {
		return nil, e.Wrap("SCRAPER_MAX_PAGES", err)
	}
	if c.MaxRecords, err = parseIntEnv("SCRAPER_MAX_RECORDS", 0); err != nil {
		return nil, e.Wrap("SCRAPER_MAX_RECORDS", err)
	}
	if c.Jitter, err = parseFloatEnv("SCRAPER_JITTER", defaultJitter); err != nil || c.Jitter < 0 || c.Jitter > 1 {
		return nil, e.Wrap("SCRAPER_JITTER", e.ErrIncorrectEnvVariable)
	}

	return c, nil
}

type durationEnv struct {
	key string
	def time.Duration
	dst *time.Duration
}

func loadQueueCfg(log logger.Logger) (*QueueCfg, error) {
	const (
		defaultConcurrency     = 3
		defaultSyncInterval    = 6 * time.Hour
		defaultShutdownTimeout = 30 * time.Second
	)

	concurrency, err := parseIntEnv("QUEUE_CONCURRENCY", defaultConcurrency)
	if err != nil {
		return nil, e.Wrap("QUEUE_CONCURRENCY", err)
	}

	syncInterval, err := parseDurationEnv("SYNC_INTERVAL", defaultSyncInterval)
	if err != nil {
		log.Errorf(err, "invalid SYNC_INTERVAL")
		return nil, err
	}

	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	if err != nil {
		log.Errorf(err, "invalid SHUTDOWN_TIMEOUT")
		return nil, err
	}

	return &QueueCfg{
		Concurrency:     concurrency,
		SyncInterval:    syncInterval,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}
	brokers := strings.Split(brokerStr, ",")

	topic := getEnvOrDefault("KAFKA_TOPIC", "listing-changes")

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	networkMode := getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode)

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             topic,
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       networkMode,
	}, nil
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	const (
		defaultUseSSL = false
		defaultBucket = "page-snapshots"
	)

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", strconv.FormatBool(defaultUseSSL)))
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	endpoint := getEnv("MINIO_ENDPOINT")

	return &MinIOCfg{
		MinioEndpoint:     endpoint,
		BucketName:        getEnvOrDefault("BUCKET_NAME", defaultBucket),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
		Enabled:           endpoint != "",
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8080"
		defaultReadTimeout  = 5 * time.Second
		defaultWriteTimeout = 10 * time.Second
		defaultIdleTimeout  = 60 * time.Second
	)

	port := getEnvOrDefault("HTTP_PORT", defaultPort)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:         port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost    = "localhost"
		defaultPort    = "5432"
		defaultSSLMode = "disable"
	)

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:     getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:     getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:     user,
		Password: password,
		DBName:   dbName,
		SSLMode:  getEnvOrDefault("SSL_MODE", defaultSSLMode),
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr         = "localhost:6379"
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
		defaultRobotsTTL    = 24 * time.Hour
	)

	addr := getEnvOrDefault("REDIS_ADDR", defaultAddr)
	password := getEnv("REDIS_PASSWORD")
	user := getEnv("REDIS_USER")

	dbStr := getEnvOrDefault("REDIS_DB_ID", strconv.Itoa(defaultDB))
	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetriesStr := getEnvOrDefault("MAX_RETRIES", strconv.Itoa(defaultMaxRetries))
	maxRetries, err := strconv.Atoi(maxRetriesStr)
	if err != nil {
		log.Errorf(err, "invalid MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	robotsTTL, err := parseDurationEnv("ROBOTS_TTL", defaultRobotsTTL)
	if err != nil {
		log.Errorf(err, "invalid ROBOTS_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:        addr,
		Password:    password,
		User:        user,
		DB:          db,
		MaxRetries:  maxRetries,
		DialTimeout: dialTimeout,
		Timeout:     timeout,
		RobotsTTL:   robotsTTL,
	}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return f, nil
}
