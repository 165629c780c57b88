package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Access       AccessConfig       `mapstructure:"access"`
	Sweep        SweepConfig        `mapstructure:"sweep"`
	Lock         LockConfig         `mapstructure:"lock"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// CORSConfig 运维控制台的跨域设置，AllowedOrigins 也用于校验 WebSocket Origin
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// DatabaseConfig selects the gorm dialect with Driver (mysql, postgres or sqlite).
// For sqlite, Database is the file path.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type QueueConfig struct {
	PaymentQueue string `mapstructure:"payment_queue"`
	MaxWorkers   int    `mapstructure:"max_workers"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
}

type NotifyConfig struct {
	Channel string `mapstructure:"channel"`
}

// SubscriptionConfig 计费配置
type SubscriptionConfig struct {
	BillingUnit   time.Duration `mapstructure:"billing_unit"` // 每个计费月对应的时长
	MaxPlanMonths int           `mapstructure:"max_plan_months"`
	Plans         []PlanConfig  `mapstructure:"plans"`
}

type PlanConfig struct {
	Months int   `mapstructure:"months"`
	Price  int64 `mapstructure:"price"` // 最小货币单位
}

// AccessConfig describes the host scripts and files behind the access adapter.
type AccessConfig struct {
	ProvisionScript  string        `mapstructure:"provision_script"`
	ProvisionDir     string        `mapstructure:"provision_dir"`
	ProvisionTimeout time.Duration `mapstructure:"provision_timeout"`
	BlockScript      string        `mapstructure:"block_script"`
	UnblockScript    string        `mapstructure:"unblock_script"`
	ScriptDir        string        `mapstructure:"script_dir"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	LeaseFile        string        `mapstructure:"lease_file"`
	ArtifactDir      string        `mapstructure:"artifact_dir"`
	ArtifactExt      string        `mapstructure:"artifact_ext"`
	ClientPrefix     string        `mapstructure:"client_prefix"`
}

type SweepConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Cron        string `mapstructure:"cron"`
	Timezone    string `mapstructure:"timezone"`
	Concurrency int    `mapstructure:"concurrency"`
}

// LockConfig Backend 为 local 或 redis
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Wait    time.Duration `mapstructure:"wait"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// CronParser accepts six-field expressions with a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type"})

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("queue.payment_queue", "payment_queue")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("queue.max_attempts", 5)

	v.SetDefault("notify.channel", "subscriber_events")

	v.SetDefault("subscription.billing_unit", "720h")
	v.SetDefault("subscription.max_plan_months", 120)
	v.SetDefault("subscription.plans", []map[string]any{
		{"months": 1, "price": 7000},
		{"months": 2, "price": 14000},
	})

	v.SetDefault("access.provision_script", "./create_client_config.sh")
	v.SetDefault("access.provision_dir", "/home/user/easy-rsa")
	v.SetDefault("access.provision_timeout", "30s")
	v.SetDefault("access.block_script", "./block_client.sh")
	v.SetDefault("access.unblock_script", "./unblock_client.sh")
	v.SetDefault("access.script_dir", "/home/user")
	v.SetDefault("access.command_timeout", "15s")
	v.SetDefault("access.max_retries", 2)
	v.SetDefault("access.lease_file", "/etc/openvpn/clients_ip.list")
	v.SetDefault("access.artifact_dir", "/home/user/openvpn-clients")
	v.SetDefault("access.artifact_ext", ".ovpn")
	v.SetDefault("access.client_prefix", "client")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.cron", "0 10 22 * * *")
	v.SetDefault("sweep.timezone", "UTC")
	v.SetDefault("sweep.concurrency", 1)

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.ttl", "2m")
	v.SetDefault("lock.wait", "45s")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.max_size", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "vpn_access")
}

func Load(configPath string) (*Config, error) {
	// config.local.yaml 存放真实密钥，存在时优先使用
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}
	if c.Subscription.BillingUnit <= 0 {
		errs = append(errs, errors.New("subscription.billing_unit must be positive"))
	}
	if c.Subscription.MaxPlanMonths <= 0 {
		errs = append(errs, errors.New("subscription.max_plan_months must be positive"))
	}
	for _, p := range c.Subscription.Plans {
		if p.Months <= 0 || p.Months > c.Subscription.MaxPlanMonths {
			errs = append(errs, fmt.Errorf("subscription.plans: months %d out of range", p.Months))
		}
	}
	if c.Access.ProvisionScript == "" || c.Access.BlockScript == "" || c.Access.UnblockScript == "" {
		errs = append(errs, errors.New("access: provision, block and unblock scripts are required"))
	}
	if c.Access.ProvisionTimeout <= 0 || c.Access.CommandTimeout <= 0 {
		errs = append(errs, errors.New("access: timeouts must be positive"))
	}
	if _, err := CronParser.Parse(c.Sweep.Cron); err != nil {
		errs = append(errs, fmt.Errorf("sweep.cron: %w", err))
	}
	if _, err := time.LoadLocation(c.Sweep.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("sweep.timezone: %w", err))
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("lock.backend: unsupported backend %q", c.Lock.Backend))
	}

	return errors.Join(errs...)
}

// PlanPrices returns the plan catalog keyed by months.
func (c *Config) PlanPrices() map[int]int64 {
	plans := make(map[int]int64, len(c.Subscription.Plans))
	for _, p := range c.Subscription.Plans {
		plans[p.Months] = p.Price
	}
	return plans
}
