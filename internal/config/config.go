package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env          string             `yaml:"env" env-default:"development"` // environment
	HTTPServer   HTTPServerConfig   `yaml:"http_server"`
	Database     DatabaseConfig     `yaml:"database"`
	JWT          JWTConfig          `yaml:"jwt"`
	Migrations   MigrationsConfig   `yaml:"migrations"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Reservations ReservationsConfig `yaml:"reservations"`
	Admin        AdminConfig        `yaml:"admin"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// RedisConfig - кеш заказов и realtime-каналы
type RedisConfig struct {
	Address       string        `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password      string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB            int           `yaml:"db" env-default:"0"`
	OrderCacheTTL time.Duration `yaml:"order_cache_ttl" env-default:"5m"`
}

// KafkaConfig - поток событий заказов. Пустой список брокеров отключает публикацию.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	OrderEventsTopic string   `yaml:"order_events_topic" env-default:"reseller.order.events"`
	Buffer           int      `yaml:"buffer" env-default:"1024"`
}

// SMTPConfig - почта о подтверждении оплаты. Пустой host отключает отправку.
type SMTPConfig struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     int           `yaml:"port" env-default:"587"`
	Username string        `yaml:"username"`
	Password string        `yaml:"-" env:"SMTP_PASSWORD"`
	From     string        `yaml:"from" env-default:"no-reply@reseller.shop"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
}

// AdminConfig - учетная запись администратора, которую создает мигратор.
// Пустой email пропускает создание.
type AdminConfig struct {
	Email    string `yaml:"email" env:"ADMIN_EMAIL"`
	Password string `yaml:"-" env:"ADMIN_PASSWORD"`
}

type DispatcherConfig struct {
	Workers   int `yaml:"workers" env-default:"4"`
	QueueSize int `yaml:"queue_size" env-default:"1024"`
}

// ReservationsConfig - фоновый возврат зависших резервов
type ReservationsConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after" env-default:"10m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	// .env необязателен, переменные могут прийти из окружения
	_ = godotenv.Load()

	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}
