// config предоставляет структуру конфигурации сервера выдачи токенов и
// клиента сессии, а также функции загрузки из файла/переменных окружения
// с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
//
// Серверная часть использует секции HTTP/Metrics/Auth/DB, клиентская — Client.
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Auth     AuthConfig    `yaml:"auth"`
	DB       DBConfig      `yaml:"db"`
	Client   ClientConfig  `yaml:"client"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig — таймауты обработки запросов сервером.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"10s"`
}

// HTTPConfig — сетевые настройки публичного HTTP API.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// MetricsConfig — отдельный HTTP для health-проверок и Prometheus.
type MetricsConfig struct {
	Host string `yaml:"host" env:"METRICS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"METRICS_PORT" env-default:"50085"`
}

// Addr возвращает адрес в формате host:port.
func (m MetricsConfig) Addr() string {
	return net.JoinHostPort(m.Host, m.Port)
}

// AuthConfig содержит параметры выпуска, ротации и валидации токенов.
//
// ClockTolerance поглощает рассинхронизацию часов клиента и сервера,
// GracePeriod — окно после истечения refresh-токена, в котором он ещё
// принимается один раз, ReuseWindow — окно повторного предъявления
// только что замещённого refresh-токена.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	RefreshSecret   string        `yaml:"refresh_secret" env:"REFRESH_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"72h"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" env-default:"auth-session"`
	Audience        []string      `yaml:"audience" env:"AUDIENCE" env-default:"portal"`
	ClockTolerance  time.Duration `yaml:"clock_tolerance" env:"CLOCK_TOLERANCE" env-default:"30s"`
	GracePeriod     time.Duration `yaml:"grace_period" env:"GRACE_PERIOD" env-default:"24h"`
	ReuseWindow     time.Duration `yaml:"reuse_window" env:"REUSE_WINDOW" env-default:"60s"`
	RotationHistory int           `yaml:"rotation_history" env:"ROTATION_HISTORY" env-default:"5"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	ClientID        string        `yaml:"client_id" env:"AUTH_CLIENT_ID"`
	ClientSecret    string        `yaml:"client_secret" env:"AUTH_CLIENT_SECRET"`
}

// DBConfig — выбор и параметры хранилища аккаунтов.
// Driver: postgres | mongo | memory.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
}

// ClientConfig — параметры клиента сессии (расширение редактора, CLI).
type ClientConfig struct {
	ServerURL          string        `yaml:"server_url" env:"AUTH_SERVER_URL" env-default:"http://127.0.0.1:50080"`
	ClientID           string        `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret       string        `yaml:"client_secret" env:"CLIENT_SECRET"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"CLIENT_REQUEST_TIMEOUT" env-default:"15s"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval" env:"CLIENT_REVALIDATE_INTERVAL" env-default:"30m"`
	RefreshAhead       time.Duration `yaml:"refresh_ahead" env:"CLIENT_REFRESH_AHEAD" env-default:"1h"`
	MaxRetries         int           `yaml:"max_retries" env:"CLIENT_MAX_RETRIES" env-default:"5"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" env:"CLIENT_RETRY_BASE_DELAY" env-default:"1s"`
	DegradedBaseDelay  time.Duration `yaml:"degraded_base_delay" env:"CLIENT_DEGRADED_BASE_DELAY" env-default:"5m"`
	DegradedMaxDelay   time.Duration `yaml:"degraded_max_delay" env:"CLIENT_DEGRADED_MAX_DELAY" env-default:"80m"`
	StorePath          string        `yaml:"store_path" env:"CLIENT_STORE_PATH" env-default:"auth-session.age"`
	StoreKeyPath       string        `yaml:"store_key_path" env:"CLIENT_STORE_KEY_PATH" env-default:"auth-session.key"`
	Scope              string        `yaml:"scope" env:"CLIENT_SCOPE" env-default:"default"`
}

const (
	// MaxRevalidateInterval — верхняя граница интервала перепроверки сессии.
	MaxRevalidateInterval = time.Hour
	minRequestTimeout     = 10 * time.Second
	maxRequestTimeout     = 30 * time.Second
)

// Normalize приводит значения клиента к допустимым диапазонам:
// интервал перепроверки не больше часа, таймаут запроса в пределах 10–30s.
func (c ClientConfig) Normalize() ClientConfig {
	if c.RevalidateInterval <= 0 || c.RevalidateInterval > MaxRevalidateInterval {
		c.RevalidateInterval = MaxRevalidateInterval
	}

	switch {
	case c.RequestTimeout <= 0:
		c.RequestTimeout = 15 * time.Second
	case c.RequestTimeout < minRequestTimeout:
		c.RequestTimeout = minRequestTimeout
	case c.RequestTimeout > maxRequestTimeout:
		c.RequestTimeout = maxRequestTimeout
	}

	if c.DegradedMaxDelay < c.DegradedBaseDelay {
		c.DegradedMaxDelay = c.DegradedBaseDelay
	}

	return c
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла поверх значений из YAML накладываются ENV-переменные.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}

// clientFile — часть файла конфигурации, нужная клиенту сессии. Серверные
// секции с обязательными секретами клиент не читает.
type clientFile struct {
	Env    string       `yaml:"env" env:"ENV" env-default:"local"`
	Client ClientConfig `yaml:"client"`
}

// LoadClient загружает только секцию client с тем же приоритетом
// источников, что и Load, и нормализует её.
func LoadClient(path string) (ClientConfig, error) {
	const op = "config.LoadClient"

	var f clientFile

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("local.yaml"); err == nil {
			path = "local.yaml"
		}
	}

	if path != "" {
		if err := cleanenv.ReadConfig(path, &f); err != nil {
			return ClientConfig{}, fmt.Errorf("%s: read %s: %w", op, path, err)
		}
	} else if err := cleanenv.ReadEnv(&f); err != nil {
		return ClientConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	return f.Client.Normalize(), nil
}
