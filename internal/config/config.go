// 애플리케이션 설정 로드
//
// 환경변수는 프로세스 환경 또는 작업 디렉터리의 .env 파일에서 읽는다.
// 값의 파싱/검증은 각 서비스 생성자에서 수행한다.

package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Directory DirectoryConfig
	Postgres  PostgresConfig
	Sentry    SentryConfig
	LogLevel  string
}

type ServerConfig struct {
	Port           string
	GinMode        string
	AllowedOrigins []string
}

type AuthConfig struct {
	Enabled              string
	JWTSecret            string
	JWTExpHours          string
	RefreshTokenExpDays  string
	RefreshSweepInterval string
	AdminGroup           string
	CookieSecure         string
	CookieSameSite       string
	CookiePath           string
	CookieDomain         string
}

type DirectoryConfig struct {
	URL          string
	BaseDN       string
	BindUser     string
	BindPassword string
	UserDomain   string
	Attributes   string
	Timeout      string
	PoolSize     string
}

// Configured reports whether a directory endpoint was provided.
// Without one the offline mock verifier is used.
func (c DirectoryConfig) Configured() bool {
	return strings.TrimSpace(c.URL) != "" || strings.TrimSpace(c.BaseDN) != ""
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type SentryConfig struct {
	DSN         string
	Environment string
}

func Load() Config {
	// .env 파일은 선택 사항
	_ = godotenv.Load()

	return Config{
		Server: ServerConfig{
			Port:           getenv("PORT", "8000"),
			GinMode:        os.Getenv("GIN_MODE"),
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Auth: AuthConfig{
			Enabled:              getenv("AUTH_ENABLED", "true"),
			JWTSecret:            os.Getenv("JWT_SECRET"),
			JWTExpHours:          getenv("JWT_EXP_HOURS", "24"),
			RefreshTokenExpDays:  getenv("REFRESH_TOKEN_EXP_DAYS", "30"),
			RefreshSweepInterval: getenv("REFRESH_SWEEP_INTERVAL", "1h"),
			AdminGroup:           getenv("ADMIN_GROUP", "GLO-SEC-HCPE-SETISD"),
			CookieSecure:         os.Getenv("AUTH_COOKIE_SECURE"),
			CookieSameSite:       os.Getenv("AUTH_COOKIE_SAMESITE"),
			CookiePath:           os.Getenv("AUTH_COOKIE_PATH"),
			CookieDomain:         os.Getenv("AUTH_COOKIE_DOMAIN"),
		},
		Directory: DirectoryConfig{
			URL:          os.Getenv("AD_URL"),
			BaseDN:       os.Getenv("AD_BASEDN"),
			BindUser:     os.Getenv("AD_BIND_USER"),
			BindPassword: os.Getenv("AD_BIND_PASSWORD"),
			UserDomain:   getenv("AD_USER_DOMAIN", "EBSERHNET"),
			Attributes:   getenv("AD_ATTRIBUTES", "displayName,mail,department,title"),
			Timeout:      getenv("AD_TIMEOUT", "10s"),
			PoolSize:     getenv("AD_POOL_SIZE", "8"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Sentry: SentryConfig{
			DSN:         os.Getenv("SENTRY_DSN"),
			Environment: getenv("APP_ENV", "development"),
		},
		LogLevel: getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
