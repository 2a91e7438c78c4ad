package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// Consultation pricing (amounts in tiyin, 1 UZS = 100 tiyin)
	BasePriceTiyin int64
	MinAmountTiyin int64
	MaxAmountTiyin int64
	Currency       string

	// Scheduling
	WorkStartHour      int
	WorkEndHour        int
	SlotDuration       time.Duration
	WorkingDays        []time.Weekday
	Timezone           string
	SlotCacheTTL       time.Duration
	CancellationWindow time.Duration
	RescheduleLimit    int

	// Payments
	RefundWindow    time.Duration
	ProviderTimeout time.Duration
	ReturnURL       string

	ClickMerchantID string
	ClickServiceID  string
	ClickSecretKey  string
	ClickBaseURL    string

	PaymeMerchantID string
	PaymeSecretKey  string
	PaymeBaseURL    string

	UzumMerchantID string
	UzumSecretKey  string
	UzumBaseURL    string

	// Reconciliation sweep
	SweepInterval    time.Duration
	StalePendingAge  time.Duration
	ReminderLeadTime time.Duration

	// Notifications
	TelegramBotToken string

	AdminJWTSecret string

	// API rate limiting (token bucket per client IP)
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BasePriceTiyin: getEnvAsInt64("BASE_PRICE_TIYIN", 5_000_000),
		MinAmountTiyin: getEnvAsInt64("MIN_AMOUNT_TIYIN", 100_000),
		MaxAmountTiyin: getEnvAsInt64("MAX_AMOUNT_TIYIN", 1_000_000_000),
		Currency:       getEnv("CURRENCY", "UZS"),

		WorkStartHour:      getEnvAsInt("WORK_START_HOUR", 9),
		WorkEndHour:        getEnvAsInt("WORK_END_HOUR", 18),
		SlotDuration:       getEnvAsDuration("SLOT_DURATION", time.Hour),
		WorkingDays:        parseWeekdays(getEnv("WORKING_DAYS", "mon,tue,wed,thu,fri,sat")),
		Timezone:           getEnv("TIMEZONE", "Asia/Tashkent"),
		SlotCacheTTL:       getEnvAsDuration("SLOT_CACHE_TTL", 5*time.Minute),
		CancellationWindow: getEnvAsDuration("CANCELLATION_WINDOW", 24*time.Hour),
		RescheduleLimit:    getEnvAsInt("RESCHEDULE_LIMIT", 3),

		RefundWindow:    getEnvAsDuration("REFUND_WINDOW", 30*24*time.Hour),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ReturnURL:       getEnv("PAYMENT_RETURN_URL", ""),

		ClickMerchantID: getEnv("CLICK_MERCHANT_ID", ""),
		ClickServiceID:  getEnv("CLICK_SERVICE_ID", ""),
		ClickSecretKey:  getEnv("CLICK_SECRET_KEY", ""),
		ClickBaseURL:    getEnv("CLICK_BASE_URL", ""),

		PaymeMerchantID: getEnv("PAYME_MERCHANT_ID", ""),
		PaymeSecretKey:  getEnv("PAYME_SECRET_KEY", ""),
		PaymeBaseURL:    getEnv("PAYME_BASE_URL", ""),

		UzumMerchantID: getEnv("UZUM_MERCHANT_ID", ""),
		UzumSecretKey:  getEnv("UZUM_SECRET_KEY", ""),
		UzumBaseURL:    getEnv("UZUM_BASE_URL", ""),

		SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
		StalePendingAge:  getEnvAsDuration("STALE_PENDING_AGE", time.Hour),
		ReminderLeadTime: getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekdays(raw string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(raw, ",") {
		if day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(part))]; ok {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	}
	return days
}
