// README: Config loader with env defaults for backend endpoints, caches, ride timing, and payments.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type BackendConfig struct {
	APIBaseURL   string
	WSURL        string
	SessionToken string
	HTTPTimeout  time.Duration
	ReadRetries  int
}

type RealtimeConfig struct {
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type RideConfig struct {
	MatchTimeout    time.Duration
	DedupWindow     time.Duration
	MinEmitInterval time.Duration
	RouteRefresh    time.Duration
	OfferTTL        time.Duration
}

// SimConfig drives the simulated geolocator that stands in for device GPS.
type SimConfig struct {
	StartLat float64
	StartLng float64
	SpeedKmh float64
	Interval time.Duration
}

type PaymentConfig struct {
	Provider          string // "stripe", "razorpay" or "" (cash/wallet only)
	StripeSecretKey   string
	RazorpayKeyID     string
	RazorpayKeySecret string
	Currency          string
}

type Config struct {
	Env string
	HTTP struct {
		Addr  string
		Token string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Maps struct {
		APIKey string
	}
	Identity struct {
		RoleHint    string
		VehicleType string
	}
	Backend  BackendConfig
	Realtime RealtimeConfig
	Ride     RideConfig
	Payment  PaymentConfig
	Sim      SimConfig
}

func Load() (Config, error) {
	LoadDotEnvUp(0)

	var cfg Config
	cfg.Env = envOrDefault("ORBIX_ENV", "development")
	cfg.HTTP.Addr = envOrDefault("ORBIX_HTTP_ADDR", "127.0.0.1:7070")
	cfg.HTTP.Token = os.Getenv("ORBIX_CONTROL_TOKEN")
	cfg.DB.DSN = os.Getenv("ORBIX_DB_DSN")
	cfg.Redis.Addr = os.Getenv("ORBIX_REDIS_ADDR")
	cfg.Maps.APIKey = os.Getenv("ORBIX_MAPS_API_KEY")
	cfg.Identity.RoleHint = strings.ToLower(os.Getenv("ORBIX_ROLE"))
	cfg.Identity.VehicleType = os.Getenv("ORBIX_VEHICLE_TYPE")

	cfg.Backend.APIBaseURL = strings.TrimRight(envOrDefault("ORBIX_API_BASE_URL", "http://localhost:4000"), "/")
	cfg.Backend.WSURL = envOrDefault("ORBIX_WS_URL", "ws://localhost:4000/ws")
	cfg.Backend.SessionToken = os.Getenv("ORBIX_SESSION_TOKEN")
	cfg.Backend.HTTPTimeout = envOrDefaultDuration("ORBIX_HTTP_TIMEOUT", 10*time.Second)
	cfg.Backend.ReadRetries = envOrDefaultInt("ORBIX_HTTP_READ_RETRIES", 2)

	cfg.Realtime.MaxRetries = envOrDefaultInt("ORBIX_WS_MAX_RETRIES", 8)
	cfg.Realtime.BackoffInitial = envOrDefaultDuration("ORBIX_WS_BACKOFF_INITIAL", 500*time.Millisecond)
	cfg.Realtime.BackoffMax = envOrDefaultDuration("ORBIX_WS_BACKOFF_MAX", 15*time.Second)

	cfg.Ride.MatchTimeout = envOrDefaultDuration("ORBIX_MATCH_TIMEOUT", 90*time.Second)
	cfg.Ride.DedupWindow = envOrDefaultDuration("ORBIX_DEDUP_WINDOW", 2*time.Second)
	cfg.Ride.MinEmitInterval = envOrDefaultDuration("ORBIX_MIN_EMIT_INTERVAL", 4*time.Second)
	cfg.Ride.RouteRefresh = envOrDefaultDuration("ORBIX_ROUTE_REFRESH", 30*time.Second)
	cfg.Ride.OfferTTL = envOrDefaultDuration("ORBIX_OFFER_TTL", 30*time.Second)

	cfg.Payment.Provider = strings.ToLower(os.Getenv("ORBIX_PAYMENT_PROVIDER"))
	cfg.Payment.StripeSecretKey = os.Getenv("ORBIX_STRIPE_SECRET_KEY")
	cfg.Payment.RazorpayKeyID = os.Getenv("ORBIX_RAZORPAY_KEY_ID")
	cfg.Payment.RazorpayKeySecret = os.Getenv("ORBIX_RAZORPAY_KEY_SECRET")
	cfg.Payment.Currency = envOrDefault("ORBIX_CURRENCY", "INR")

	cfg.Sim.StartLat = envOrDefaultFloat("ORBIX_SIM_LAT", 12.9716)
	cfg.Sim.StartLng = envOrDefaultFloat("ORBIX_SIM_LNG", 77.5946)
	cfg.Sim.SpeedKmh = envOrDefaultFloat("ORBIX_SIM_SPEED_KMH", 25)
	cfg.Sim.Interval = envOrDefaultDuration("ORBIX_SIM_INTERVAL", 2*time.Second)

	if cfg.Backend.SessionToken == "" {
		return cfg, errMissing("ORBIX_SESSION_TOKEN")
	}
	if cfg.Ride.MatchTimeout <= 0 {
		return cfg, errInvalid("ORBIX_MATCH_TIMEOUT")
	}
	return cfg, nil
}

type configError struct {
	key    string
	reason string
}

func (e configError) Error() string {
	return "config: " + e.key + " " + e.reason
}

func errMissing(key string) error { return configError{key: key, reason: "is required"} }
func errInvalid(key string) error { return configError{key: key, reason: "is invalid"} }

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare integers are seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
