package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/order"
	"github.com/xenking/nopego-checkout/internal/fulfillment"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for shared caches and rate limits (CHECKOUT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	AppURL       string `default:"https://nopego.com" usage:"Storefront URL used in customer messages" flag:"app-url"`

	Store       StoreConfig
	Razorpay    RazorpayConfig
	Shiprocket  ShiprocketConfig
	WhatsApp    WhatsAppConfig `env:"WHATSAPP" yaml:"whatsapp"`
	Email       EmailConfig
	Fulfillment fulfillment.Config
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StoreConfig holds pricing and payment policy.
// Amounts are rupees as decimal strings.
type StoreConfig struct {
	FreeShippingThreshold string `default:"999" usage:"Subtotal from which shipping is free"`
	ShippingCharge        string `default:"49" usage:"Flat shipping charge below the threshold"`
	CODEnabled            bool   `default:"true" usage:"Accept cash on delivery" flag:"cod-enabled"`
	CODMinimum            string `default:"299" usage:"Minimum order total for cash on delivery" flag:"cod-minimum"`
	OrderPrefix           string `default:"NPG" usage:"Order number prefix" flag:"order-prefix"`
}

// Policy parses the store amounts.
func (s StoreConfig) Policy() (order.Policy, error) {
	var p order.Policy
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"free shipping threshold", s.FreeShippingThreshold, &p.Pricing.FreeShippingThreshold},
		{"shipping charge", s.ShippingCharge, &p.Pricing.ShippingCharge},
		{"COD minimum", s.CODMinimum, &p.CODMinimum},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return order.Policy{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if v.IsNegative() {
			return order.Policy{}, errors.Errorf("%s must not be negative", f.name)
		}
		*f.dst = v
	}
	p.CODEnabled = s.CODEnabled
	return p, nil
}

// RazorpayConfig holds payment gateway credentials.
type RazorpayConfig struct {
	KeyID     string `usage:"Razorpay key id"`
	KeySecret string `usage:"Razorpay key secret"`
	BaseURL   string `default:"https://api.razorpay.com" usage:"Razorpay API base URL"`
}

// ShiprocketConfig holds carrier credentials. Empty credentials disable
// shipment booking.
type ShiprocketConfig struct {
	Email          string        `usage:"Shiprocket account email"`
	Password       string        `usage:"Shiprocket account password"`
	BaseURL        string        `default:"https://apiv2.shiprocket.in/v1/external" usage:"Shiprocket API base URL"`
	PickupLocation string        `default:"Primary" usage:"Shiprocket pickup location name"`
	TokenTTL       time.Duration `default:"9h" usage:"Carrier token lifetime"`
}

// WhatsAppConfig holds Cloud API credentials. Empty credentials disable
// WhatsApp messages.
type WhatsAppConfig struct {
	PhoneID    string `usage:"WhatsApp Cloud API phone number id"`
	Token      string `usage:"WhatsApp Cloud API access token"`
	AdminPhone string `usage:"Phone receiving low stock alerts"`
	BaseURL    string `default:"https://graph.facebook.com/v18.0" usage:"Graph API base URL"`
}

// EmailConfig holds Resend credentials. An empty key disables email.
type EmailConfig struct {
	APIKey  string `usage:"Resend API key"`
	From    string `default:"Nopego <orders@nopego.com>" usage:"Sender address"`
	BaseURL string `default:"https://api.resend.com" usage:"Resend API base URL"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags, YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, REDIS_URL, PORT) onto the CHECKOUT_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	case c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "":
		return errors.New("razorpay credentials are required: set CHECKOUT_RAZORPAY_KEY_ID and CHECKOUT_RAZORPAY_KEY_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("API key pepper is required: set CHECKOUT_API_KEY_PEPPER")
	}
	_, err := c.Store.Policy()
	return err
}
