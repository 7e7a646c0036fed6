package config

import (
	"math"
	"strings"
	"time"

	"github.com/technovacao/registration/internal/pkg/env"
)

const (
	defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"
	defaultEven3APIBaseURL       = "https://www.even3.com.br/api/v1"
)

// Pricing holds unit prices in cents.
type Pricing struct {
	MemberCents int64
	RobotCents  int64
	Currency    string
}

// Limits holds the global registration ceilings.
type Limits struct {
	MaxPaidMembers   int
	MaxAccommodation int
	MaxRegistrations int
}

type MercadoPago struct {
	AccessToken         string
	PublicKey           string
	WebhookSecret       string
	APIBaseURL          string
	StatementDescriptor string
	FrontendURL         string
	BackendURL          string
	Timeout             time.Duration
}

type Even3 struct {
	Token      string
	APIBaseURL string
	EventLink  string
}

// Reconcile tunes the asynchronous webhook processing and the pending sweep.
type Reconcile struct {
	SettleDelay    time.Duration
	FetchTimeout   time.Duration
	SweepInterval  time.Duration
	SweepMinAge    time.Duration
	PendingHoldTTL time.Duration
	Workers        int
}

// Media configures the S3-compatible bucket that hosts uploaded photos.
type Media struct {
	Enabled         bool
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string
	PublicBaseURL   string
	MaxUploadBytes  int64
}

// Mail configures the SMTP relay used for password reset messages.
type Mail struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type JWT struct {
	Secret string
	TTL    time.Duration
}

func LoadPricing() Pricing {
	return Pricing{
		MemberCents: toCents(env.GetEnvFloat("PRICE_MEMBER", 55.00)),
		RobotCents:  toCents(env.GetEnvFloat("PRICE_ROBOT", 20.00)),
		Currency:    strings.ToUpper(env.GetEnv("PRICE_CURRENCY", "BRL")),
	}
}

func LoadLimits() Limits {
	return Limits{
		MaxPaidMembers:   env.GetEnvInt("MAX_PAID_MEMBERS", 400),
		MaxAccommodation: env.GetEnvInt("MAX_ACCOMMODATION", 200),
		MaxRegistrations: env.GetEnvInt("MAX_REGISTRATIONS", 0),
	}
}

func LoadMercadoPago() MercadoPago {
	return MercadoPago{
		AccessToken:         strings.TrimSpace(env.GetEnv("MERCADOPAGO_ACCESS_TOKEN", "")),
		PublicKey:           strings.TrimSpace(env.GetEnv("MERCADOPAGO_PUBLIC_KEY", "")),
		WebhookSecret:       strings.TrimSpace(env.GetEnv("MERCADOPAGO_WEBHOOK_SECRET", "")),
		APIBaseURL:          strings.TrimRight(env.GetEnv("MERCADOPAGO_API_BASE_URL", defaultMercadoPagoAPIBaseURL), "/"),
		StatementDescriptor: env.GetEnv("MERCADOPAGO_STATEMENT_DESCRIPTOR", "TECHNOVACAO"),
		FrontendURL:         strings.TrimRight(env.GetEnv("FRONTEND_URL", "http://localhost:5500"), "/"),
		BackendURL:          strings.TrimRight(env.GetEnv("BACKEND_URL", "http://localhost:3000"), "/"),
		Timeout:             env.GetEnvDuration("MERCADOPAGO_TIMEOUT", 5*time.Second),
	}
}

func LoadEven3() Even3 {
	return Even3{
		Token:      strings.TrimSpace(env.GetEnv("EVEN3_TOKEN", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("EVEN3_API_URL", defaultEven3APIBaseURL), "/"),
		EventLink:  env.GetEnv("EVEN3_EVENT_LINK", ""),
	}
}

func LoadReconcile() Reconcile {
	return Reconcile{
		SettleDelay:    env.GetEnvDuration("WEBHOOK_SETTLE_DELAY", 2*time.Second),
		FetchTimeout:   env.GetEnvDuration("WEBHOOK_FETCH_TIMEOUT", 15*time.Second),
		SweepInterval:  env.GetEnvDuration("PENDING_SWEEP_INTERVAL", 5*time.Minute),
		SweepMinAge:    env.GetEnvDuration("PENDING_SWEEP_MIN_AGE", 10*time.Minute),
		PendingHoldTTL: env.GetEnvDuration("PENDING_HOLD_TTL", 2*time.Hour),
		Workers:        env.GetEnvInt("RECONCILE_WORKERS", 3),
	}
}

func LoadMedia() Media {
	return Media{
		Enabled:         env.GetEnvBool("MEDIA_S3_ENABLED", false),
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		PublicBaseURL:   strings.TrimRight(env.GetEnv("MEDIA_PUBLIC_BASE_URL", ""), "/"),
		MaxUploadBytes:  int64(env.GetEnvInt("MEDIA_MAX_UPLOAD_MB", 5)) << 20,
	}
}

func LoadMail() Mail {
	return Mail{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
	}
}

func LoadJWT() JWT {
	return JWT{
		Secret: env.GetEnv("JWT_SECRET", ""),
		TTL:    env.GetEnvDuration("JWT_TTL", 8*time.Hour),
	}
}

// FormatCents renders cents as a decimal amount for provider payloads.
func FormatCents(cents int64) float64 {
	return float64(cents) / 100
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
