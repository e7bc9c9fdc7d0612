package config

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

// EnvPrefix namespaces every configuration key.
const EnvPrefix = "LEDGERSYNC_"

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultGatewayTimeout      = 15 * time.Second
	defaultLedgerEndpoint      = "https://gql.waveapps.com/graphql/public"
	defaultLedgerTimeout       = 20 * time.Second
	defaultLedgerTimezone      = "UTC"
	defaultDescriptionPrefix   = "EDD #"
	defaultOrderMetadataKey    = "order_id"
	defaultWebhookPerMinute    = 120
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACNonceHeader     = "X-Signature-Nonce"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute
	defaultGuardTTL            = 30 * 24 * time.Hour
	defaultGuardInterval       = time.Hour
	defaultGuardBatchSize      = 200

	// GuardBackendMemory keeps processed events in process memory.
	GuardBackendMemory = "memory"
	// GuardBackendFirestore persists processed events in Firestore.
	GuardBackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Firebase   FirebaseConfig
	Firestore  FirestoreConfig
	PSP        PSPConfig
	Ledger     LedgerConfig
	Accounts   AccountsConfig
	Events     EventsConfig
	RateLimits RateLimitConfig
	Security   SecurityConfig
	Guard      GuardConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for staff authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects payment gateway credentials.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	// StripeOrderMetadataKey is the payment intent metadata key holding the storefront order id.
	StripeOrderMetadataKey string
	PayPalClientID         string
	PayPalSecret           string
	PayPalBaseURL          string
	GatewayTimeout         time.Duration
}

// LedgerConfig configures the GraphQL ledger client and transaction assembly.
type LedgerConfig struct {
	Endpoint          string
	Token             string
	BusinessID        string
	Timeout           time.Duration
	Timezone          string
	Location          *time.Location
	DescriptionPrefix string
	StrictBalance     bool
}

// AccountsConfig holds the ledger account ids used outside product mappings.
type AccountsConfig struct {
	PayPalAnchor string
	PayPalFees   string
	StripeAnchor string
	StripeFees   string
	Discounts    string
	PurchaseFees string
}

// EventsConfig configures sync event publishing. An empty topic disables publishing.
type EventsConfig struct {
	Topic string
}

// RateLimitConfig controls webhook throttling.
type RateLimitConfig struct {
	WebhookPerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// HMACConfig captures storefront webhook signing expectations.
type HMACConfig struct {
	Secret          string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// GuardConfig controls the processed-event guard.
type GuardConfig struct {
	Backend          string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values. They take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the OS environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Ledger.Token") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged key/value environment (dotenv < OS env < explicit map)
// so callers can initialise the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotenv))
	for k, v := range dotenv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := source{prefix: EnvPrefix, explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:           env.str("PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret:    env.str("PSP_STRIPE_WEBHOOK_SECRET", ""),
			StripeOrderMetadataKey: env.str("PSP_STRIPE_ORDER_METADATA_KEY", defaultOrderMetadataKey),
			PayPalClientID:         env.str("PSP_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:           env.str("PSP_PAYPAL_SECRET", ""),
			PayPalBaseURL:          env.str("PSP_PAYPAL_BASE_URL", ""),
			GatewayTimeout:         env.duration("PSP_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		Ledger: LedgerConfig{
			Endpoint:          env.str("LEDGER_ENDPOINT", defaultLedgerEndpoint),
			Token:             env.str("LEDGER_TOKEN", ""),
			BusinessID:        env.str("LEDGER_BUSINESS_ID", ""),
			Timeout:           env.duration("LEDGER_TIMEOUT", defaultLedgerTimeout),
			Timezone:          env.str("LEDGER_TIMEZONE", defaultLedgerTimezone),
			DescriptionPrefix: env.str("LEDGER_DESCRIPTION_PREFIX", defaultDescriptionPrefix),
			StrictBalance:     env.boolean("LEDGER_STRICT_BALANCE", false),
		},
		Accounts: AccountsConfig{
			PayPalAnchor: env.str("ACCOUNTS_PAYPAL_ANCHOR", ""),
			PayPalFees:   env.str("ACCOUNTS_PAYPAL_FEES", ""),
			StripeAnchor: env.str("ACCOUNTS_STRIPE_ANCHOR", ""),
			StripeFees:   env.str("ACCOUNTS_STRIPE_FEES", ""),
			Discounts:    env.str("ACCOUNTS_DISCOUNTS", ""),
			PurchaseFees: env.str("ACCOUNTS_PURCHASE_FEES", ""),
		},
		Events: EventsConfig{
			Topic: env.str("EVENTS_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			WebhookPerMinute: env.integer("RATELIMIT_WEBHOOK_PER_MIN", defaultWebhookPerMinute),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  env.str("SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: env.str("SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  env.list("SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secret:          env.str("SECURITY_HMAC_SECRET", ""),
				SignatureHeader: env.str("SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: env.str("SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     env.str("SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       env.duration("SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        env.duration("SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Guard: GuardConfig{
			Backend:          strings.ToLower(env.str("GUARD_BACKEND", GuardBackendFirestore)),
			TTL:              env.duration("GUARD_TTL", defaultGuardTTL),
			CleanupInterval:  env.duration("GUARD_CLEANUP_INTERVAL", defaultGuardInterval),
			CleanupBatchSize: env.integer("GUARD_CLEANUP_BATCH", defaultGuardBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"PSP.PayPalSecret", &cfg.PSP.PayPalSecret},
		{"Ledger.Token", &cfg.Ledger.Token},
		{"Security.HMAC.Secret", &cfg.Security.HMAC.Secret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = value
	}

	if loc, err := time.LoadLocation(cfg.Ledger.Timezone); err == nil {
		cfg.Ledger.Location = loc
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validate(cfg Config) error {
	var fields []string
	require := func(name string, ok bool) {
		if !ok {
			fields = append(fields, name)
		}
	}

	require("Server.Port", cfg.Server.Port != "")
	require("Firestore.ProjectID", cfg.Firestore.ProjectID != "")
	if u, err := url.Parse(cfg.Ledger.Endpoint); err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		fields = append(fields, "Ledger.Endpoint")
	}
	require("Ledger.BusinessID", cfg.Ledger.BusinessID != "")
	require("Ledger.Timezone", cfg.Ledger.Location != nil)
	require("Ledger.Timeout", cfg.Ledger.Timeout > 0)
	require("Accounts.PayPalAnchor", cfg.Accounts.PayPalAnchor != "")
	require("Accounts.PayPalFees", cfg.Accounts.PayPalFees != "")
	require("Accounts.StripeAnchor", cfg.Accounts.StripeAnchor != "")
	require("Accounts.StripeFees", cfg.Accounts.StripeFees != "")
	require("Accounts.Discounts", cfg.Accounts.Discounts != "")
	require("Accounts.PurchaseFees", cfg.Accounts.PurchaseFees != "")
	require("PSP.StripeOrderMetadataKey", cfg.PSP.StripeOrderMetadataKey != "")
	require("RateLimits.WebhookPerMinute", cfg.RateLimits.WebhookPerMinute > 0)
	require("Guard.Backend", cfg.Guard.Backend == GuardBackendMemory || cfg.Guard.Backend == GuardBackendFirestore)
	require("Guard.TTL", cfg.Guard.TTL > 0)
	require("Guard.CleanupInterval", cfg.Guard.CleanupInterval > 0)
	require("Guard.CleanupBatchSize", cfg.Guard.CleanupBatchSize > 0)

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}
