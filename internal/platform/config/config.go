// Package config loads runtime configuration from the environment, an
// optional dotenv file, and secret manager references.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultFreeShippingThreshold = 1000.0
	defaultFlatShippingRate      = 50.0
	defaultOrderTopic            = "order.confirmed"
	defaultCurrency              = "inr"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PSP       PSPConfig
	Shipping  ShippingConfig
	Events    EventsConfig
	Features  FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects payment provider settings.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
	SuccessURL          string
	CancelURL           string
}

// ShippingConfig tunes the flat-rate shipping policy.
type ShippingConfig struct {
	FreeThreshold float64
	FlatRate      float64
}

// EventsConfig configures outbound event publishing.
type EventsConfig struct {
	ProjectID       string
	OrderTopic      string
	PublishDisabled bool
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableCoupons      bool
	EnableOrderEvents  bool
	EnableAdminWriters bool
}

// SecretResolver resolves secret:// references to their payloads.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved empty.
type MissingSecretsError struct {
	names []string
}

// Error renders only redacted identifiers so logs stay free of secret names.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe for logging.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	envFile         string
	explicit        map[string]string
	skipSystemEnv   bool
	secrets         SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.explicit = values }
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.skipSystemEnv = true }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.secrets = resolver }
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field paths recorded by the loader
// (e.g. "PSP.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.requiredSecrets = append(l.requiredSecrets, names...) }
}

func newLoader(opts []Option) *loader {
	l := &loader{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// env is the merged view over the three configuration sources. Precedence is
// explicit map over system environment over dotenv file.
type env struct {
	explicit  map[string]string
	useSystem bool
	dotenv    map[string]string
}

func (l *loader) sources() (env, error) {
	dotenv, err := parseDotEnv(l.envFile)
	if err != nil {
		return env{}, err
	}
	return env{explicit: l.explicit, useSystem: !l.skipSystemEnv, dotenv: dotenv}, nil
}

func (e env) get(key string) (string, bool) {
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.useSystem {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e env) str(key, fallback string) string {
	if value, ok := e.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.get(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) float(key string, fallback float64) float64 {
	if value, ok := e.get(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e env) flag(key string, fallback bool) bool {
	value, ok := e.get(key)
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// snapshot flattens the sources into a single map honouring precedence.
func (e env) snapshot() map[string]string {
	values := make(map[string]string, len(e.dotenv)+len(e.explicit))
	for key, value := range e.dotenv {
		values[key] = value
	}
	if e.useSystem {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range e.explicit {
		values[key] = value
	}
	return values
}

// EnvironmentValues returns the effective key/value environment map after
// applying the same precedence rules as Load (dotenv < OS env < explicit map).
// Callers use the result to initialise dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	sources, err := newLoader(opts).sources()
	if err != nil {
		return nil, err
	}
	return sources.snapshot(), nil
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := newLoader(opts)
	e, err := l.sources()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        e.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: e.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:            strings.ToLower(e.str("API_PSP_CURRENCY", defaultCurrency)),
			SuccessURL:          e.str("API_PSP_SUCCESS_URL", ""),
			CancelURL:           e.str("API_PSP_CANCEL_URL", ""),
		},
		Shipping: ShippingConfig{
			FreeThreshold: e.float("API_SHIPPING_FREE_THRESHOLD", defaultFreeShippingThreshold),
			FlatRate:      e.float("API_SHIPPING_FLAT_RATE", defaultFlatShippingRate),
		},
		Events: EventsConfig{
			ProjectID:       e.str("API_EVENTS_PROJECT_ID", ""),
			OrderTopic:      e.str("API_EVENTS_ORDER_TOPIC", defaultOrderTopic),
			PublishDisabled: e.flag("API_EVENTS_PUBLISH_DISABLED", false),
		},
		Features: FeatureFlags{
			EnableCoupons:      e.flag("API_FEATURE_COUPONS", true),
			EnableOrderEvents:  e.flag("API_FEATURE_ORDER_EVENTS", true),
			EnableAdminWriters: e.flag("API_FEATURE_ADMIN_WRITERS", true),
		},
	}

	// The events publisher defaults to the database project.
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := l.resolveSecretFields(ctx, &cfg)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if err := requireSecrets(l.requiredSecrets, resolved); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveSecretFields walks the config fields that may hold secret references
// and replaces each reference with its resolved payload. The returned map
// holds the final value of every walked field keyed by field path so the
// required-secret check runs against the same set.
func (l *loader) resolveSecretFields(ctx context.Context, cfg *Config) (map[string]string, error) {
	targets := []struct {
		path  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
	}

	resolved := make(map[string]string, len(targets))
	for _, target := range targets {
		value := *target.field
		if ref, ok := secretReference(value); ok {
			if l.secrets == nil {
				return nil, &SecretError{Ref: ref, Err: errNoSecretResolver}
			}
			payload, err := l.secrets.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			value = payload
			*target.field = payload
		}
		resolved[target.path] = strings.TrimSpace(value)
	}
	return resolved, nil
}

// secretReference reports whether value is a secret reference and returns it
// in the canonical secret:// form. The legacy sm:// scheme is accepted for
// compatibility with older deploy manifests.
func secretReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		return trimmed, true
	case strings.HasPrefix(trimmed, "sm://"):
		return "secret://" + strings.TrimPrefix(trimmed, "sm://"), true
	}
	return "", false
}

func (c Config) validate() error {
	var missing []string
	if c.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if c.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if c.Shipping.FreeThreshold < 0 {
		missing = append(missing, "Shipping.FreeThreshold")
	}
	if c.Shipping.FlatRate < 0 {
		missing = append(missing, "Shipping.FlatRate")
	}
	if c.Features.EnableOrderEvents && !c.Events.PublishDisabled && strings.TrimSpace(c.Events.OrderTopic) == "" {
		missing = append(missing, "Events.OrderTopic")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func requireSecrets(required []string, resolved map[string]string) error {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingSecretsError{names: missing}
	}
	return nil
}

// parseDotEnv reads KEY=VALUE pairs from path. A missing file is not an
// error; dotenv files only exist in local development.
func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}

	values := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return values, nil
}
