// Package config loads runtime configuration from environment variables,
// optional .env files, and Secret Manager references.
package config

import (
	"bufio"
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
	defaultEnvFile = ".env"

	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultRateLimitDefault = 120
	defaultRateLimitAuth    = 240
	defaultRateLimitReviews = 10

	defaultSignedURLTTL = 15 * time.Minute

	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig describes the buckets used by the product image pipeline.
// Uploads land in the staging bucket via signed URLs and are promoted to the
// public bucket once finalised.
type StorageConfig struct {
	StagingBucket string
	PublicBucket  string
	PublicBaseURL string
	SignedURLKey  string
	SignedURLTTL  time.Duration
}

// PubSubConfig names the topics that receive order and review domain events.
type PubSubConfig struct {
	ProjectID         string
	OrderEventsTopic  string
	ReviewEventsTopic string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	ReviewSubmitPerMinute  int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableVendorApplications bool
	EnableReviews            bool
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets, typically Secret
// Manager URIs.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing
// or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "config validation failed: missing or invalid fields [" + strings.Join(e.fields, ", ") + "]"
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

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to
// resolve. Error output only ever carries the redacted identifiers.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return "missing required secrets [" + strings.Join(redacted, ", ") + "]"
}

// RedactedNames returns the redacted secret identifiers, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.collect(func(s missingSecret) string { return s.redacted })
}

// Names returns the underlying secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	return e.collect(func(s missingSecret) string { return s.name })
}

func (e *MissingSecretsError) collect(pick func(missingSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func applyOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups.
// Values in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader
// (e.g. "Storage.SignedURLKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are
// missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// environment layers the key/value sources consulted by the loader. Lookup
// precedence is explicit map, then process environment, then the dotenv file.
type environment struct {
	explicit map[string]string
	system   map[string]string
	dotenv   map[string]string
}

func buildEnvironment(options loaderOptions) (environment, error) {
	dotenv, err := parseDotEnv(options.envFile)
	if err != nil {
		return environment{}, err
	}
	env := environment{explicit: options.envMap, dotenv: dotenv}
	if options.useSystemEnv {
		env.system = systemEnv()
	}
	return env, nil
}

func systemEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func (e environment) lookup(key string) (string, bool) {
	for _, layer := range []map[string]string{e.explicit, e.system, e.dotenv} {
		if value, ok := layer[key]; ok {
			return value, true
		}
	}
	return "", false
}

// flatten merges the layers into a single map, lower precedence first so
// higher layers overwrite.
func (e environment) flatten() map[string]string {
	out := make(map[string]string)
	for _, layer := range []map[string]string{e.dotenv, e.system, e.explicit} {
		for key, value := range layer {
			out[key] = value
		}
	}
	return out
}

func (e environment) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e environment) duration(key string, fallback time.Duration) time.Duration {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e environment) integer(key string, fallback int) int {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e environment) flag(key string, fallback bool) bool {
	value, ok := e.lookup(key)
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

// EnvironmentValues returns the effective key/value environment map after
// applying the same precedence rules as Load. Callers can use the result to
// initialise dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := buildEnvironment(applyOptions(opts))
	if err != nil {
		return nil, err
	}
	return env.flatten(), nil
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := applyOptions(opts)

	env, err := buildEnvironment(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			StagingBucket: env.str("API_STORAGE_STAGING_BUCKET", ""),
			PublicBucket:  env.str("API_STORAGE_PUBLIC_BUCKET", ""),
			PublicBaseURL: env.str("API_STORAGE_PUBLIC_BASE_URL", ""),
			SignedURLKey:  env.str("API_STORAGE_SIGNED_URL_KEY", ""),
			SignedURLTTL:  env.duration("API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:         env.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic:  env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
			ReviewEventsTopic: env.str("API_PUBSUB_REVIEW_EVENTS_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: env.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			ReviewSubmitPerMinute:  env.integer("API_RATELIMIT_REVIEWS_PER_MIN", defaultRateLimitReviews),
		},
		Features: FeatureFlags{
			EnableVendorApplications: env.flag("API_FEATURE_VENDOR_APPLICATIONS", true),
			EnableReviews:            env.flag("API_FEATURE_REVIEWS", true),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub projects default to the Firebase project when
	// unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved, err := resolveSecretFields(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if fields := cfg.missingFields(); len(fields) > 0 {
		return Config{}, &ValidationError{fields: fields}
	}

	if missing := checkRequiredSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

// resolveSecretFields replaces secret references in cfg with their resolved
// values and records each field so required-secret checks can run afterwards.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	targets := []struct {
		name  string
		field *string
	}{
		{"Storage.SignedURLKey", &cfg.Storage.SignedURLKey},
	}

	resolved := make(map[string]string, len(targets))
	for _, target := range targets {
		value, err := resolveSecretValue(ctx, *target.field, resolver)
		if err != nil {
			return nil, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func resolveSecretValue(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretRef(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretRef reports whether value points at an external secret and returns the
// canonical secret:// form. The sm:// scheme is accepted as an alias.
func secretRef(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		return trimmed, true
	case strings.HasPrefix(trimmed, "sm://"):
		return "secret://" + strings.TrimPrefix(trimmed, "sm://"), true
	}
	return "", false
}

func (c Config) missingFields() []string {
	var fields []string
	require := func(ok bool, name string) {
		if !ok {
			fields = append(fields, name)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	require(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(c.Storage.StagingBucket != "", "Storage.StagingBucket")
	require(c.Storage.PublicBucket != "", "Storage.PublicBucket")
	require(c.Storage.SignedURLTTL > 0, "Storage.SignedURLTTL")
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	return fields
}

func checkRequiredSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(required))
	var missing []missingSecret
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(resolved[name]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	file, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", abs, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if key, value, ok := parseEnvLine(scanner.Text()); ok {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", abs, err)
	}
	return values, nil
}

// parseEnvLine handles blank lines, comments, optional "export " prefixes, and
// single or double quoted values.
func parseEnvLine(raw string) (key, value string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, strings.Trim(strings.TrimSpace(value), "\"'"), true
}
