// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a local fallback file for
// development machines without cloud credentials.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"

	meterScope = "github.com/vendora/api/internal/platform/secrets"
)

// Swapped out in tests to avoid dialling the real service.
var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// reference is a parsed secret:// URL. The canonical form strips the
// query string so secret://signer_key?version=3 and secret://signer_key
// share one cache identity.
type reference struct {
	canonical string
	name      string
	version   string // from ?version=, empty means unpinned
	project   string // from ?project=, overrides the env mapping
}

func parseReference(raw string) (reference, error) {
	if strings.TrimSpace(raw) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	q := u.Query()
	return reference{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(q.Get("version")),
		project:   strings.TrimSpace(q.Get("project")),
	}, nil
}

// Fetcher resolves secret references. Values are cached per
// (canonical, version) pair until Invalidate is called for the
// reference, e.g. after a rotation event.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu       sync.RWMutex
	cache    map[string]cachedValue
	watchers map[string][]chan struct{}

	metrics resolveMetrics
}

type cachedValue struct {
	value     string
	canonical string
	fetchedAt time.Time
}

type resolveMetrics struct {
	duration  metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type settings struct {
	logger       *zap.Logger
	env          string
	project      string
	projectByEnv map[string]string
	versionPins  map[string]string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects which entry of the project map applies.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when the environment has no
// mapping and the reference carries no ?project= override.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) { s.projectByEnv = cloneMap(m) }
}

// WithFallbackFile overrides the local fallback secrets file path.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithVersionPins pins specific secret versions, keyed by canonical
// reference or by "env:canonical" for per-environment pins.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.versionPins = cloneMap(pins) }
}

// WithSecretManagerClient injects a preconfigured client, used by tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions forwards Cloud client options to the real client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not
// fatal: the fetcher then serves exclusively from the fallback file,
// which is the expected mode on developer machines.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projectByEnv: map[string]string{},
		versionPins:  map[string]string{},
	}
	if s.env == "" {
		s.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:         s.logger,
		env:            s.env,
		defaultProject: s.project,
		projectByEnv:   cloneMap(s.projectByEnv),
		versionPins:    cloneMap(s.versionPins),
		fallbackPath:   s.fallbackPath,
		cache:          make(map[string]cachedValue),
		watchers:       make(map[string][]chan struct{}),
		metrics:        newResolveMetrics(s.logger),
	}

	if s.client != nil {
		f.client = s.client
		return f, nil
	}

	client, err := secretManagerClientFactory(ctx, s.clientOpts...)
	if err != nil {
		s.logger.Warn("secrets: secret manager unavailable, fallback-only mode", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

func newResolveMetrics(logger *zap.Logger) resolveMetrics {
	meter := otel.GetMeterProvider().Meter(meterScope)

	var m resolveMetrics
	var err error
	m.duration, err = meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	)
	if err != nil {
		logger.Warn("secrets: duration metric unavailable", zap.Error(err))
		m.duration = nil
	}
	m.cacheHits, err = meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"),
	)
	if err != nil {
		logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
		m.cacheHits = nil
	}
	return m
}

// Close releases the Secret Manager client if the fetcher created it
// and closes all subscriber channels.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for canonical, chans := range f.watchers {
		delete(f.watchers, canonical)
		for _, ch := range chans {
			closeQuietly(ch)
		}
	}
	f.mu.Unlock()

	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference. Remote
// lookups that fail with an access or availability error fall through
// to the fallback file; a NotFound from Secret Manager does not, since
// a missing secret in the configured project is a deployment bug.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(ref)
	key := ref.canonical + "#" + version

	if value, ok := f.cached(key); ok {
		f.countCacheHit(ctx, ref)
		f.observe(ctx, start, "cache")
		return value, nil
	}

	project := f.projectFor(ref)
	if project != "" && f.client != nil {
		value, err := f.accessVersion(ctx, project, ref.name, version)
		if err == nil {
			f.remember(key, ref.canonical, value)
			f.observe(ctx, start, "remote")
			return value, nil
		}
		if !shouldFallBack(err) {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: remote fetch failed, trying fallback file",
			zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok := f.fromFallback(ref, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
	}
	f.remember(key, ref.canonical, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate drops every cached version of the reference and wakes its
// subscribers. Called when a rotation is detected out of band.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}

	f.mu.Lock()
	for key, entry := range f.cache {
		if entry.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
	chans := f.watchers[ref.canonical]
	f.mu.Unlock()

	for _, ch := range chans {
		if ch == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- struct{}{}:
			default:
			}
		}()
	}
}

// Subscribe returns a channel that receives a tick whenever the
// reference is invalidated, plus a cancel func to unregister.
func (f *Fetcher) Subscribe(raw string) (<-chan struct{}, func()) {
	ref, err := parseReference(raw)
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.watchers[ref.canonical] = append(f.watchers[ref.canonical], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		chans := f.watchers[ref.canonical]
		for i, existing := range chans {
			if existing == ch {
				chans = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(chans) == 0 {
			delete(f.watchers, ref.canonical)
		} else {
			f.watchers[ref.canonical] = chans
		}
	}
	return ch, cancel
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) remember(key, canonical, value string) {
	f.mu.Lock()
	f.cache[key] = cachedValue{value: value, canonical: canonical, fetchedAt: time.Now()}
	f.mu.Unlock()
}

func (f *Fetcher) accessVersion(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectByEnv[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) pinnedVersion(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return defaultVersion
}

func (f *Fetcher) fromFallback(ref reference, version string) (string, bool) {
	f.loadFallbackFile()
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unusable", zap.Error(f.fallbackErr))
		return "", false
	}
	if val, ok := f.fallback[ref.canonical+"#"+version]; ok {
		return val, true
	}
	val, ok := f.fallback[ref.canonical]
	return val, ok
}

// loadFallbackFile reads the fallback file once. Lines are KEY=VALUE;
// keys written as secret:// (or the sm:// shorthand) index by canonical
// reference, everything else is kept verbatim. A missing file is fine.
func (f *Fetcher) loadFallbackFile() {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}

		path := strings.TrimSpace(f.fallbackPath)
		if path == "" {
			return
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}

		file, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			key = normalizeScheme(strings.TrimSpace(key))
			value = strings.TrimSpace(value)
			if key == "" {
				continue
			}

			ref, err := parseReference(key)
			if err != nil {
				f.fallback[key] = value
				continue
			}
			version := ref.version
			if version == "" {
				version = defaultVersion
			}
			f.fallback[ref.canonical] = value
			f.fallback[ref.canonical+"#"+version] = value
		}
		if err := scanner.Err(); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", path, err)
		}
	})
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.metrics.duration == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.metrics.duration.Record(ctx, elapsed,
		metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) countCacheHit(ctx context.Context, ref reference) {
	if f.metrics.cacheHits == nil {
		return
	}
	f.metrics.cacheHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("secret", maskReference(ref.canonical))))
}

// maskReference hashes the reference so metric labels never leak
// secret names.
func maskReference(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

// shouldFallBack reports whether a remote error is the kind the local
// fallback file exists for: missing credentials or an unreachable
// service, never a missing secret.
func shouldFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func normalizeScheme(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		return "secret://" + rest
	}
	return ref
}

func closeQuietly(ch chan struct{}) {
	defer func() { _ = recover() }()
	close(ch)
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
