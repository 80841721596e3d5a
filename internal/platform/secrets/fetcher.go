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
	meterName           = "github.com/craftline/commerce-api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// and sm:// references against Google Secret
// Manager. Resolved values are cached for the process lifetime; a local
// key=value file covers development machines without GCP credentials.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger

	env         string
	defaultProj string
	projects    map[string]string
	versionPins map[string]string

	fallbackPath string
	fallback     map[string]string
	fallbackErr  error
	loadFallback sync.Once

	mu    sync.RWMutex
	cache map[string]string

	fetchLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
}

type fetcherOptions struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projects     map[string]string
	versionPins  map[string]string
	fallbackPath string
	meter        metric.Meter
	client       accessClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherOptions)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *fetcherOptions) { o.logger = logger }
}

// WithEnvironment selects the environment label used when looking up
// per-environment project IDs and version pins.
func WithEnvironment(env string) Option {
	return func(o *fetcherOptions) { o.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project ID used when no environment mapping or
// per-reference override applies.
func WithDefaultProject(projectID string) Option {
	return func(o *fetcherOptions) { o.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies environment label to project ID mappings.
func WithProjectMap(m map[string]string) Option {
	return func(o *fetcherOptions) { o.projects = cloneMap(m) }
}

// WithVersionPins overrides the secret version per canonical reference,
// optionally prefixed "env:" to scope the pin to one environment.
func WithVersionPins(pins map[string]string) Option {
	return func(o *fetcherOptions) { o.versionPins = cloneMap(pins) }
}

// WithFallbackFile points at the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(o *fetcherOptions) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(o *fetcherOptions) { o.meter = m }
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(o *fetcherOptions) { o.client = client }
}

// WithClientOptions forwards Cloud client options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *fetcherOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal:
// the fetcher degrades to the local fallback file so the API can still boot
// against the Firestore emulator.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := fetcherOptions{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
	}
	if o.env == "" {
		o.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	meter := o.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:       o.logger,
		env:          o.env,
		defaultProj:  o.defaultProj,
		projects:     cloneMap(o.projects),
		versionPins:  cloneMap(o.versionPins),
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]string),
	}

	if hist, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret fetch attempts"),
	); err == nil {
		f.fetchLatency = hist
	} else {
		o.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}
	if counter, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Cache hits when resolving secret references"),
	); err == nil {
		f.cacheHits = counter
	} else {
		o.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}

	if o.client != nil {
		f.client = o.client
		return f, nil
	}

	client, err := newSecretManagerClient(ctx, o.clientOpts...)
	if err != nil {
		o.logger.Warn("secrets: secret manager client unavailable; using local fallback only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the underlying client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for the supplied reference.
func (f *Fetcher) Resolve(ctx context.Context, rawRef string) (string, error) {
	start := time.Now()

	ref, err := parseRef(rawRef)
	if err != nil {
		return "", err
	}
	version := f.pinnedVersion(ref)
	key := ref.canonical + "#" + version

	f.mu.RLock()
	cached, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		f.countCacheHit(ctx, ref)
		f.observe(ctx, start, "cache")
		return cached, nil
	}

	project := f.projectFor(ref)
	if project != "" && f.client != nil {
		value, err := f.access(ctx, project, ref.name, version)
		switch {
		case err == nil:
			f.store(key, value)
			f.observe(ctx, start, "remote")
			return value, nil
		case !degradedToFallback(err):
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		default:
			f.logger.Debug("secrets: remote fetch degraded to fallback",
				zap.String("secret", maskRef(ref.canonical)), zap.Error(err))
		}
	}

	value, ok := f.fallbackValue(ref, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value available for %s", ref.canonical)
	}
	f.store(key, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate drops cached values for the reference, forcing the next Resolve
// to hit Secret Manager again after a rotation.
func (f *Fetcher) Invalidate(rawRef string) {
	ref, err := parseRef(rawRef)
	if err != nil {
		return
	}
	prefix := ref.canonical + "#"
	f.mu.Lock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) projectFor(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return f.defaultProj
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.canonical]); pin != "" {
		return pin
	}
	return "latest"
}

func (f *Fetcher) fallbackValue(ref secretRef, version string) (string, bool) {
	f.loadFallback.Do(f.readFallbackFile)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if v, ok := f.fallback[ref.canonical+"#"+version]; ok {
		return v, true
	}
	v, ok := f.fallback[ref.canonical]
	return v, ok
}

func (f *Fetcher) readFallbackFile() {
	f.fallback = map[string]string{}
	path := strings.TrimSpace(f.fallbackPath)
	if path == "" {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
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
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if ref, err := parseRef(key); err == nil {
			version := ref.version
			if version == "" {
				version = "latest"
			}
			f.fallback[ref.canonical] = value
			f.fallback[ref.canonical+"#"+version] = value
		} else {
			f.fallback[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.fetchLatency == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.fetchLatency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) countCacheHit(ctx context.Context, ref secretRef) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskRef(ref.canonical))))
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

// parseRef accepts secret://name and sm://name forms with optional
// ?version= and ?project= query parameters. Both schemes canonicalise to
// secret:// so cache keys and fallback lookups agree.
func parseRef(raw string) (secretRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	query := u.Query()
	return secretRef{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// degradedToFallback reports whether the remote failure is an access or
// availability problem that the local fallback file may cover. NotFound is
// deliberately excluded so typoed secret names surface as errors.
func degradedToFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func maskRef(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
