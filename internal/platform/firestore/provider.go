package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vendora/api/internal/platform/config"
)

const (
	dialTimeout        = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// dialAttempt tracks one in-flight client creation so that concurrent
// callers share its outcome instead of dialing in parallel.
type dialAttempt struct {
	done   chan struct{}
	client *firestore.Client
	err    error
}

// Provider owns a lazily dialed Firestore client shared by every
// repository. The first Client call dials; later calls reuse the
// connection. A failed dial is not sticky, the next call retries.
type Provider struct {
	cfg config.FirestoreConfig

	mu      sync.Mutex
	client  *firestore.Client
	attempt *dialAttempt
	closed  bool
}

// NewProvider wraps the given configuration. No connection is made
// until the first Client call.
func NewProvider(cfg config.FirestoreConfig) *Provider {
	return &Provider{cfg: cfg}
}

// Client returns the shared Firestore client, dialing it on first use.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}

	for {
		p.mu.Lock()
		switch {
		case p.closed:
			p.mu.Unlock()
			return nil, ErrProviderClosed
		case p.client != nil:
			client := p.client
			p.mu.Unlock()
			return client, nil
		case p.attempt != nil:
			attempt := p.attempt
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-attempt.done:
			}
			if attempt.err != nil {
				return nil, attempt.err
			}
			continue
		}

		attempt := &dialAttempt{done: make(chan struct{})}
		p.attempt = attempt
		p.mu.Unlock()

		attempt.client, attempt.err = p.dial(ctx)

		p.mu.Lock()
		p.attempt = nil
		if attempt.err == nil && !p.closed {
			p.client = attempt.client
		}
		closed := p.closed
		p.mu.Unlock()
		close(attempt.done)

		if attempt.err != nil {
			return nil, attempt.err
		}
		if closed {
			return nil, ErrProviderClosed
		}
		return attempt.client, nil
	}
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	var opts []option.ClientOption
	if host := p.emulatorHost(); host != "" {
		// The SDK also reads this env var in a few places.
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(dialCtx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// RunTransaction runs fn inside a Firestore transaction on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

// Close tears down the client. The provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var client *firestore.Client
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		if attempt := p.attempt; attempt != nil {
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-attempt.done:
			}
			continue
		}
		p.closed = true
		client = p.client
		p.client = nil
		p.mu.Unlock()
		break
	}

	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Close()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *Provider) emulatorHost() string {
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
