//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	pconfig "github.com/vendora/api/internal/platform/config"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/repositories"
)

func TestCounterRepositoryConcurrentIncrements(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := emulatorProvider(t)

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("NewCounterRepository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Hammer the SKU counter from concurrent workers and require a dense
	// sequence with no duplicates or gaps.
	const workers = 16
	values := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "products:sku", 1)
			if err != nil {
				t.Errorf("Next(%d): %v", idx, err)
				return
			}
			values[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, value := range values {
		if want := int64(i + 1); value != want {
			t.Fatalf("expected %d at position %d, got %d (all: %v)", want, i, value, values)
		}
	}
}

func TestCounterRepositoryBoundedCounterExhausts(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := emulatorProvider(t)

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("NewCounterRepository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	max := int64(3)
	start := int64(0)
	if err := repo.Configure(ctx, "vendors:applications", repositories.CounterConfig{
		Step:         1,
		MaxValue:     &max,
		InitialValue: &start,
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	for i := int64(1); i <= max; i++ {
		value, err := repo.Next(ctx, "vendors:applications", 0)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if value != i {
			t.Fatalf("expected %d, got %d", i, value)
		}
	}

	_, err = repo.Next(ctx, "vendors:applications", 0)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		t.Fatalf("expected CounterError past the max, got %T %v", err, err)
	}
	if counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted code, got %s", counterErr.Code)
	}
}

// emulatorProvider boots a Firestore emulator container and returns a
// provider pointed at it, skipping when docker is unavailable.
func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		"gcr.io/google.com/cloudsdktool/cloud-sdk:emulators",
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("starting firestore emulator: %v - %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("emulator did not become ready: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "counter-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}
