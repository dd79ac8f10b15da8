package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/internal/metrics"
	"github.com/mohammad-safakhou/autostrat/internal/store"
	"github.com/mohammad-safakhou/autostrat/internal/worker"
)

type topicGenerator struct{}

func (topicGenerator) Generate(ctx context.Context, topic string) (string, error) {
	if strings.HasPrefix(topic, "fail") {
		return "", errors.New("analyst: model overloaded")
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "# Strategy for " + topic, nil
}

func submitHTTP(t *testing.T, base, topic string) GenerateResponse {
	t.Helper()
	body, _ := json.Marshal(GenerateRequest{Topic: topic})
	resp, err := http.Post(base+"/generate-strategy", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Errorf("submit %q: %v", topic, err)
		return GenerateResponse{}
	}
	defer resp.Body.Close()
	var out GenerateResponse
	if resp.StatusCode != http.StatusOK {
		t.Errorf("submit %q: status %d", topic, resp.StatusCode)
		return out
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Errorf("submit %q: decode: %v", topic, err)
	}
	return out
}

func pollHTTP(t *testing.T, base, id string) StatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last StatusResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/status/" + id)
		if err != nil {
			t.Fatalf("poll %s: %v", id, err)
		}
		last = StatusResponse{}
		err = json.NewDecoder(resp.Body).Decode(&last)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("poll %s: decode: %v", id, err)
		}
		if last.Status != string(store.StatusProcessing) {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s still %s", id, last.Status)
	return last
}

func TestGenerateStrategyFlowOverHTTP(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	st := store.NewMemory()
	m := metrics.New()
	exec := worker.NewExecutor(logger, st, worker.NewRunner(logger, topicGenerator{}, time.Second),
		worker.ExecutorConfig{Workers: 2, QueueSize: 16}, worker.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- exec.Run(ctx) }()

	s := New(Options{
		Config:      config.ServerConfig{},
		MetricsPath: "/metrics",
		Logger:      logger,
		Store:       st,
		Dispatcher:  exec,
		Metrics:     m,
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	topics := []string{"grid storage", "grid storage", "fail fast", "heat pumps"}
	subs := make([]GenerateResponse, len(topics))
	var wg sync.WaitGroup
	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			subs[i] = submitHTTP(t, srv.URL, topic)
		}(i, topic)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}
	if subs[0].TaskID == subs[1].TaskID {
		t.Fatalf("same topic must yield two tasks, got %q twice", subs[0].TaskID)
	}

	for i, sub := range subs {
		if sub.Status != "processing" {
			t.Fatalf("submit %d: unexpected status %q", i, sub.Status)
		}
		got := pollHTTP(t, srv.URL, sub.TaskID)
		if topics[i] == "fail fast" {
			if got.Status != "failed" || got.Result == nil || *got.Result != "analyst: model overloaded" {
				t.Fatalf("expected failed task, got %+v", got)
			}
			continue
		}
		if got.Status != "completed" || got.Result == nil || *got.Result != "# Strategy for "+topics[i] {
			t.Fatalf("unexpected terminal status for %q: %+v", topics[i], got)
		}
	}

	// terminal states stay put
	again := pollHTTP(t, srv.URL, subs[0].TaskID)
	if again.Status != "completed" {
		t.Fatalf("terminal status changed: %+v", again)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("executor run: %v", err)
	}
}
