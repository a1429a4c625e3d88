package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingDoer tracks concurrency and admission times of forwarded requests.
type recordingDoer struct {
	delay   time.Duration
	block   chan struct{}
	err     error
	current atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64

	mu    sync.Mutex
	times []time.Time
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.times = append(d.times, time.Now())
	d.mu.Unlock()

	n := d.current.Add(1)
	defer d.current.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if d.block != nil {
		<-d.block
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func (d *recordingDoer) admissions() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]time.Time(nil), d.times...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func newRequest(t *testing.T, ctx context.Context) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://query1.finance.yahoo.com/v8/finance/chart/AAPL", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return req
}

func TestNewGate_Validation(t *testing.T) {
	doer := &recordingDoer{}

	tests := []struct {
		name      string
		next      Doer
		budget    Budget
		wantError bool
	}{
		{name: "default budget", next: doer, budget: DefaultBudget()},
		{name: "nil next", next: nil, budget: DefaultBudget(), wantError: true},
		{name: "zero per period", next: doer, budget: Budget{MaxPerPeriod: 0, Period: time.Minute}, wantError: true},
		{name: "negative per period", next: doer, budget: Budget{MaxPerPeriod: -3, Period: time.Minute}, wantError: true},
		{name: "zero period", next: doer, budget: Budget{MaxPerPeriod: 1}, wantError: true},
		{name: "negative period", next: doer, budget: Budget{MaxPerPeriod: 1, Period: -time.Second}, wantError: true},
		{name: "parallel clamped", next: doer, budget: Budget{MaxPerPeriod: 2, Period: time.Second, MaxParallel: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGate(tt.next, tt.budget, zerolog.Nop())
			if tt.wantError {
				if err == nil {
					t.Errorf("NewGate() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewGate() unexpected error: %v", err)
			}
			if got := g.Budget().MaxParallel; got > g.Budget().MaxPerPeriod || got <= 0 {
				t.Errorf("Budget().MaxParallel = %d, want in (0, %d]", got, g.Budget().MaxPerPeriod)
			}
		})
	}
}

func TestGate_ParallelCap(t *testing.T) {
	const maxParallel = 3

	doer := &recordingDoer{delay: 20 * time.Millisecond}
	g, err := NewGate(doer, Budget{MaxPerPeriod: 100, Period: time.Second, MaxParallel: maxParallel}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := g.Do(newRequest(t, context.Background()))
			if err != nil {
				t.Errorf("Do() error = %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if peak := doer.peak.Load(); peak > maxParallel {
		t.Errorf("peak in flight = %d, want <= %d", peak, maxParallel)
	}
	if calls := doer.calls.Load(); calls != 20 {
		t.Errorf("forwarded calls = %d, want 20", calls)
	}
	if s := g.State(); s.InFlight != 0 {
		t.Errorf("State().InFlight = %d after all requests finished, want 0", s.InFlight)
	}
}

func TestGate_SlidingWindow(t *testing.T) {
	const (
		maxPerPeriod = 3
		period       = 200 * time.Millisecond
		requests     = 9
		tolerance    = 20 * time.Millisecond
	)

	doer := &recordingDoer{}
	g, err := NewGate(doer, Budget{MaxPerPeriod: maxPerPeriod, Period: period, MaxParallel: maxPerPeriod}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := g.Do(newRequest(t, context.Background()))
			if err != nil {
				t.Errorf("Do() error = %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	times := doer.admissions()
	if len(times) != requests {
		t.Fatalf("admissions = %d, want %d", len(times), requests)
	}

	// Any maxPerPeriod+1 consecutive admissions must span at least one period.
	for i := 0; i+maxPerPeriod < len(times); i++ {
		gap := times[i+maxPerPeriod].Sub(times[i])
		if gap < period-tolerance {
			t.Errorf("admissions %d and %d are %s apart, want >= %s", i, i+maxPerPeriod, gap, period)
		}
	}
}

func TestGate_CancelWhileWaitingForParallelSlot(t *testing.T) {
	doer := &recordingDoer{block: make(chan struct{})}
	g, err := NewGate(doer, Budget{MaxPerPeriod: 10, Period: time.Minute, MaxParallel: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	first := make(chan error, 1)
	go func() {
		resp, err := g.Do(newRequest(t, context.Background()))
		if err == nil {
			resp.Body.Close()
		}
		first <- err
	}()

	// wait until the first request holds the only parallel slot
	deadline := time.Now().Add(2 * time.Second)
	for doer.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never reached the doer")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.Do(newRequest(t, ctx))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want context.DeadlineExceeded", err)
	}

	close(doer.block)
	if err := <-first; err != nil {
		t.Fatalf("first Do() error = %v", err)
	}

	resp, err := g.Do(newRequest(t, context.Background()))
	if err != nil {
		t.Fatalf("third Do() error = %v", err)
	}
	resp.Body.Close()

	if calls := doer.calls.Load(); calls != 2 {
		t.Errorf("forwarded calls = %d, want 2", calls)
	}
	if used := g.State().WindowUsed; used != 2 {
		t.Errorf("State().WindowUsed = %d, want 2 (cancelled request must not take a rate slot)", used)
	}
}

func TestGate_CancelWhileWaitingForRateSlot(t *testing.T) {
	doer := &recordingDoer{}
	g, err := NewGate(doer, Budget{MaxPerPeriod: 1, Period: time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	resp, err := g.Do(newRequest(t, context.Background()))
	if err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.Do(newRequest(t, ctx))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want context.DeadlineExceeded", err)
	}

	s := g.State()
	if s.InFlight != 0 {
		t.Errorf("State().InFlight = %d, want 0", s.InFlight)
	}
	if s.WindowUsed != 1 {
		t.Errorf("State().WindowUsed = %d, want 1", s.WindowUsed)
	}
	if !s.IsSaturated() {
		t.Errorf("State().IsSaturated() = false, want true")
	}
}

func TestGate_ReleasesParallelSlotOnError(t *testing.T) {
	boom := errors.New("connection refused")
	doer := &recordingDoer{err: boom}
	g, err := NewGate(doer, Budget{MaxPerPeriod: 10, Period: time.Minute, MaxParallel: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := g.Do(newRequest(t, ctx))
		cancel()
		if !errors.Is(err, boom) {
			t.Fatalf("Do() #%d error = %v, want %v", i, err, boom)
		}
	}

	if calls := doer.calls.Load(); calls != 3 {
		t.Errorf("forwarded calls = %d, want 3", calls)
	}
}

func TestGate_RateSlotReleasedAfterPeriod(t *testing.T) {
	const period = 50 * time.Millisecond

	doer := &recordingDoer{}
	g, err := NewGate(doer, Budget{MaxPerPeriod: 2, Period: period}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		resp, err := g.Do(newRequest(t, context.Background()))
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		resp.Body.Close()
	}
	if used := g.State().WindowUsed; used != 2 {
		t.Errorf("State().WindowUsed = %d, want 2", used)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.State().WindowUsed != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("rate slots not released, WindowUsed = %d", g.State().WindowUsed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
