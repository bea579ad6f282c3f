package walletsentinel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"agentwarden/internal/schema"
	"agentwarden/internal/storage"
)

type fakeClient struct {
	mu       sync.Mutex
	balances map[string][]float64 // per address, consumed in order
	errs     map[string]error
}

func (c *fakeClient) Balance(_ context.Context, _, _, address string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[address]; err != nil {
		return 0, err
	}
	queue := c.balances[address]
	if len(queue) == 0 {
		return 0, errors.New("no scripted balance")
	}
	b := queue[0]
	if len(queue) > 1 {
		c.balances[address] = queue[1:]
	}
	return b, nil
}

type captureReporter struct {
	mu     sync.Mutex
	events []*schema.SecurityEvent
}

func (r *captureReporter) Report(_ context.Context, e *schema.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureReporter) all() []*schema.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*schema.SecurityEvent(nil), r.events...)
}

var testWallet = WalletConfig{
	Address:             "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
	Label:               "treasury",
	Chain:               "solana",
	RPCURL:              "http://localhost:8899",
	DrainThresholdPct:   25,
	LowBalanceThreshold: 1.0,
}

func TestFirstSnapshotNeverAlerts(t *testing.T) {
	client := &fakeClient{balances: map[string][]float64{testWallet.Address: {0.2}}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

	// 0.2 is below the low threshold and would normally alert, but the
	// first observation only establishes the baseline.
	s.CheckAll(context.Background())
	if got := reporter.all(); len(got) != 0 {
		t.Fatalf("first check emitted %d events: %+v", len(got), got)
	}
}

func TestDrainDetection(t *testing.T) {
	client := &fakeClient{balances: map[string][]float64{testWallet.Address: {10.0, 10.0, 2.0}}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

	ctx := context.Background()
	s.CheckAll(ctx) // baseline
	s.CheckAll(ctx) // steady
	if got := reporter.all(); len(got) != 0 {
		t.Fatalf("steady balance emitted events: %+v", got)
	}

	s.CheckAll(ctx) // 10.0 -> 2.0
	events := reporter.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	e := events[0]
	if e.Severity != schema.SeverityEmergency {
		t.Errorf("severity = %s, want emergency", e.Severity)
	}
	if e.Category != schema.CategoryWallet {
		t.Errorf("category = %s, want wallet", e.Category)
	}
	drop, _ := e.Details["drop_percent"].(float64)
	if drop < 79.9 || drop > 80.1 {
		t.Errorf("drop_percent = %v, want ~80", drop)
	}
}

func TestDrainSeverityTiers(t *testing.T) {
	tests := []struct {
		name     string
		balances []float64
		want     schema.Severity
	}{
		{"at threshold", []float64{10.0, 7.5}, schema.SeverityCritical},
		{"halfway", []float64{10.0, 5.0}, schema.SeverityCritical},
		{"at eighty percent", []float64{10.0, 2.0}, schema.SeverityEmergency},
		{"total drain", []float64{10.0, 0.0}, schema.SeverityEmergency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{balances: map[string][]float64{testWallet.Address: tt.balances}}
			reporter := &captureReporter{}
			s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

			ctx := context.Background()
			s.CheckAll(ctx)
			s.CheckAll(ctx)

			events := reporter.all()
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1: %+v", len(events), events)
			}
			if events[0].Severity != tt.want {
				t.Errorf("severity = %s, want %s", events[0].Severity, tt.want)
			}
		})
	}
}

func TestDustBalanceNeverAlerts(t *testing.T) {
	// A dust-level previous balance going to zero is noise, not a drain.
	client := &fakeClient{balances: map[string][]float64{testWallet.Address: {0.0005, 0.0}}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

	ctx := context.Background()
	s.CheckAll(ctx)
	s.CheckAll(ctx)

	for _, e := range reporter.all() {
		if e.TitlePrefix() == "Wallet drain detected" {
			t.Fatalf("dust wallet produced drain event: %+v", e)
		}
	}
}

func TestSuspiciousSpike(t *testing.T) {
	client := &fakeClient{balances: map[string][]float64{testWallet.Address: {10.0, 35.0, 10.0, 120.0}}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

	ctx := context.Background()
	s.CheckAll(ctx) // baseline
	s.CheckAll(ctx) // 3.5x: below the spike factor
	if got := reporter.all(); len(got) != 0 {
		t.Fatalf("3.5x inflow alerted: %+v", got)
	}

	s.CheckAll(ctx) // 35 -> 10 is a drain, filtered out below
	s.CheckAll(ctx) // 10 -> 120: 12x spike
	var spikes []*schema.SecurityEvent
	for _, e := range reporter.all() {
		if e.TitlePrefix() == "Unexpected balance inflow" {
			spikes = append(spikes, e)
		}
	}
	if len(spikes) != 1 {
		t.Fatalf("got %d spike events, want 1", len(spikes))
	}
	if spikes[0].Severity != schema.SeverityWarning {
		t.Errorf("spike severity = %s, want warning", spikes[0].Severity)
	}
}

func TestLowBalanceEdgeTriggered(t *testing.T) {
	client := &fakeClient{balances: map[string][]float64{
		testWallet.Address: {2.0, 0.8, 0.7, 1.5, 0.9},
	}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.CheckAll(ctx)
	}

	var lowAlerts int
	for _, e := range reporter.all() {
		if e.TitlePrefix() == "Wallet balance low" {
			lowAlerts++
		}
	}
	// Fires at 0.8 (crossing), stays quiet at 0.7, re-arms at 1.5, fires
	// again at 0.9.
	if lowAlerts != 2 {
		t.Errorf("got %d low-balance alerts, want 2", lowAlerts)
	}
}

func TestConsecutiveFailuresDegradeMonitoring(t *testing.T) {
	client := &fakeClient{errs: map[string]error{testWallet.Address: errors.New("connection refused")}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet}, client, reporter, storage.Discard{})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		s.CheckAll(ctx)
	}
	if got := reporter.all(); len(got) != 0 {
		t.Fatalf("alerted before threshold: %+v", got)
	}

	s.CheckAll(ctx) // fifth consecutive failure
	events := reporter.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].TitlePrefix() != "Wallet monitoring degraded" {
		t.Errorf("title = %q", events[0].Title)
	}
	if events[0].Severity != schema.SeverityWarning {
		t.Errorf("severity = %s, want warning", events[0].Severity)
	}

	// Counter resets after the alert; four more failures stay quiet.
	for i := 0; i < 4; i++ {
		s.CheckAll(ctx)
	}
	if got := reporter.all(); len(got) != 1 {
		t.Errorf("counter did not reset: %d events", len(got))
	}
}

func TestFailuresCountAcrossWallets(t *testing.T) {
	second := testWallet
	second.Address = "7f4sPWEJLGN3ZVpUhZK8tBkXM4DrNvCeqSzxABTkV9qy"
	second.Label = "ops"

	client := &fakeClient{errs: map[string]error{
		testWallet.Address: errors.New("timeout"),
		second.Address:     errors.New("timeout"),
	}}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet, second}, client, reporter, storage.Discard{})

	ctx := context.Background()
	// Two failures per cycle: the shared counter crosses five mid-cycle on
	// the third pass.
	s.CheckAll(ctx)
	s.CheckAll(ctx)
	if got := reporter.all(); len(got) != 0 {
		t.Fatalf("alerted at four shared failures: %+v", got)
	}
	s.CheckAll(ctx)
	if got := reporter.all(); len(got) != 1 {
		t.Errorf("got %d degraded-monitoring events, want 1", len(got))
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	second := testWallet
	second.Address = "7f4sPWEJLGN3ZVpUhZK8tBkXM4DrNvCeqSzxABTkV9qy"
	second.Label = "ops"

	client := &fakeClient{
		balances: map[string][]float64{second.Address: {5.0}},
		errs:     map[string]error{testWallet.Address: errors.New("timeout")},
	}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet, second}, client, reporter, storage.Discard{})

	ctx := context.Background()
	// Every cycle one wallet fails and the other succeeds, so the shared
	// counter never reaches five.
	for i := 0; i < 10; i++ {
		s.CheckAll(ctx)
	}
	for _, e := range reporter.all() {
		if e.TitlePrefix() == "Wallet monitoring degraded" {
			t.Fatalf("counter survived successful checks: %+v", e)
		}
	}
}

func TestFailureDoesNotSkipOtherWallets(t *testing.T) {
	second := testWallet
	second.Address = "7f4sPWEJLGN3ZVpUhZK8tBkXM4DrNvCeqSzxABTkV9qy"
	second.Label = "ops"

	client := &fakeClient{
		balances: map[string][]float64{second.Address: {5.0, 1.0}},
		errs:     map[string]error{testWallet.Address: errors.New("timeout")},
	}
	reporter := &captureReporter{}
	s := New([]WalletConfig{testWallet, second}, client, reporter, storage.Discard{})

	ctx := context.Background()
	s.CheckAll(ctx)
	s.CheckAll(ctx)

	var drains int
	for _, e := range reporter.all() {
		if e.TitlePrefix() == "Wallet drain detected" {
			drains++
		}
	}
	if drains != 1 {
		t.Errorf("healthy wallet not checked past failing one: %d drain events", drains)
	}
}
