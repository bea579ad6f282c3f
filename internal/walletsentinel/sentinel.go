// Package walletsentinel polls configured wallet balances and emits events
// on drains, low-balance crossings, anomalous inflows and degraded RPC
// monitoring.
package walletsentinel

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"agentwarden/internal/metrics"
	"agentwarden/internal/schema"
	"agentwarden/internal/storage"
)

// failureAlertThreshold is how many consecutive RPC failures, counted
// across all wallets, trigger a degraded-monitoring event. The counter
// resets on alert and on any successful check.
const failureAlertThreshold = 5

// spikeFactor flags inflows that exceed ten times the previous balance.
const spikeFactor = 10.0

// emergencyDrainPct is the drop percentage at which a drain escalates from
// critical to emergency.
const emergencyDrainPct = 80.0

// dustThreshold is the balance below which diffs are noise: dust wallets
// never produce drain or spike alerts.
const dustThreshold = 0.001

// WalletConfig describes one monitored wallet.
type WalletConfig struct {
	Address             string
	Label               string
	Chain               string
	RPCURL              string
	DrainThresholdPct   float64
	LowBalanceThreshold float64
}

// SnapshotStore persists balance observations.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap storage.WalletSnapshot) error
}

// walletState is the in-memory trail for one wallet. The first observed
// balance only establishes the baseline; comparisons start from the second.
type walletState struct {
	prevBalance float64
	hasBaseline bool
	lowAlerted  bool
}

// Sentinel monitors wallet balances against their previous snapshot. RPC
// failures are counted across all wallets: five in a row means monitoring
// itself is degraded, not that any one wallet is in trouble.
type Sentinel struct {
	wallets   []WalletConfig
	client    BalanceClient
	reporter  schema.Reporter
	snapshots SnapshotStore

	mu       sync.Mutex
	state    map[string]*walletState
	failures int
}

// New creates a wallet sentinel.
func New(wallets []WalletConfig, client BalanceClient, reporter schema.Reporter, snapshots SnapshotStore) *Sentinel {
	return &Sentinel{
		wallets:   wallets,
		client:    client,
		reporter:  reporter,
		snapshots: snapshots,
		state:     make(map[string]*walletState, len(wallets)),
	}
}

// CheckAll polls every configured wallet once. Wallets are independent; a
// failure on one never skips the rest.
func (s *Sentinel) CheckAll(ctx context.Context) {
	for _, w := range s.wallets {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.checkWallet(ctx, w)
	}
}

func (s *Sentinel) checkWallet(ctx context.Context, w WalletConfig) {
	balance, err := s.client.Balance(ctx, w.Chain, w.RPCURL, w.Address)
	if err != nil {
		s.recordFailure(ctx, w, err)
		return
	}

	s.mu.Lock()
	s.failures = 0
	st := s.state[w.Address]
	if st == nil {
		st = &walletState{}
		s.state[w.Address] = st
	}

	if !st.hasBaseline {
		st.hasBaseline = true
		st.prevBalance = balance
		s.mu.Unlock()
		slog.Info("wallet baseline established",
			"label", w.Label, "address", shortAddr(w.Address), "balance", balance)
		s.persistSnapshot(ctx, w, balance)
		return
	}

	prev := st.prevBalance
	st.prevBalance = balance

	var events []*schema.SecurityEvent

	if prev > dustThreshold {
		dropPct := (prev - balance) / prev * 100
		if dropPct >= w.DrainThresholdPct {
			sev := schema.SeverityCritical
			if dropPct >= emergencyDrainPct {
				sev = schema.SeverityEmergency
			}
			events = append(events, schema.NewEvent(schema.CategoryWallet, sev,
				"Wallet drain detected: "+w.Label,
				map[string]any{
					"address":      w.Address,
					"chain":        w.Chain,
					"prev_balance": prev,
					"balance":      balance,
					"drop_percent": math.Round(dropPct*100) / 100,
				}))
		} else if balance > prev*spikeFactor {
			events = append(events, schema.NewEvent(schema.CategoryWallet, schema.SeverityWarning,
				"Unexpected balance inflow: "+w.Label,
				map[string]any{
					"address":      w.Address,
					"chain":        w.Chain,
					"prev_balance": prev,
					"balance":      balance,
				}))
		}
	}

	// Low balance fires on the downward crossing only and re-arms once the
	// balance recovers above the threshold.
	if w.LowBalanceThreshold > 0 {
		if balance < w.LowBalanceThreshold && !st.lowAlerted {
			st.lowAlerted = true
			events = append(events, schema.NewEvent(schema.CategoryWallet, schema.SeverityWarning,
				"Wallet balance low: "+w.Label,
				map[string]any{
					"address":   w.Address,
					"chain":     w.Chain,
					"balance":   balance,
					"threshold": w.LowBalanceThreshold,
				}))
		} else if balance >= w.LowBalanceThreshold {
			st.lowAlerted = false
		}
	}
	s.mu.Unlock()

	for _, event := range events {
		s.reporter.Report(ctx, event)
	}
	s.persistSnapshot(ctx, w, balance)
}

func (s *Sentinel) recordFailure(ctx context.Context, w WalletConfig, err error) {
	s.mu.Lock()
	s.failures++
	alert := s.failures >= failureAlertThreshold
	if alert {
		s.failures = 0
	}
	s.mu.Unlock()

	slog.Warn("wallet balance check failed",
		"label", w.Label, "address", shortAddr(w.Address), "error", err)

	if alert {
		s.reporter.Report(ctx, schema.NewEvent(schema.CategoryWallet, schema.SeverityWarning,
			"Wallet monitoring degraded: consecutive RPC failures",
			map[string]any{
				"consecutive_failures": failureAlertThreshold,
				"last_wallet":          w.Label,
				"last_error":           err.Error(),
			}))
	}
}

func (s *Sentinel) persistSnapshot(ctx context.Context, w WalletConfig, balance float64) {
	snap := storage.WalletSnapshot{
		Address:   w.Address,
		Label:     w.Label,
		Chain:     w.Chain,
		Balance:   balance,
		Timestamp: time.Now().UTC(),
	}
	if err := s.snapshots.InsertSnapshot(ctx, snap); err != nil {
		metrics.StoreErrors.WithLabelValues("wallet_snapshots").Inc()
		slog.Error("failed to persist wallet snapshot", "label", w.Label, "error", err)
	}
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
