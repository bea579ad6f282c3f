// Package netshield watches the RPC endpoints the fleet depends on: height
// progress, divergence from a reference endpoint, reachability, and outbound
// request rates.
package netshield

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"agentwarden/internal/schema"
)

// EndpointConfig describes one monitored RPC endpoint.
type EndpointConfig struct {
	URL   string
	Label string
	Chain string
	// Primary endpoints alert at critical when unreachable; fallbacks at warning.
	Primary bool
}

// Config holds network shield settings.
type Config struct {
	Endpoints []EndpointConfig
	// ReferenceEndpoints maps chain name to a trusted endpoint used as the
	// divergence baseline.
	ReferenceEndpoints map[string]string
	// DivergenceThreshold is the max tolerated height gap against the reference.
	DivergenceThreshold uint64
	// FailureThreshold is how many consecutive probe failures mark an
	// endpoint unreachable.
	FailureThreshold int
}

// HeightClient fetches the current chain height from an endpoint.
type HeightClient interface {
	ChainHeight(ctx context.Context, chain, rpcURL string) (uint64, error)
}

// endpointState tracks probe history for one endpoint.
type endpointState struct {
	lastHeight    uint64
	haveHeight    bool
	failures      int
	downAlerted   bool
	staleAlerted  bool
	divergAlerted bool
}

// Shield probes configured endpoints and emits events on degradation.
type Shield struct {
	cfg      Config
	client   HeightClient
	reporter schema.Reporter

	mu    sync.Mutex
	state map[string]*endpointState
}

// New creates a network shield.
func New(cfg Config, client HeightClient, reporter schema.Reporter) *Shield {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.DivergenceThreshold == 0 {
		cfg.DivergenceThreshold = 50
	}
	return &Shield{
		cfg:      cfg,
		client:   client,
		reporter: reporter,
		state:    make(map[string]*endpointState, len(cfg.Endpoints)),
	}
}

// CheckAll probes every configured endpoint once. Reference heights are
// fetched once per chain and shared across that chain's endpoints.
func (s *Shield) CheckAll(ctx context.Context) {
	refHeights := make(map[string]uint64, len(s.cfg.ReferenceEndpoints))
	for chain, url := range s.cfg.ReferenceEndpoints {
		h, err := s.client.ChainHeight(ctx, chain, url)
		if err != nil {
			slog.Warn("reference endpoint unavailable", "chain", chain, "error", err)
			continue
		}
		refHeights[chain] = h
	}

	for _, ep := range s.cfg.Endpoints {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.checkEndpoint(ctx, ep, refHeights)
	}
}

func (s *Shield) checkEndpoint(ctx context.Context, ep EndpointConfig, refHeights map[string]uint64) {
	height, err := s.client.ChainHeight(ctx, ep.Chain, ep.URL)

	s.mu.Lock()
	st := s.state[ep.URL]
	if st == nil {
		st = &endpointState{}
		s.state[ep.URL] = st
	}

	if err != nil {
		st.failures++
		alert := st.failures >= s.cfg.FailureThreshold && !st.downAlerted
		if alert {
			st.downAlerted = true
		}
		failures := st.failures
		s.mu.Unlock()

		slog.Warn("endpoint probe failed", "label", ep.Label, "failures", failures, "error", err)
		if alert {
			sev := schema.SeverityWarning
			if ep.Primary {
				sev = schema.SeverityCritical
			}
			s.reporter.Report(ctx, schema.NewEvent(schema.CategoryNetwork, sev,
				"Endpoint unreachable: "+ep.Label,
				map[string]any{
					"url":                  ep.URL,
					"chain":                ep.Chain,
					"primary":              ep.Primary,
					"consecutive_failures": failures,
					"error":                err.Error(),
				}))
		}
		return
	}

	recovered := st.downAlerted
	st.failures = 0
	st.downAlerted = false

	var events []*schema.SecurityEvent
	if recovered {
		events = append(events, schema.NewEvent(schema.CategoryNetwork, schema.SeverityInfo,
			"Endpoint recovered: "+ep.Label,
			map[string]any{"url": ep.URL, "chain": ep.Chain, "height": height}))
	}

	// Stale detection: any check where the height did not advance past the
	// previous one flags the endpoint, once, until it moves again.
	if st.haveHeight && height <= st.lastHeight {
		if !st.staleAlerted {
			st.staleAlerted = true
			events = append(events, schema.NewEvent(schema.CategoryNetwork, schema.SeverityWarning,
				"Endpoint stalled: "+ep.Label,
				map[string]any{
					"url":    ep.URL,
					"chain":  ep.Chain,
					"height": height,
				}))
		}
	} else {
		st.staleAlerted = false
	}
	st.lastHeight = height
	st.haveHeight = true

	// Divergence against the chain's reference endpoint, edge-triggered.
	// Divergence on the primary endpoint means the fleet may be acting on
	// wrong chain state, so it alerts at critical.
	if ref, ok := refHeights[ep.Chain]; ok {
		gap := absDiff(ref, height)
		if gap > s.cfg.DivergenceThreshold {
			if !st.divergAlerted {
				st.divergAlerted = true
				sev := schema.SeverityWarning
				if ep.Primary {
					sev = schema.SeverityCritical
				}
				events = append(events, schema.NewEvent(schema.CategoryNetwork, sev,
					"Endpoint diverging: "+ep.Label,
					map[string]any{
						"url":              ep.URL,
						"chain":            ep.Chain,
						"height":           height,
						"reference_height": ref,
						"gap":              gap,
					}))
			}
		} else {
			st.divergAlerted = false
		}
	}
	s.mu.Unlock()

	for _, event := range events {
		s.reporter.Report(ctx, event)
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// JSONRPCHeightClient fetches heights over chain JSON-RPC.
type JSONRPCHeightClient struct {
	http *http.Client
}

// NewJSONRPCHeightClient creates a height client with a bounded timeout.
func NewJSONRPCHeightClient(timeout time.Duration) *JSONRPCHeightClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &JSONRPCHeightClient{http: &http.Client{Timeout: timeout}}
}

// ChainHeight returns the current slot (solana) or block number (evm).
func (c *JSONRPCHeightClient) ChainHeight(ctx context.Context, chain, rpcURL string) (uint64, error) {
	switch strings.ToLower(chain) {
	case "solana":
		var slot uint64
		if err := c.call(ctx, rpcURL, "getSlot", nil, &slot); err != nil {
			return 0, err
		}
		return slot, nil
	case "ethereum", "evm", "base", "arbitrum", "polygon":
		var hexNum string
		if err := c.call(ctx, rpcURL, "eth_blockNumber", nil, &hexNum); err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(hexNum, "0x"), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed block number %q", hexNum)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported chain %q", chain)
	}
}

func (c *JSONRPCHeightClient) call(ctx context.Context, rpcURL, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return json.Unmarshal(envelope.Result, result)
}
