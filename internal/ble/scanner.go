package ble

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Candidate is one advertisement that looks like a controllable bed.
type Candidate struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`
}

// Scan listens for advertisements and returns the devices that look
// like beds: anything advertising the OKIN control service, or whose
// local name contains one of the given patterns (case-insensitive).
//
// The scan runs until the timeout elapses or ctx is cancelled; results
// are de-duplicated by address and sorted strongest-signal first.
func (t *Transport) Scan(ctx context.Context, timeout time.Duration, namePatterns []string) ([]Candidate, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		<-scanCtx.Done()
		_ = t.adapter.StopScan()
	}()

	var mu sync.Mutex
	seen := make(map[string]Candidate)

	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !result.AdvertisementPayload.HasServiceUUID(okinServiceUUID) &&
			!matchesName(name, namePatterns) {
			return
		}

		address := result.Address.String()
		mu.Lock()
		if existing, ok := seen[address]; !ok || result.RSSI > existing.RSSI {
			seen[address] = Candidate{Address: address, Name: name, RSSI: result.RSSI}
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	candidates := make([]Candidate, 0, len(seen))
	for _, c := range seen {
		candidates = append(candidates, c)
	}
	mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RSSI > candidates[j].RSSI
	})

	t.logger.Info("scan complete", "found", len(candidates))
	return candidates, nil
}

// matchesName reports whether a local name contains any pattern,
// case-insensitively. Empty names never match.
func matchesName(name string, patterns []string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
