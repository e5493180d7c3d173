package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/accesspath/tracking/internal/model"
)

// walkProvider simulates a pedestrian random walk from a start position.
// It stands in for the platform location API when the daemon runs without
// real hardware.
type walkProvider struct {
	mu       sync.Mutex
	lat, lon float64
	dropRate float64
	rng      *rand.Rand
}

func newWalkProvider(lat, lon, dropRate float64) *walkProvider {
	return &walkProvider{
		lat:      lat,
		lon:      lon,
		dropRate: dropRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *walkProvider) RequestPermission(ctx context.Context, background bool) error {
	return nil
}

func (p *walkProvider) CurrentLocation(ctx context.Context) (model.LocationSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dropRate > 0 && p.rng.Float64() < p.dropRate {
		return model.LocationSample{}, model.ErrGpsUnavailable
	}

	// Roughly walking pace per 2s tick, with jitter.
	const stepDeg = 0.00003
	p.lat += (p.rng.Float64() - 0.5) * 2 * stepDeg
	p.lon += (p.rng.Float64() - 0.5) * 2 * stepDeg

	return model.LocationSample{
		Latitude:       p.lat,
		Longitude:      p.lon,
		AccuracyMeters: 3 + p.rng.Float64()*7,
		CapturedAt:     time.Now().UTC(),
	}, nil
}

// replayProvider feeds recorded samples from a JSON-lines file, one per
// poll. After the last sample it reports GPS loss, which exercises the
// fallback chain.
type replayProvider struct {
	mu      sync.Mutex
	samples []model.LocationSample
	next    int
}

func newReplayProvider(path string) (*replayProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	p := &replayProvider{}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var s model.LocationSample
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("replay file line %d: %w", line, err)
		}
		p.samples = append(p.samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	if len(p.samples) == 0 {
		return nil, fmt.Errorf("replay file %s contains no samples", path)
	}
	return p, nil
}

func (p *replayProvider) RequestPermission(ctx context.Context, background bool) error {
	return nil
}

func (p *replayProvider) CurrentLocation(ctx context.Context) (model.LocationSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.samples) {
		return model.LocationSample{}, model.ErrGpsUnavailable
	}
	s := p.samples[p.next]
	p.next++
	return s, nil
}
