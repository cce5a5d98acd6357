// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/AleutianAI/AleutianSignal/pkg/validation"
	"golang.org/x/time/rate"
)

// HTTPClient interface allows injecting mock HTTP clients for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ObservationFetcher pulls new daily observations for one series.
//
// # Description
//
// Implementations return observations strictly after since (or a
// bounded lookback when since is zero). The refresh loop stores what
// comes back, so fetchers never need to deduplicate against history.
type ObservationFetcher interface {
	FetchSince(ctx context.Context, series string, since time.Time) ([]artifact.Observation, error)
}

// =============================================================================
// Upstream Chart Fetcher
// =============================================================================

// defaultLookback bounds the initial fetch when a series has no history.
const defaultLookback = 365 * 24 * time.Hour

// --- Upstream Chart Structs ---
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  interface{}   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// UpstreamFetcher pulls daily closes from a chart-format HTTP upstream,
// rate-limited so refresh bursts never hammer the provider.
type UpstreamFetcher struct {
	BaseURL    string
	HTTPClient HTTPClient
	limiter    *rate.Limiter
	vault      *TokenVault
}

// NewUpstreamFetcher creates a fetcher against baseURL. rps caps
// sustained request rate; burst allows short spikes (worker pools fan
// out per series). vault may be nil when the upstream needs no auth.
func NewUpstreamFetcher(baseURL string, client HTTPClient, rps float64, burst int, vault *TokenVault) *UpstreamFetcher {
	if burst < 1 {
		burst = 1
	}
	return &UpstreamFetcher{
		BaseURL:    baseURL,
		HTTPClient: client,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		vault:      vault,
	}
}

// FetchSince implements ObservationFetcher against the chart endpoint.
func (f *UpstreamFetcher) FetchSince(ctx context.Context, series string, since time.Time) ([]artifact.Observation, error) {
	sanitized, err := validation.SanitizeSeries(series)
	if err != nil {
		return nil, fmt.Errorf("invalid series: %w", err)
	}

	if since.IsZero() {
		since = time.Now().Add(-defaultLookback)
	}
	start := since.Unix()
	end := time.Now().Unix()
	if start > end {
		return nil, nil // Window starts in the future
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	url := fmt.Sprintf(
		"%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&events=history",
		f.BaseURL, sanitized, start, end,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	if f.vault != nil {
		token, tokenErr := f.vault.Token()
		if tokenErr != nil {
			return nil, fmt.Errorf("read upstream token: %w", tokenErr)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call upstream API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream API returned status %s", resp.Status)
	}

	var chartData chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chartData); err != nil {
		return nil, fmt.Errorf("failed to decode upstream JSON: %w", err)
	}

	if chartData.Chart.Error != nil {
		return nil, fmt.Errorf("upstream API error: %v", chartData.Chart.Error)
	}
	if len(chartData.Chart.Result) == 0 {
		return nil, fmt.Errorf("no results for series %s", sanitized)
	}

	res := chartData.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("incomplete indicators for series %s", sanitized)
	}
	closes := res.Indicators.Quote[0].Close

	var observations []artifact.Observation
	for i, ts := range res.Timestamp {
		if i >= len(closes) || closes[i] <= 0 {
			continue
		}
		day := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		if !day.After(since) {
			continue
		}
		observations = append(observations, artifact.Observation{
			Series: sanitized,
			Date:   day,
			Close:  closes[i],
		})
	}
	return observations, nil
}

// =============================================================================
// Synthetic Fetcher
// =============================================================================

// Synthetic walk parameters. Returns are a hash of (series, date), so
// two runs over the same span always produce the same path.
const (
	// syntheticBasePrice starts a series that has no stored history.
	syntheticBasePrice = 100.0

	// syntheticLookbackDays is the initial window generated for a
	// series with no stored history, enough to fill a derive window.
	syntheticLookbackDays = 45
)

// SyntheticFetcher extends stored history with a deterministic walk, so
// the stack runs self-contained when no upstream is configured.
//
// Each generated close continues from the series' last stored close
// (or syntheticBasePrice when the store has none), stepped by a daily
// return derived from a hash of the series name and date.
type SyntheticFetcher struct {
	Store *ObservationStore
}

// FetchSince implements ObservationFetcher with generated observations
// for every business day in (since, today].
func (f *SyntheticFetcher) FetchSince(ctx context.Context, series string, since time.Time) ([]artifact.Observation, error) {
	sanitized, err := validation.SanitizeSeries(series)
	if err != nil {
		return nil, fmt.Errorf("invalid series: %w", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	price := syntheticBasePrice
	if last, found, lookupErr := f.Store.LatestObservation(ctx, sanitized); lookupErr != nil {
		return nil, fmt.Errorf("lookup last close: %w", lookupErr)
	} else if found {
		price = last.Close
		if since.Before(last.Date) {
			since = last.Date
		}
	}
	if since.IsZero() {
		since = today.AddDate(0, 0, -syntheticLookbackDays)
	}

	var observations []artifact.Observation
	for day := since.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1); !day.After(today); day = day.AddDate(0, 0, 1) {
		if !isBusinessDay(day) {
			continue
		}
		price *= 1 + syntheticReturn(sanitized, day)
		observations = append(observations, artifact.Observation{
			Series: sanitized,
			Date:   day,
			Close:  price,
		})
	}
	return observations, nil
}

// syntheticReturn maps (series, date) to a daily return in
// [-1.0%, +1.2%], with the slight positive skew keeping long walks from
// collapsing toward zero.
func syntheticReturn(series string, date time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(series))
	h.Write([]byte("|"))
	h.Write([]byte(date.UTC().Format(storeDateLayout)))
	bucket := int64(h.Sum64() % 2201) // 0..2200
	return float64(bucket-1000) / 100000.0
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
