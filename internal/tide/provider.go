package tide

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TIDE / MOON PROVIDER - Astronomical timing inputs
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tide extremes come from a WorldTides-style endpoint; moon phase and
// illumination from a phase endpoint. Both are cached per date so a
// scheduler tick never blocks on a provider that already answered today.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNoTideData is returned when the provider yields zero extremes for the
// requested date. The tide gate treats it as NO_TIDE_DATA and blocks.
var ErrNoTideData = errors.New("no tide data")

// MoonInfo is the phase snapshot for one date.
type MoonInfo struct {
	Phase        string // e.g. "Waxing Gibbous"
	Illumination int    // percent 0..100
}

// Provider fetches and caches tide extremes and moon phase.
type Provider struct {
	mu sync.Mutex

	tideURL string
	moonURL string
	apiKey  string
	lat     float64
	lon     float64

	httpClient *http.Client

	tideCache map[string]tideCacheEntry // date -> extremes
	moonCache map[string]MoonInfo       // date -> info
	cacheTTL  time.Duration
}

type tideCacheEntry struct {
	events    []Event
	fetchedAt time.Time
}

// NewProvider creates a provider for the given location.
func NewProvider(tideURL, moonURL, apiKey string, lat, lon float64) *Provider {
	return &Provider{
		tideURL:    tideURL,
		moonURL:    moonURL,
		apiKey:     apiKey,
		lat:        lat,
		lon:        lon,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tideCache:  make(map[string]tideCacheEntry),
		moonCache:  make(map[string]MoonInfo),
		cacheTTL:   6 * time.Hour,
	}
}

// Extremes returns the tide extremes for the local date of t.
func (p *Provider) Extremes(ctx context.Context, t time.Time) ([]Event, error) {
	date := t.Format("2006-01-02")

	p.mu.Lock()
	if entry, ok := p.tideCache[date]; ok && time.Since(entry.fetchedAt) < p.cacheTTL {
		p.mu.Unlock()
		return entry.events, nil
	}
	p.mu.Unlock()

	events, err := p.fetchExtremes(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoTideData
	}

	p.mu.Lock()
	p.tideCache[date] = tideCacheEntry{events: events, fetchedAt: time.Now()}
	p.mu.Unlock()

	return events, nil
}

// NearestEvent returns the tide event closest to now across yesterday,
// today and tomorrow, so a window spanning midnight is still found.
func (p *Provider) NearestEvent(ctx context.Context, now time.Time) (Event, error) {
	var all []Event
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now, now.AddDate(0, 0, 1)} {
		events, err := p.Extremes(ctx, day)
		if err != nil {
			if errors.Is(err, ErrNoTideData) {
				continue
			}
			return Event{}, err
		}
		all = append(all, events...)
	}
	nearest, ok := Nearest(all, now)
	if !ok {
		return Event{}, ErrNoTideData
	}
	return nearest, nil
}

func (p *Provider) fetchExtremes(ctx context.Context, date string) ([]Event, error) {
	url := fmt.Sprintf("%s?extremes&date=%s&lat=%.4f&lon=%.4f&key=%s",
		p.tideURL, date, p.lat, p.lon, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tide provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tide provider: HTTP %d", resp.StatusCode)
	}

	var raw struct {
		Extremes []struct {
			Dt   int64  `json:"dt"`
			Type string `json:"type"`
		} `json:"extremes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tide provider: %w", err)
	}

	events := make([]Event, 0, len(raw.Extremes))
	for _, ex := range raw.Extremes {
		typ := Low
		if strings.EqualFold(ex.Type, "High") {
			typ = High
		}
		events = append(events, Event{Type: typ, Center: time.Unix(ex.Dt, 0).UTC()})
	}

	log.Debug().Str("date", date).Int("extremes", len(events)).Msg("🌊 Tide extremes fetched")
	return events, nil
}

// Moon returns phase label and integer illumination percent for the date
// of t.
func (p *Provider) Moon(ctx context.Context, t time.Time) (MoonInfo, error) {
	date := t.Format("2006-01-02")

	p.mu.Lock()
	if info, ok := p.moonCache[date]; ok {
		p.mu.Unlock()
		return info, nil
	}
	p.mu.Unlock()

	url := fmt.Sprintf("%s/?d=%d", p.moonURL, t.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MoonInfo{}, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return MoonInfo{}, fmt.Errorf("moon provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MoonInfo{}, fmt.Errorf("moon provider: HTTP %d", resp.StatusCode)
	}

	var raw []struct {
		Phase        string  `json:"Phase"`
		Illumination float64 `json:"Illumination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return MoonInfo{}, fmt.Errorf("moon provider: %w", err)
	}
	if len(raw) == 0 {
		return MoonInfo{}, fmt.Errorf("moon provider: empty response")
	}

	info := MoonInfo{
		Phase:        raw[0].Phase,
		Illumination: int(raw[0].Illumination*100 + 0.5),
	}

	p.mu.Lock()
	p.moonCache[date] = info
	p.mu.Unlock()

	return info, nil
}
