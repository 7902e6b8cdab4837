package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const defaultScrapeTimeout = 10 * time.Second

// ExporterSampler polls a Prometheus endpoint for a per-device temperature
// gauge such as DCGM_FI_DEV_GPU_TEMP{gpu="0"}.
type ExporterSampler struct {
	endpoint string
	metric   string
	label    string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExporterSampler returns a sampler reading metric from endpoint every
// interval. label names the device index label. A nil client gets a default
// with a bounded timeout.
func NewExporterSampler(endpoint, metric, label string, interval time.Duration, client *http.Client) *ExporterSampler {
	if client == nil {
		client = &http.Client{Timeout: defaultScrapeTimeout}
	}
	if label == "" {
		label = "gpu"
	}
	return &ExporterSampler{
		endpoint: endpoint,
		metric:   metric,
		label:    label,
		interval: interval,
		client:   client,
	}
}

// Start performs one scrape synchronously; if the endpoint cannot be read
// the source is reported unavailable. Later scrape failures are logged and
// skipped.
func (s *ExporterSampler) Start(ctx context.Context) (<-chan Reading, error) {
	if s.interval <= 0 {
		return nil, errors.New("telemetry: exporter interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil, errors.New("telemetry: sampler already started")
	}

	first, err := s.scrape(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Reading, readingBuffer)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, first, out)
	return out, nil
}

// Stop ends polling and waits for the poll goroutine to exit.
func (s *ExporterSampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *ExporterSampler) run(ctx context.Context, first []Reading, out chan<- Reading) {
	defer close(s.done)
	defer close(out)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batch := first
	for {
		for _, r := range batch {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var err error
		batch, err = s.scrape(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("telemetry: exporter scrape failed", "endpoint", s.endpoint, "err", err)
		}
	}
}

func (s *ExporterSampler) scrape(ctx context.Context) ([]Reading, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: exporter %q: %w", s.endpoint, err)
	}
	return familyReadings(mfs[s.metric], s.label), nil
}

// familyReadings converts every sample of mf carrying an integer device
// label into a labelled reading. Samples without the label are skipped.
func familyReadings(mf *dto.MetricFamily, label string) []Reading {
	if mf == nil {
		return nil
	}
	var out []Reading
	for _, m := range mf.GetMetric() {
		idx, ok := labelIndex(m, label)
		if !ok {
			continue
		}
		var v float64
		switch {
		case m.Gauge != nil:
			v = m.Gauge.GetValue()
		case m.Untyped != nil:
			v = m.Untyped.GetValue()
		case m.Counter != nil:
			v = m.Counter.GetValue()
		default:
			continue
		}
		if math.IsNaN(v) {
			out = append(out, Reading{Kind: KindNotApplicable, Device: idx})
			continue
		}
		out = append(out, Reading{Kind: KindTemperature, Celsius: int(math.Round(v)), Device: idx})
	}
	return out
}

func labelIndex(m *dto.Metric, label string) (int, bool) {
	for _, lp := range m.GetLabel() {
		if lp.GetName() != label {
			continue
		}
		idx, err := strconv.Atoi(lp.GetValue())
		if err != nil || idx < 0 {
			return 0, false
		}
		return idx, true
	}
	return 0, false
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r. A partial result
// with a trailing parse error is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}
