package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

// trafficWindow is how many one-second buckets of received-byte counts are
// kept for the debug chart.
const trafficWindow = 60

// trafficCounter tracks received bytes per second over a sliding window.
type trafficCounter struct {
	mu      sync.Mutex
	buckets [trafficWindow]int
	stamps  [trafficWindow]int64
}

func (t *trafficCounter) add(n int) {
	now := time.Now().Unix()
	i := now % trafficWindow
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stamps[i] != now {
		t.stamps[i] = now
		t.buckets[i] = 0
	}
	t.buckets[i] += n
}

// snapshot returns the per-second counts for the window ending now, oldest
// first.
func (t *trafficCounter) snapshot() []int {
	now := time.Now().Unix()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, trafficWindow)
	for offset := 0; offset < trafficWindow; offset++ {
		sec := now - int64(trafficWindow-1-offset)
		i := sec % trafficWindow
		if t.stamps[i] == sec {
			out[offset] = t.buckets[i]
		}
	}
	return out
}

// AttachAdminRoutes mounts debugging endpoints under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("traffic", func(w http.ResponseWriter, r *http.Request) {
		counts := s.traffic.snapshot()

		labels := make([]string, len(counts))
		data := make([]opts.BarData, len(counts))
		for i, n := range counts {
			labels[i] = fmt.Sprintf("-%ds", len(counts)-1-i)
			data[i] = opts.BarData{Value: n}
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Serial Traffic", Width: "100%", Height: "480px"}),
			charts.WithTitleOpts(opts.Title{Title: "Received bytes per second", Subtitle: time.Now().Format(time.RFC3339)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(labels)
		bar.AddSeries("bytes", data)

		if err := bar.Render(w); err != nil {
			http.Error(w, fmt.Sprintf("Failed to render chart: %v", err), http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("terminal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, s.term.Text())
	})

	if s.store != nil {
		s.store.AttachAdminRoutes(mux)
	}
}
