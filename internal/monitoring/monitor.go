// Package monitoring serves the progress of a conformance run over HTTP
// next to the Prometheus metrics.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-coopvec/internal/device"
	"github.com/23skdu/longbow-coopvec/internal/logger"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
	"github.com/23skdu/longbow-coopvec/internal/results"
)

// Severity ranks alerts.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
	Critical
)

var severityNames = [...]string{"info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	for i, name := range severityNames {
		if name == string(b) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("invalid severity: %q", b)
}

const (
	// maxAlerts is the number of alerts kept; older ones are dropped.
	maxAlerts = 100
	// resourceErrorLimit resource errors in one run raise a critical
	// alert.
	resourceErrorLimit = 10
)

var errMonitorClosed = errors.New("monitor closed")

// Alert is raised by a case outcome that needs attention.
type Alert struct {
	ID       int        `json:"id"`
	Severity Severity   `json:"severity"`
	Case     string     `json:"case,omitempty"`
	Message  string     `json:"message"`
	Raised   time.Time  `json:"raised"`
	Resolved *time.Time `json:"resolved,omitempty"`
}

// Progress is how far the run has come.
type Progress struct {
	RunID         string         `json:"run_id"`
	Driver        string         `json:"driver"`
	Phase         string         `json:"phase"`
	Planned       int            `json:"planned"`
	Completed     int            `json:"completed"`
	Statuses      map[string]int `json:"statuses"`
	CasesRecorded int64          `json:"cases_recorded"`
	LastCase      string         `json:"last_case,omitempty"`
	MeanCaseMs    float64        `json:"mean_case_ms"`
	ETASeconds    float64        `json:"eta_seconds"`
}

// EmulatorInfo describes the process running the emulator.
type EmulatorInfo struct {
	AllocatedMB     int64  `json:"allocated_mb"`
	MaxAllocationMB int64  `json:"max_allocation_mb"`
	HeapMB          uint64 `json:"heap_mb"`
	Goroutines      int    `json:"goroutines"`
	NumCPU          int    `json:"num_cpu"`
	GoVersion       string `json:"go_version"`
}

// Status is the document served on /status.
type Status struct {
	Health   string        `json:"health"`
	Time     time.Time     `json:"time"`
	Uptime   time.Duration `json:"uptime"`
	Run      Progress      `json:"run"`
	Emulator EmulatorInfo  `json:"emulator"`
	Alerts   []Alert       `json:"alerts"`
}

// RunMonitor tracks one run. It is a results.Sink, so the runner feeds
// it through the same tee as the file and Flight sinks.
type RunMonitor struct {
	start time.Time

	mu             sync.RWMutex
	server         *http.Server
	progress       Progress
	elapsed        time.Duration
	resourceErrors int
	alerts         []Alert
	nextID         int
}

func NewRunMonitor(runID, driver string, planned int) *RunMonitor {
	return &RunMonitor{
		start: time.Now(),
		progress: Progress{
			RunID:    runID,
			Driver:   driver,
			Phase:    "running",
			Planned:  planned,
			Statuses: make(map[string]int),
		},
	}
}

// Handler routes health, status, alerts and metrics.
func (m *RunMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/status", m.handleStatus)
	mux.HandleFunc("/alerts", m.handleAlerts)
	mux.HandleFunc("/alerts/clear", m.handleClearAlerts)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve blocks serving Handler on addr until Shutdown.
func (m *RunMonitor) Serve(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()
	logger.Log.Info("Run monitor listening", "addr", addr, "run_id", m.progress.RunID)
	return srv.ListenAndServe()
}

func (m *RunMonitor) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	srv := m.server
	m.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Report counts a finished case and raises alerts for internal and
// resource errors.
func (m *RunMonitor) Report(r results.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress.Phase == "finished" {
		return errMonitorClosed
	}
	m.progress.Completed++
	m.progress.Statuses[r.Status.String()]++
	m.progress.LastCase = r.Name
	m.elapsed += r.Duration

	switch r.Status {
	case results.InternalError:
		m.raise(Error, r.Name, r.Message)
	case results.ResourceError:
		m.resourceErrors++
		m.raise(Warning, r.Name, r.Message)
		if m.resourceErrors == resourceErrorLimit {
			m.raise(Critical, "", fmt.Sprintf("%d cases ran out of emulator resources", m.resourceErrors))
		}
	}
	return nil
}

// Close marks the run finished.
func (m *RunMonitor) Close() error {
	m.mu.Lock()
	m.progress.Phase = "finished"
	m.mu.Unlock()
	return nil
}

// Raise adds an alert and returns its id.
func (m *RunMonitor) Raise(sev Severity, caseName, message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raise(sev, caseName, message)
}

func (m *RunMonitor) raise(sev Severity, caseName, message string) int {
	m.nextID++
	m.alerts = append(m.alerts, Alert{
		ID:       m.nextID,
		Severity: sev,
		Case:     caseName,
		Message:  message,
		Raised:   time.Now(),
	})
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	logger.Log.Warn("Alert raised", "severity", sev, "case", caseName, "message", message)
	return m.nextID
}

// Resolve marks the alert with id resolved. It reports false for
// unknown or dropped ids.
func (m *RunMonitor) Resolve(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			if m.alerts[i].Resolved == nil {
				now := time.Now()
				m.alerts[i].Resolved = &now
			}
			return true
		}
	}
	return false
}

// Status snapshots the run.
func (m *RunMonitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.progress
	p.Statuses = make(map[string]int, len(m.progress.Statuses))
	for k, v := range m.progress.Statuses {
		p.Statuses[k] = v
	}
	p.CasesRecorded = metrics.TotalCases()
	if p.Completed > 0 {
		mean := m.elapsed / time.Duration(p.Completed)
		p.MeanCaseMs = float64(mean) / float64(time.Millisecond)
		if remaining := p.Planned - p.Completed; remaining > 0 && p.Phase == "running" {
			wall := time.Since(m.start) / time.Duration(p.Completed)
			p.ETASeconds = (wall * time.Duration(remaining)).Seconds()
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Status{
		Health: m.health(),
		Time:   time.Now(),
		Uptime: time.Since(m.start),
		Run:    p,
		Emulator: EmulatorInfo{
			AllocatedMB:     device.AllocatedBytes() >> 20,
			MaxAllocationMB: device.MaxMemory >> 20,
			HeapMB:          ms.HeapAlloc >> 20,
			Goroutines:      runtime.NumGoroutine(),
			NumCPU:          runtime.NumCPU(),
			GoVersion:       runtime.Version(),
		},
		Alerts: append([]Alert(nil), m.alerts...),
	}
}

// health is "failing" with an open critical alert, "degraded" with an
// open error alert and "ok" otherwise.
func (m *RunMonitor) health() string {
	worst := Info
	for _, a := range m.alerts {
		if a.Resolved == nil && a.Severity > worst {
			worst = a.Severity
		}
	}
	switch worst {
	case Critical:
		return "failing"
	case Error:
		return "degraded"
	}
	return "ok"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("Failed to encode response", "error", err)
	}
}

func (m *RunMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := m.Status()
	code := http.StatusOK
	if st.Health != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"health":    st.Health,
		"phase":     st.Run.Phase,
		"completed": st.Run.Completed,
		"planned":   st.Run.Planned,
	})
}

func (m *RunMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Status())
}

func (m *RunMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	alerts := append([]Alert(nil), m.alerts...)
	m.mu.RUnlock()
	writeJSON(w, http.StatusOK, alerts)
}

func (m *RunMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.mu.Lock()
	n := len(m.alerts)
	m.alerts = nil
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
