// Package health отдаёт состояние компонентов сервиса заказов:
// JSON-отчёт на /healthz и probe-эндпоинты для оркестратора.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Checker выполняет проверку компонента.
type Checker interface {
	Check() Check
}

// CheckerFunc адаптирует функцию к Checker.
type CheckerFunc func() Check

func (f CheckerFunc) Check() Check { return f() }

// PingChecker оборачивает ping-функцию компонента: ошибка ping-а
// означает unhealthy с её текстом в Message.
func PingChecker(name string, ping func() error) CheckerFunc {
	return func() Check {
		started := time.Now()
		err := ping()
		check := Check{
			Name:       name,
			Status:     StatusHealthy,
			DurationMs: time.Since(started).Milliseconds(),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		}
		return check
	}
}

// Report — JSON-ответ /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Handler собирает зарегистрированные проверки и отвечает на
// health check запросы.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
}

// NewHandler создаёт handler без проверок.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
	}
}

// RegisterChecker добавляет проверку компонента под именем name.
// Повторная регистрация имени замещает проверку.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// runChecks прогоняет все проверки и сводит общий статус: любой
// unhealthy даёт unhealthy, иначе любой degraded даёт degraded.
func (h *Handler) runChecks() (map[string]Check, Status) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	overall := StatusHealthy
	checks := make(map[string]Check, len(checkers))
	for name, checker := range checkers {
		check := checker.Check()
		checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return checks, overall
}

// ServeHTTP отдаёт полный JSON-отчёт; unhealthy даёт 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks, overall := h.runChecks()

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Report{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

// ReadinessHandler — readiness probe: 503, пока хотя бы одна проверка
// unhealthy. Degraded не мешает готовности.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if _, overall := h.runChecks(); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler — liveness probe, отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
