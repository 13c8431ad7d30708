package cluster

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// CheckFunc realiza uma verificação de saúde. Retorna erro se falhar.
type CheckFunc func() error

// HealthAggregator junta várias verificações num único endpoint HTTP
// (o check do Consul aponta para ele).
type HealthAggregator struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthAggregator() *HealthAggregator {
	return &HealthAggregator{
		checks: make(map[string]CheckFunc),
	}
}

// AddCheck registra (ou substitui) uma verificação.
func (h *HealthAggregator) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check executa todas as verificações e devolve as falhas por nome.
func (h *HealthAggregator) Check() map[string]string {
	type named struct {
		name  string
		check CheckFunc
	}
	h.mu.RLock()
	checks := make([]named, 0, len(h.checks))
	for name, check := range h.checks {
		checks = append(checks, named{name, check})
	}
	h.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })
	failures := make(map[string]string)
	for _, c := range checks {
		if err := c.check(); err != nil {
			failures[c.name] = err.Error()
		}
	}
	return failures
}

// Handler responde 200 quando todas as verificações passam e 503 caso contrário.
func (h *HealthAggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failures := h.Check()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(failures)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}
