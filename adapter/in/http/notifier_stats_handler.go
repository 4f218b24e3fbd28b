package http

import (
	"sort"
	"sync"

	"github.com/gofiber/fiber/v2"
)

// StatsHandler serves a JSON snapshot of runtime counters. Each source is
// read on every request.
type StatsHandler struct {
	mu      sync.RWMutex
	sources map[string]func() any
}

func NewStatsHandler() *StatsHandler {
	return &StatsHandler{sources: make(map[string]func() any)}
}

// AddSource registers fn under name. A later call with the same name wins.
func (h *StatsHandler) AddSource(name string, fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[name] = fn
}

func (h *StatsHandler) Register(router fiber.Router) {
	router.Get("/stats", h.Stats)
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	h.mu.RLock()
	names := make([]string, 0, len(h.sources))
	for name := range h.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make(map[string]any, len(names))
	for _, name := range names {
		data[name] = h.sources[name]()
	}
	h.mu.RUnlock()

	return SuccessResponse(c, fiber.StatusOK, data)
}
