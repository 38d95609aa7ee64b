package api

import (
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Health reports the liveness of the datastore and session store. Any
// degraded component turns the whole response into a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	status := "ok"
	code := http.StatusOK
	components := make([]componentStatus, 0, 2)
	record := func(component string, err error) {
		entry := componentStatus{Component: component, Status: "ok"}
		if err != nil {
			entry.Status = "degraded"
			entry.Error = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		components = append(components, entry)
	}

	if h.Store != nil {
		record("datastore", h.Store.Ping(r.Context()))
	}
	record("sessions", h.sessionManager().Ping(r.Context()))

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
