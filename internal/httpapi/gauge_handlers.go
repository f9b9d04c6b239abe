package httpapi

import (
	"net/http"

	"vaultkit.org/internal/gauge"
)

// handleGaugeEvents accepts an inbound cross-system event, fans it out to
// subscribers, and returns the advisory action. The reply is a
// recommendation only; no vault state changes here.
func (a *API) handleGaugeEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var evt gauge.Event
	if err := decodeJSON(w, r, &evt); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if evt.Source == "" {
		writeError(w, r, http.StatusBadRequest, "source is required")
		return
	}

	if a.bus != nil {
		a.bus.Publish(evt)
	}
	writeJSON(w, http.StatusOK, gauge.Handle(evt))
}
