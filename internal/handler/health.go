package handler

import "net/http"

// HandleHealth reports that the process is serving.
//
// HTTP: GET /api/health
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
