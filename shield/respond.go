package shield

import (
	"encoding/json"
	"net/http"
	"strings"
)

// unavailableMessage matches the license API's code 999 answer, so API
// clients see one failure shape whatever refused them.
const unavailableMessage = "Error: Third-party service is under maintenance."

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// refuse answers a request the stack will not serve. API paths keep the
// status-code contract; console paths get the {success, message} shape the
// page script reads.
func refuse(w http.ResponseWriter, r *http.Request, code int, retryAfter, consoleMsg string) {
	w.Header().Set("Retry-After", retryAfter)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if isAPI(r) {
		json.NewEncoder(w).Encode(map[string]any{"status_code": 999, "message": unavailableMessage})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": consoleMsg})
}
