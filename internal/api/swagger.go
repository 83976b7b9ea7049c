package api

import (
	"encoding/json"
	"net/http"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

var (
	openAPIJSONOnce sync.Once
	openAPIJSON     []byte
	openAPIJSONErr  error
)

// OpenAPIJSONHandler serves the embedded OpenAPI document converted to JSON.
func (s *Server) OpenAPIJSONHandler(w http.ResponseWriter, r *http.Request) {
	openAPIJSONOnce.Do(func() {
		var obj map[string]any
		if openAPIJSONErr = yaml.Unmarshal(openAPISpec, &obj); openAPIJSONErr != nil {
			return
		}
		openAPIJSON, openAPIJSONErr = json.Marshal(obj)
	})
	if openAPIJSONErr != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI parse failed", openAPIJSONErr.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(openAPIJSON)
}
