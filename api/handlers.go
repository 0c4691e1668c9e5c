package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"entitycore/core"
	"entitycore/service"
	"entitycore/storage"

	"github.com/gorilla/mux"
)

// createEntityBody is the request body of POST /api/v1/entities/{type}
type createEntityBody struct {
	Attributes map[string]string `json:"attributes"`
}

// transitionBody is the request body of POST .../transitions
type transitionBody struct {
	Action string `json:"action"`
}

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// decodeBody reads a bounded JSON body into dest, rejecting unknown fields
func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// respondServiceError maps domain errors to HTTP status codes
func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	var illegal *core.IllegalTransitionError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
	case errors.Is(err, service.ErrEntityTypeNotBound),
		errors.Is(err, service.ErrEntityTypeMismatch),
		errors.Is(err, storage.ErrEntityNotFound),
		errors.Is(err, core.ErrUnknownMachine):
		writeError(w, http.StatusNotFound, err.Error(), nil, nil)
	case errors.As(err, &illegal):
		writeError(w, http.StatusConflict, err.Error(), nil, nil)
	case errors.Is(err, storage.ErrVersionConflict):
		writeError(w, http.StatusConflict, "Entity was modified concurrently, retry", nil, nil)
	case errors.Is(err, core.ErrCounterExhausted):
		writeError(w, http.StatusServiceUnavailable, "Identifier space exhausted", err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err, a.logger)
	}
}

func (a *API) listMachines(w http.ResponseWriter, r *http.Request) {
	keys := a.machines.Keys()
	defs := make([]core.MachineDefinition, 0, len(keys))
	for _, k := range keys {
		def, err := a.machines.Describe(k)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}
	a.respondJSON(w, defs, http.StatusOK)
}

func (a *API) getMachine(w http.ResponseWriter, r *http.Request) {
	def, err := a.machines.Describe(mux.Vars(r)["key"])
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, def, http.StatusOK)
}

func (a *API) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := a.entities.List(r.Context(), mux.Vars(r)["type"])
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	if entities == nil {
		entities = []*storage.Entity{}
	}
	a.respondJSON(w, entities, http.StatusOK)
}

func (a *API) createEntity(w http.ResponseWriter, r *http.Request) {
	var body createEntityBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err, nil)
		return
	}

	entity, err := a.entities.Create(r.Context(), service.CreateEntityRequest{
		Type:       mux.Vars(r)["type"],
		Attributes: body.Attributes,
	})
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/entities/%s/%s", entity.Type, entity.ID))
	a.respondJSON(w, entity, http.StatusCreated)
}

func (a *API) getEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entity, err := a.entities.Get(r.Context(), vars["type"], vars["id"])
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, entity, http.StatusOK)
}

func (a *API) transitionEntity(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err, nil)
		return
	}

	vars := mux.Vars(r)
	res, err := a.entities.Transition(r.Context(), service.TransitionRequest{
		Type:   vars["type"],
		ID:     vars["id"],
		Action: body.Action,
	})
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, res, http.StatusOK)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	// Get enforces that the ID belongs to the requested type
	if _, err := a.entities.Get(r.Context(), vars["type"], vars["id"]); err != nil {
		a.respondServiceError(w, err)
		return
	}
	history, err := a.entities.History(r.Context(), vars["id"])
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, history, http.StatusOK)
}

// healthCheck reports degraded while the cache eviction circuit is open
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	breakerState := ""
	if a.breaker != nil {
		breakerState = string(a.breaker.State())
		if a.breaker.State() == core.CircuitBreakerStateOpen {
			status = "degraded"
		}
	}

	a.respondJSON(w, map[string]interface{}{
		"status":        status,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"entity_types":  a.entities.EntityTypes(),
		"cache_circuit": breakerState,
	}, http.StatusOK)
}
