package api

import (
	"encoding/json"
	"net/http"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/power"
)

type errorBody struct {
	Error string           `json:"error"`
	Code  errors.ErrorCode `json:"code"`
}

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrInvalidArgument:   http.StatusBadRequest,
	errors.ErrInvalidSetting:    http.StatusBadRequest,
	errors.ErrUnknownSetting:    http.StatusNotFound,
	errors.ErrUnavailable:       http.StatusServiceUnavailable,
	errors.ErrNotImplemented:    http.StatusNotImplemented,
	errors.ErrResourceBusy:      http.StatusConflict,
	errors.ErrResourceNotFound:  http.StatusNotFound,
	action.ErrInvalid:           http.StatusBadRequest,
	action.ErrUnsupportedWorker: http.StatusBadRequest,
	action.ErrPlanInvalid:       http.StatusUnprocessableEntity,
	action.ErrNoneEnabled:       http.StatusUnprocessableEntity,
	action.ErrNotFound:          http.StatusNotFound,
	action.ErrBusy:              http.StatusConflict,
	power.ErrInvalidPlanID:      http.StatusBadRequest,
	power.ErrPlanNotFound:       http.StatusNotFound,
	power.ErrPlanActive:         http.StatusConflict,
	power.ErrInvalidName:        http.StatusBadRequest,
	power.ErrInvalidPath:        http.StatusBadRequest,
	power.ErrUnexpected:         http.StatusBadGateway,
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the code of err to a status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}
	return nil
}
