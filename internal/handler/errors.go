package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"farmstall/internal/service"
	"farmstall/pkg/apierror"
	"farmstall/pkg/logger"
	"farmstall/pkg/response"
)

// fail maps service errors to API errors and writes them.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		apiErr *apierror.Error
		verr   *service.ValidationError
		perr   *service.PersistenceError
	)

	switch {
	case errors.As(err, &apiErr):
		response.Error(w, apiErr)
	case errors.As(err, &verr):
		response.Error(w, apierror.ValidationError(verr.Error(),
			apierror.FieldError{Field: verr.Field, Message: verr.Message}))
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, apierror.NotFound("inventory item not found"))
	case errors.As(err, &perr):
		logger.FromContext(r.Context()).Errorw("store write failed", "op", perr.Op, "error", perr.Err)
		apiErr := apierror.Persistence(perr.Error())
		if len(perr.Written) > 0 || len(perr.Failed) > 0 {
			apiErr = apiErr.WithExtra(map[string]interface{}{
				"written": perr.Written,
				"failed":  perr.Failed,
			})
		}
		response.Error(w, apiErr)
	default:
		logger.FromContext(r.Context()).Errorw("unhandled error", "path", r.URL.Path, "error", err)
		response.Error(w, apierror.InternalError(""))
	}
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be empty, including
// chunked requests with no declared length.
func decodeOptional(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apierror.BadRequest("invalid request body")
	}
	return nil
}
