package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// RequireActor returns the request's actor or writes a 401 problem.
func RequireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		RespondError(w, ErrUnauthorized)
		return shared.Actor{}, false
	}
	return actor, true
}

// Validate runs struct validation, reporting the first failing field as a validation error.
func Validate(v *validator.Validate, payload any) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed %q (%s)", strings.ToLower(fe.Field()), fe.Tag(), fe.Param())
		}
		return shared.Errorf(shared.ErrValidation, "%s", msg)
	}
	return shared.Errorf(shared.ErrValidation, "%s", err.Error())
}

// Decode reads the JSON body into target, mapping malformed bodies to validation errors.
func Decode(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return shared.Errorf(shared.ErrValidation, "invalid request body: %s", err.Error())
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD value as a UTC date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, shared.Errorf(shared.ErrValidation, "invalid date %q, expected YYYY-MM-DD", raw)
	}
	return t, nil
}

// ParseOptionalDate returns nil for an empty value.
func ParseOptionalDate(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// URLParamID parses a positive integer path parameter.
func URLParamID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Errorf(shared.ErrValidation, "invalid %s %q", name, raw)
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter, falling back to def.
func QueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
