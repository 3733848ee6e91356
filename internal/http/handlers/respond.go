package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/signalix/phoneauth/internal/otp"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// successResponse is used where an endpoint has nothing else to return.
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
}

// newValidator reports json field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func decodeAndValidate(v *validator.Validate, r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	render.Status(r, status)
	render.JSON(w, r, &errorResponse{Error: kind, Message: message})
}

func renderSuccess(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, &successResponse{Success: true, Message: message})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind otp.Kind) int {
	switch kind {
	case otp.KindValidation:
		return http.StatusBadRequest
	case otp.KindConflict, otp.KindTooManyAttempts:
		return http.StatusTooManyRequests
	case otp.KindNotFound:
		return http.StatusNotFound
	case otp.KindExpired, otp.KindMismatch:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// renderOtpError writes an issuance/verification failure. The cause is only
// included when exposeDetail is set.
func renderOtpError(w http.ResponseWriter, r *http.Request, err error, exposeDetail bool) {
	e := otp.AsError(err)
	body := &errorResponse{Error: string(e.Kind), Message: e.Message}
	if exposeDetail {
		body.Detail = e.Detail()
	}
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	render.Status(r, statusFor(e.Kind))
	render.JSON(w, r, body)
}
