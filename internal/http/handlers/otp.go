package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/logging"
	"github.com/signalix/phoneauth/internal/otp"
)

// OtpHandler serves code issuance and verification.
type OtpHandler struct {
	otp          *otp.Service
	validator    *validator.Validate
	exposeDetail bool
	logger       *zap.Logger
}

// NewOtpHandler creates the handler. exposeDetail adds error causes to
// responses and must be off in production.
func NewOtpHandler(svc *otp.Service, exposeDetail bool, logger *zap.Logger) *OtpHandler {
	return &OtpHandler{
		otp:          svc,
		validator:    newValidator(),
		exposeDetail: exposeDetail,
		logger:       logger,
	}
}

type requestOTPRequest struct {
	Phone string `json:"phone" validate:"required,max=32"`
}

type requestOTPResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" validate:"required,max=32"`
	Code  string `json:"code" validate:"required,max=16"`
}

type verifyOTPResponse struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	TokenType    string        `json:"token_type,omitempty"`
	User         *userResponse `json:"user,omitempty"`
	SessionError string        `json:"session_error,omitempty"`
}

// HandleRequestOTP handles POST /auth/request_otp
func (h *OtpHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := decodeAndValidate(h.validator, r, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, string(otp.KindValidation), err.Error())
		return
	}

	res, err := h.otp.Issue(r.Context(), req.Phone)
	if err != nil {
		h.logger.Info("code request refused", logging.Phone(req.Phone), zap.Error(err))
		renderOtpError(w, r, err, h.exposeDetail)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &requestOTPResponse{
		Success:   true,
		Message:   "verification code sent",
		Code:      res.Code,
		ExpiresAt: res.ExpiresAt,
	})
}

// HandleVerifyOTP handles POST /auth/verify_otp
func (h *OtpHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeAndValidate(h.validator, r, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, string(otp.KindValidation), err.Error())
		return
	}

	res, err := h.otp.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.logger.Info("code verification refused", logging.Phone(req.Phone), zap.Error(err))
		renderOtpError(w, r, err, h.exposeDetail)
		return
	}

	resp := &verifyOTPResponse{Success: true, Message: "phone number verified"}
	switch {
	case res.Session != nil:
		resp.AccessToken = res.Session.AccessToken
		resp.RefreshToken = res.Session.RefreshToken
		resp.TokenType = res.Session.TokenType
		resp.User = &userResponse{
			ID:          res.Session.User.ID.String(),
			PhoneNumber: res.Session.User.PhoneNumber,
		}
	case res.SessionErr != nil:
		resp.SessionError = "phone verified but no session could be created, please sign in again"
		if h.exposeDetail {
			resp.SessionError += ": " + res.SessionErr.Error()
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
