package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clearlane/onboard/internal/verification"
	appErrors "github.com/clearlane/onboard/pkg/errors"
	"github.com/clearlane/onboard/pkg/response"
)

// ResumeHandler exposes the public resume flow: request a code, confirm it,
// and revoke the resulting session.
type ResumeHandler struct {
	resume *verification.ResumeService
}

func NewResumeHandler(resume *verification.ResumeService) *ResumeHandler {
	return &ResumeHandler{resume: resume}
}

type resumeRequest struct {
	SIN   string `json:"sin" validate:"required,sin"`
	Email string `json:"email" validate:"required,email"`
}

type confirmRequest struct {
	SIN   string `json:"sin" validate:"required,sin"`
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,min=4,max=10"`
}

// POST /api/resume/request
//
// The acknowledgement is identical whether or not an application matched.
func (h *ResumeHandler) Request(c *gin.Context) {
	var req resumeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.resume.RequestResume(requestContext(c), req.SIN, req.Email, clientMetadata(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"message": "If an application exists for these details, a verification code has been sent.",
	})
}

// POST /api/resume/confirm
func (h *ResumeHandler) Confirm(c *gin.Context) {
	var req confirmRequest
	if !bindAndValidate(c, &req) {
		return
	}

	token, session, err := h.resume.ConfirmResume(requestContext(c), req.SIN, req.Email, req.Code, clientMetadata(c))
	if err != nil {
		response.Error(c, confirmError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":      token,
		"tracker_id": session.TrackerID,
		"expires_at": session.ExpiresAt,
	})
}

// POST /api/session/revoke
//
// Revokes the session presented in the Authorization header. The token is
// read directly rather than through the session middleware, so repeating the
// call with an already revoked or expired token still succeeds.
func (h *ResumeHandler) Revoke(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.resume.Logout(requestContext(c), token, clientMetadata(c)); err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

func clientMetadata(c *gin.Context) verification.RequestMetadata {
	return verification.RequestMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func confirmError(err error) error {
	switch {
	case errors.Is(err, verification.ErrCodeExpired):
		return appErrors.ErrCodeExpired
	case errors.Is(err, verification.ErrAttemptsExhausted):
		return appErrors.ErrAttemptsExhausted
	case errors.Is(err, verification.ErrCodeMismatch):
		return appErrors.ErrCodeMismatch
	default:
		return appErrors.ErrInternalServer
	}
}
