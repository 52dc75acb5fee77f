package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/service"
)

// Handlers contains HTTP handlers for the sign-in and binding endpoints
type Handlers struct {
	auth        *service.AuthService
	binding     *service.BindingService
	frontendURL string
}

// NewHandlers creates new handlers
func NewHandlers(auth *service.AuthService, binding *service.BindingService, frontendURL string) *Handlers {
	return &Handlers{
		auth:        auth,
		binding:     binding,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{"success": false, "error": code, "message": message}
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// writeError maps domain errors to status codes. Unknown errors never leak details.
func writeError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "InternalError", "Something went wrong, please retry"

	switch {
	case errors.Is(err, core.ErrNoIdentitySession):
		status, code, message = http.StatusUnauthorized, "NoIdentitySession", "Sign in with GitHub first"
	case errors.Is(err, core.ErrNoVerificationSession):
		status, code, message = http.StatusUnauthorized, "NoVerificationSession", "No verification in progress, please start again"
	case errors.Is(err, core.ErrSessionExpired):
		status, code, message = http.StatusUnauthorized, "SessionExpired", "Verification session expired, please start again"
	case errors.Is(err, core.ErrInvalidAddress):
		status, code, message = http.StatusBadRequest, "InvalidAddress", "Invalid wallet address"
	case errors.Is(err, core.ErrInvalidSignature):
		status, code, message = http.StatusBadRequest, "InvalidSignature", "Invalid signature"
	case errors.Is(err, core.ErrOracleUnavailable):
		status, code, message = http.StatusInternalServerError, "OracleUnavailable", "Could not read the wallet nonce, please retry"
	}

	_ = c.Error(err)
	c.JSON(status, errorBody(code, message))
}

func (h *Handlers) redirectFrontend(c *gin.Context, path string, query url.Values) {
	target := h.frontendURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	c.Redirect(http.StatusFound, target)
}

// GitHubLogin starts the OAuth redirect
func (h *Handlers) GitHubLogin(c *gin.Context) {
	flow := core.Flow(c.DefaultQuery("flow", string(core.FlowLogin)))

	target, err := h.auth.BeginLogin(c.Request.Context(), sessionID(c), flow)
	if err != nil {
		_ = c.Error(err)
		h.redirectFrontend(c, "/", url.Values{"error": {"github_auth_failed"}})
		return
	}

	c.Redirect(http.StatusFound, target)
}

// GitHubCallback finishes the OAuth flow and returns the user to the frontend
func (h *Handlers) GitHubCallback(c *gin.Context) {
	if c.Query("error") != "" {
		h.redirectFrontend(c, "/", url.Values{"error": {"github_auth_denied"}})
		return
	}

	_, flow, err := h.auth.CompleteLogin(c.Request.Context(), sessionID(c), c.Query("code"), c.Query("state"))
	if err != nil {
		_ = c.Error(err)
		reason := "github_auth_failed"
		if errors.Is(err, core.ErrInvalidState) {
			reason = "invalid_state"
		}
		h.redirectFrontend(c, "/", url.Values{"error": {reason}})
		return
	}

	if flow == core.FlowVerify {
		h.redirectFrontend(c, "/verify", url.Values{"github": {"connected"}})
		return
	}
	h.redirectFrontend(c, "/", url.Values{"github": {"connected"}})
}

// Logout clears the session
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), sessionID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Session reports the protocol state of the caller
func (h *Handlers) Session(c *gin.Context) {
	state, identity := h.binding.Status(c.Request.Context(), sessionID(c))
	success(c, gin.H{"state": state, "identity": identity})
}

// Prepare starts a binding attempt for a wallet
func (h *Handlers) Prepare(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.ErrInvalidAddress)
		return
	}

	challenge, err := h.binding.Prepare(c.Request.Context(), sessionID(c), req.WalletAddress)
	if err != nil {
		writeError(c, err)
		return
	}

	success(c, challenge)
}

// Challenge returns the typed data to sign
func (h *Handlers) Challenge(c *gin.Context) {
	td, err := h.binding.Challenge(c.Request.Context(), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	success(c, td)
}

// Complete exchanges a wallet signature for the signed claim. Any identity,
// wallet, nonce or timestamp in the body is ignored.
func (h *Handlers) Complete(c *gin.Context) {
	var req struct {
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.ErrInvalidSignature)
		return
	}

	claim, err := h.binding.Complete(c.Request.Context(), sessionID(c), req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	success(c, claim)
}

// Cancel abandons the current binding attempt
func (h *Handlers) Cancel(c *gin.Context) {
	if err := h.binding.Cancel(c.Request.Context(), sessionID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Health is a liveness probe
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
