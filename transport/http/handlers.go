package http

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/bip47-showcase/auth47/core"
	"github.com/bip47-showcase/auth47/service"
)

const qrSize = 256

// proofRequest carries the wallet's proof, from a query, a form or JSON
type proofRequest struct {
	Response  string `form:"auth47_response" json:"auth47_response"`
	Challenge string `form:"challenge" json:"challenge"`
	Nym       string `form:"nym" json:"nym"`
	Signature string `form:"signature" json:"signature"`
}

func (r proofRequest) proof() core.Proof {
	return core.Proof{
		Response:  r.Response,
		Challenge: r.Challenge,
		Nym:       r.Nym,
		Signature: r.Signature,
	}
}

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	frontendURL string
	logger      *zap.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, frontendURL string, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// Challenge issues a challenge and returns its URI with a QR rendering
func (h *AuthHandlers) Challenge(c *gin.Context) {
	ch, err := h.authService.CreateChallenge(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": core.KindInternal})
		return
	}

	png, err := qrcode.Encode(ch.URI, qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error("failed to render challenge QR", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": core.KindInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auth47Uri":   ch.URI,
		"nonce":       ch.Nonce,
		"callbackUrl": ch.CallbackURL,
		"expiresAt":   ch.ExpiresAt.Unix(),
		"qrCode":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

// ChallengeQR renders a stored challenge URI as a PNG
func (h *AuthHandlers) ChallengeQR(c *gin.Context) {
	uri, err := h.authService.ChallengeURI(c.Request.Context(), c.Param("nonce"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": core.Kind(err)})
		return
	}

	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error("failed to render challenge QR", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": core.KindInternal})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// Authenticate is the wallet callback. It answers with an HTML page because
// the wallet opens it in a browser.
func (h *AuthHandlers) Authenticate(c *gin.Context) {
	view := resultView{
		DashboardURL: h.frontendURL + "/dashboard",
		RetryURL:     h.frontendURL + "/auth",
	}

	var req proofRequest
	if err := c.ShouldBind(&req); err != nil {
		view.Error = core.KindMissingFields
		c.HTML(http.StatusBadRequest, "result", view)
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.proof())
	if err != nil {
		view.Error = core.Kind(err)
		c.HTML(statusFor(err), "result", view)
		return
	}

	view.OK = true
	view.Token = res.Token
	view.Username = res.Session.Username
	view.PublicKey = res.Session.Identity
	c.HTML(http.StatusOK, "result", view)
}

// Verify accepts a proof as JSON and answers with the session token
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": core.KindMissingFields})
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.proof())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": core.Kind(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": res.Token,
		"user": gin.H{
			"username":  res.Session.Username,
			"publicKey": res.Session.Identity,
		},
	})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": core.KindInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"publicKey": session.Identity,
		"username":  session.Username,
		"sessionId": session.ID,
		"expiresAt": session.ExpiresAt.Unix(),
	})
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
