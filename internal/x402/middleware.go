package x402

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/metrics"
)

// ClaimContextKey is where the gate stores the verified claim in the gin context.
const ClaimContextKey = "x402_claim"

// GateConfig configures one payment-gated mount point.
type GateConfig struct {
	// PriceLamports is the required payment for this resource.
	PriceLamports uint64

	// ResourcePath is the route template the gate protects
	// (e.g. "/api/v1/risk-score/:protocol").
	ResourcePath string

	// Descriptor is returned in 402 bodies so callers learn the price and terms.
	Descriptor ResourceDescriptor

	Verifier *Verifier
	Cache    *VerificationCache
	Logger   *slog.Logger

	// OnVerified, if set, is called after a fresh (non-cached) approval.
	OnVerified func(c *gin.Context, claim *PaymentClaim)
}

// Gate returns gin middleware enforcing payment for one priced resource.
//
// Flow per request: HEAD/OPTIONS get a bare 402; a missing or unparseable
// X-PAYMENT header gets 402 plus the resource descriptor; a signature already
// verified for this resource proceeds without a chain lookup; otherwise the
// verifier runs: approval caches the signature and proceeds, rejection is
// 402 with the failing check's reason, and a transient chain-lookup failure
// is 503 so the client retries the same payment instead of paying again.
func Gate(cfg GateConfig) gin.HandlerFunc {
	logger := logging.Component(cfg.Logger, "payment_gate")

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusPaymentRequired)
			return
		}

		header := c.GetHeader(PaymentHeader)
		if header == "" {
			paymentRequired(c, cfg, ReasonMalformedClaim, "payment required: missing "+PaymentHeader+" header")
			return
		}

		claim, err := ParseClaimHeader(header)
		if err != nil {
			paymentRequired(c, cfg, ReasonMalformedClaim, err.Error())
			return
		}

		if cfg.Cache.Check(claim.Signature, cfg.ResourcePath) {
			metrics.PaymentVerificationsTotal.WithLabelValues("cached").Inc()
			c.Set(ClaimContextKey, claim)
			c.Next()
			return
		}

		err = cfg.Verifier.Verify(c.Request.Context(), claim, cfg.PriceLamports, cfg.ResourcePath)
		if err != nil {
			var rej *RejectionError
			switch {
			case errors.As(err, &rej):
				metrics.PaymentVerificationsTotal.WithLabelValues("rejected").Inc()
				logger.Info("payment rejected",
					"reason", rej.Reason,
					"resource", cfg.ResourcePath,
					"payer", claim.Payer,
				)
				paymentRequired(c, cfg, rej.Reason, rej.Message)
			case errors.Is(err, ErrChainLookupUnavailable):
				metrics.PaymentVerificationsTotal.WithLabelValues("unavailable").Inc()
				logger.Warn("chain lookup unavailable", "resource", cfg.ResourcePath)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":   "chain_lookup_unavailable",
					"message": "payment verification temporarily unavailable; retry with the same payment",
				})
			default:
				metrics.PaymentVerificationsTotal.WithLabelValues("error").Inc()
				logger.Error("payment verification error", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal_error",
				})
			}
			return
		}

		metrics.PaymentVerificationsTotal.WithLabelValues("approved").Inc()
		cfg.Cache.Put(claim.Signature, cfg.ResourcePath)
		logger.Info("payment verified",
			"resource", cfg.ResourcePath,
			"payer", claim.Payer,
			"lamports", claim.Amount,
		)
		if cfg.OnVerified != nil {
			cfg.OnVerified(c, claim)
		}

		c.Set(ClaimContextKey, claim)
		c.Next()
	}
}

// ClaimFromContext retrieves the verified claim stored by the gate.
func ClaimFromContext(c *gin.Context) *PaymentClaim {
	if v, ok := c.Get(ClaimContextKey); ok {
		if claim, ok := v.(*PaymentClaim); ok {
			return claim
		}
	}
	return nil
}

func paymentRequired(c *gin.Context, cfg GateConfig, reason, message string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"error":   reason,
		"message": message,
		"accepts": []ResourceDescriptor{cfg.Descriptor},
	})
}
