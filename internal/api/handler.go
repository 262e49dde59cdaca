package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/pricing"
	"github.com/tkoinhq/pricing-engine/internal/ratecache"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// QuoteService defines the engine operations the handler needs.
type QuoteService interface {
	CreateQuote(ctx context.Context, p pricing.CreateQuoteParams) (*model.Quote, error)
	ValidateQuote(ctx context.Context, id string) (bool, error)
	GetAgentPricing(ctx context.Context, agentID, currency string) (*model.AgentPricing, error)
}

// RateService is the internal rate read API.
type RateService interface {
	GetRate(ctx context.Context, base, quote string) (*model.RateWithMetadata, error)
	GetAllRates(ctx context.Context, base string) (map[string]model.RateWithMetadata, error)
}

// PublicRateService is the unauthenticated rate board.
type PublicRateService interface {
	GetPublicRates(ctx context.Context) (*model.PublicRates, error)
}

// PricingHandler handles HTTP API requests for pricing operations.
type PricingHandler struct {
	logger *zap.Logger
	quotes QuoteService
	rates  RateService
	public PublicRateService
	base   string
}

// NewPricingHandler creates a new PricingHandler.
func NewPricingHandler(logger *zap.Logger, quotes QuoteService, rates RateService,
	public PublicRateService, base string) *PricingHandler {
	return &PricingHandler{
		logger: logger,
		quotes: quotes,
		rates:  rates,
		public: public,
		base:   base,
	}
}

// GetRate handles GET /api/v1/rates/:quote.
func (h *PricingHandler) GetRate(c *fiber.Ctx) error {
	quote := strings.ToUpper(c.Params("quote"))
	md, err := h.rates.GetRate(c.Context(), h.base, quote)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"base":  h.base,
		"quote": quote,
		"rate":  md,
	})
}

// GetAllRates handles GET /api/v1/rates.
func (h *PricingHandler) GetAllRates(c *fiber.Ctx) error {
	all, err := h.rates.GetAllRates(c.Context(), h.base)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"base":  h.base,
		"rates": all,
	})
}

// GetAgentPricing handles GET /api/v1/agents/:agentId/pricing/:currency.
func (h *PricingHandler) GetAgentPricing(c *fiber.Ctx) error {
	agentID := c.Params("agentId")
	cur := strings.ToUpper(c.Params("currency"))

	p, err := h.quotes.GetAgentPricing(c.Context(), agentID, cur)
	if err != nil {
		h.logger.Warn("api.agent_pricing_failed",
			zap.String("agent_id", agentID),
			zap.String("currency", cur),
			zap.Error(err))
		return h.writeError(c, err)
	}
	return c.JSON(p)
}

// CreateQuote handles POST /api/v1/quotes.
func (h *PricingHandler) CreateQuote(c *fiber.Ctx) error {
	var req CreateQuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Reason: "bad_request", Error: err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Reason: "bad_request", Error: err.Error()})
	}

	q, err := h.quotes.CreateQuote(c.Context(), pricing.CreateQuoteParams{
		AgentID:     req.AgentID,
		Currency:    req.Currency,
		Type:        model.QuoteType(req.Type),
		FiatAmount:  req.FiatAmount,
		TokenAmount: req.TokenAmount,
	})
	if err != nil {
		h.logger.Warn("api.create_quote_failed",
			zap.String("agent_id", req.AgentID),
			zap.String("currency", req.Currency),
			zap.Error(err))
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(q)
}

// ValidateQuote handles POST /api/v1/quotes/:id/validate.
func (h *PricingHandler) ValidateQuote(c *fiber.Ctx) error {
	id := c.Params("id")
	valid, err := h.quotes.ValidateQuote(c.Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(ValidateQuoteResponse{QuoteID: id, Valid: valid})
}

// GetPublicRates handles GET /public/rates.
func (h *PricingHandler) GetPublicRates(c *fiber.Ctx) error {
	rates, err := h.public.GetPublicRates(c.Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(rates)
}

// writeError maps the engine's error taxonomy onto HTTP statuses with a
// structured reason. No partial result ever accompanies an error.
func (h *PricingHandler) writeError(c *fiber.Ctx, err error) error {
	var (
		boundsErr    *pricing.OrderBoundsError
		precisionErr *pricing.PrecisionError
	)

	switch {
	case errors.Is(err, pricing.ErrQuoteNotFound),
		errors.Is(err, pricing.ErrAgentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Reason: "not_found", Error: err.Error()})

	case errors.As(err, &boundsErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Reason: boundsErr.Reason, Error: err.Error()})

	case errors.As(err, &precisionErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Reason: "precision_overflow", Error: err.Error()})

	case errors.Is(err, pricing.ErrAgentInactive),
		errors.Is(err, pricing.ErrCurrencyInactive),
		errors.Is(err, pricing.ErrAmountInput),
		errors.Is(err, pricing.ErrInvalidQuoteType),
		errors.Is(err, ratecache.ErrUnsupportedCurrency):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Reason: "rejected", Error: err.Error()})

	case errors.Is(err, ratecache.ErrRateUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Reason: "rate_unavailable", Error: err.Error()})
	}

	h.logger.Error("api.internal_error", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Reason: "internal", Error: "internal error"})
}
