package session

import (
	"context"
	"log/slog"

	"github.com/Anvoria/keyrelay/internal/ledger"
	"github.com/Anvoria/keyrelay/internal/utils"
	"github.com/gofiber/fiber/v2"
)

// ServiceInterface is the session API surface the HTTP handler depends on
type ServiceInterface interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	Revoke(ctx context.Context, req RevokeRequest) (*RevokeResult, error)
	Relay(ctx context.Context, req RelayRequest) (*RelayResult, error)
	PrepareRelay(ctx context.Context, req PrepareRelayRequest) (*ledger.UnsignedTransaction, error)
	Status(ctx context.Context, sessionKey string) (*Info, error)
	ListByOwner(ctx context.Context, owner string) ([]Info, error)
}

type Handler struct {
	sessionService ServiceInterface
}

func NewHandler(s ServiceInterface) *Handler {
	return &Handler{sessionService: s}
}

// Verify handles POST /v1/session/verify
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	res, err := h.sessionService.Verify(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"valid":   true,
		"session": res,
	}, "Signature verified")
}

// Register handles POST /v1/session/register
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	res, err := h.sessionService.Register(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, res, "Session registered, sign and submit the transaction", fiber.StatusCreated)
}

// Revoke handles POST /v1/session/revoke
func (h *Handler) Revoke(c *fiber.Ctx) error {
	var req RevokeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	res, err := h.sessionService.Revoke(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, res, "Session revoked")
}

// Relay handles POST /v1/session/relay
func (h *Handler) Relay(c *fiber.Ctx) error {
	var req RelayRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	res, err := h.sessionService.Relay(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, res, "Transaction relayed")
}

// PrepareRelay handles POST /v1/session/relay/prepare
func (h *Handler) PrepareRelay(c *fiber.Ctx) error {
	var req PrepareRelayRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	tx, err := h.sessionService.PrepareRelay(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, fiber.Map{"transaction": tx}, "Relay transaction prepared")
}

// GetSession handles GET /v1/session/:sessionPublicKey
func (h *Handler) GetSession(c *fiber.Ctx) error {
	info, err := h.sessionService.Status(c.UserContext(), c.Params("sessionPublicKey"))
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, fiber.Map{"session": info}, "Session retrieved successfully")
}

// ListSessions handles GET /v1/session?owner=
func (h *Handler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.sessionService.ListByOwner(c.UserContext(), c.Query("owner"))
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	}, "Sessions retrieved successfully")
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	apiErr := MapError(err)
	if apiErr.Status >= fiber.StatusInternalServerError {
		slog.Error("Session request failed", "path", c.Path(), "error", err)
	}
	return utils.ErrorResponse(c, apiErr)
}
