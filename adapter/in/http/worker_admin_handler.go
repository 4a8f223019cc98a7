package http

import (
	"context"
	"slices"

	"mail_worker/pkg/apperr"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/resilience"
	"mail_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// FeatureToggler is the subset of resilience.Degrader the admin routes use.
type FeatureToggler interface {
	Enabled(ctx context.Context, feature string) bool
	Enable(ctx context.Context, feature string) error
	Disable(ctx context.Context, feature string) error
}

var knownFeatures = []string{
	resilience.FeatureEmailSync,
	resilience.FeatureMessageDetail,
	resilience.FeatureAttachmentDownload,
	resilience.FeatureTicketSummary,
}

type AdminHandler struct {
	features FeatureToggler
}

func NewAdminHandler(features FeatureToggler) *AdminHandler {
	return &AdminHandler{features: features}
}

func (h *AdminHandler) Register(r fiber.Router) {
	admin := r.Group("/admin/features")
	admin.Get("/", h.List)
	admin.Post("/:name/enable", h.Enable)
	admin.Post("/:name/disable", h.Disable)
}

func (h *AdminHandler) List(c *fiber.Ctx) error {
	out := make(fiber.Map, len(knownFeatures))
	for _, f := range knownFeatures {
		out[f] = h.features.Enabled(c.Context(), f)
	}
	return response.OK(c, out)
}

func (h *AdminHandler) Enable(c *fiber.Ctx) error {
	return h.toggle(c, true)
}

func (h *AdminHandler) Disable(c *fiber.Ctx) error {
	return h.toggle(c, false)
}

func (h *AdminHandler) toggle(c *fiber.Ctx, enable bool) error {
	if _, err := MustGetUserID(c); err != nil {
		return err
	}
	name := c.Params("name")
	if !slices.Contains(knownFeatures, name) {
		return apperr.NotFound("feature")
	}

	var err error
	if enable {
		err = h.features.Enable(c.Context(), name)
	} else {
		err = h.features.Disable(c.Context(), name)
	}
	if err != nil {
		logger.WithError(err).Error("[AdminHandler.toggle] %s enable=%v failed", name, enable)
		return apperr.InternalWithError(err)
	}

	logger.Info("[AdminHandler.toggle] feature %s enabled=%v", name, enable)
	return response.OK(c, fiber.Map{"feature": name, "enabled": enable})
}
