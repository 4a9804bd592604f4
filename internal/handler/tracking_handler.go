package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/observability"
	"github.com/csword/mailtrack/internal/service"
)

// 1x1 transparent GIF.
var pixelGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

const notFoundPage = `<!DOCTYPE html><html><head><title>Not found</title></head><body><h1>Email not found</h1></body></html>`

type TrackingService interface {
	MarkRead(ctx context.Context, hit service.Hit) (bool, error)
	MarkClicked(ctx context.Context, hit service.Hit) (bool, error)
	ViewInBrowser(ctx context.Context, emailID int64) (string, error)
}

// TrackingHandler serves the endpoints hit by mail clients and browsers.
// Whatever happens internally, mark-read answers with the pixel and
// mark-clicked with the redirect (or the pixel when there is no url).
type TrackingHandler struct {
	service TrackingService
	logger  *zap.Logger
}

func NewTrackingHandler(service TrackingService, logger *zap.Logger) (*TrackingHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("tracking service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingHandler{service: service, logger: logger}, nil
}

func RegisterTrackingRoutes(router fiber.Router, service TrackingService, logger *zap.Logger) error {
	h, err := NewTrackingHandler(service, logger)
	if err != nil {
		return err
	}

	email := router.Group("/api/email")
	email.Get("/mark-read/:email_id/", trackingCORS, h.MarkRead)
	email.Options("/mark-read/:email_id/", trackingCORS, preflight)
	email.Get("/mark-clicked/:email_id/", trackingCORS, h.MarkClicked)
	email.Options("/mark-clicked/:email_id/", trackingCORS, preflight)
	email.Get("/view-in-browser/:email_id/", h.ViewInBrowser)

	return nil
}

func (h *TrackingHandler) MarkRead(c *fiber.Ctx) (err error) {
	logger := observability.WithContextLogger(h.logger, c.UserContext())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mark-read panicked", zap.Any("panic", r))
			err = sendPixel(c)
		}
	}()

	hit, ok := trackingHit(c)
	if !ok {
		logger.Warn("mark-read with invalid email id", zap.String("emailId", c.Params("email_id")))
		return sendPixel(c)
	}

	first, markErr := h.service.MarkRead(c.UserContext(), hit)
	logTrackingResult(logger, "mark-read", hit.EmailID, first, markErr)

	return sendPixel(c)
}

func (h *TrackingHandler) MarkClicked(c *fiber.Ctx) (err error) {
	logger := observability.WithContextLogger(h.logger, c.UserContext())
	destination := c.Query("url")
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mark-clicked panicked", zap.Any("panic", r))
			err = sendRedirectOrPixel(c, destination)
		}
	}()

	hit, ok := trackingHit(c)
	if !ok {
		logger.Warn("mark-clicked with invalid email id", zap.String("emailId", c.Params("email_id")))
		return sendRedirectOrPixel(c, destination)
	}
	hit.URL = destination

	first, markErr := h.service.MarkClicked(c.UserContext(), hit)
	logTrackingResult(logger, "mark-clicked", hit.EmailID, first, markErr)

	return sendRedirectOrPixel(c, destination)
}

func (h *TrackingHandler) ViewInBrowser(c *fiber.Ctx) error {
	c.Type("html", "utf-8")
	noCache(c)

	id, err := parseEmailID(c.Params("email_id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).SendString(notFoundPage)
	}

	body, err := h.service.ViewInBrowser(c.UserContext(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).SendString(notFoundPage)
	}
	if err != nil {
		observability.WithContextLogger(h.logger, c.UserContext()).Error("view-in-browser failed",
			zap.Int64("emailId", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).SendString("<html><body><h1>Something went wrong</h1></body></html>")
	}

	return c.Status(fiber.StatusOK).SendString(body)
}

func trackingHit(c *fiber.Ctx) (service.Hit, bool) {
	id, err := parseEmailID(c.Params("email_id"))
	if err != nil {
		return service.Hit{}, false
	}
	return service.Hit{
		EmailID:   id,
		Technique: c.Query("t"),
		RemoteIP:  c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}, true
}

func logTrackingResult(logger *zap.Logger, endpoint string, emailID int64, first bool, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn(endpoint+" for unknown email", zap.Int64("emailId", emailID))
	case err != nil:
		logger.Error(endpoint+" failed", zap.Int64("emailId", emailID), zap.Error(err))
	case first:
		logger.Info(endpoint+" recorded", zap.Int64("emailId", emailID))
	default:
		logger.Debug(endpoint+" repeated", zap.Int64("emailId", emailID))
	}
}

func parseEmailID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid email id %q", domain.ErrValidation, raw)
	}
	return id, nil
}

func sendPixel(c *fiber.Ctx) error {
	noCache(c)
	c.Set(fiber.HeaderContentType, "image/gif")
	return c.Status(fiber.StatusOK).Send(pixelGIF)
}

// sendRedirectOrPixel redirects to destination when it is a navigable URL.
// Script and data URLs are never redirected to.
func sendRedirectOrPixel(c *fiber.Ctx, destination string) error {
	if !redirectable(destination) {
		return sendPixel(c)
	}
	noCache(c)
	return c.Redirect(destination, fiber.StatusFound)
}

func redirectable(destination string) bool {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return false
	}
	parsed, err := url.Parse(destination)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "javascript", "data", "vbscript":
		return false
	}
	return true
}

func noCache(c *fiber.Ctx) {
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
}

// trackingCORS allows any origin with credentials, a combination the fiber
// cors middleware rejects.
func trackingCORS(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "GET, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, X-CSRFToken")
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
	return c.Next()
}

func preflight(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}
