package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/ratelimit"
	"github.com/csword/mailtrack/internal/service"
)

type EmailService interface {
	Status(ctx context.Context, id int64) (*service.EmailStatus, error)
	SendNow(ctx context.Context, id int64) error
	ListTransports(ctx context.Context) ([]domain.TransportConfig, error)
}

type SchedulerRunner interface {
	RunOnce(ctx context.Context) (service.RunReport, error)
}

type EmailHandler struct {
	service   EmailService
	scheduler SchedulerRunner
}

func NewEmailHandler(service EmailService, scheduler SchedulerRunner) (*EmailHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("email service is required")
	}
	return &EmailHandler{service: service, scheduler: scheduler}, nil
}

// RegisterEmailRoutes mounts the operator endpoints. The scheduler trigger is
// only mounted when a runner is supplied.
func RegisterEmailRoutes(router fiber.Router, service EmailService, scheduler SchedulerRunner) error {
	h, err := NewEmailHandler(service, scheduler)
	if err != nil {
		return err
	}

	email := router.Group("/api/email")
	email.Get("/configurations/", h.ListConfigurations)
	email.Get("/:email_id/status", h.GetStatus)
	email.Post("/:email_id/send", h.SendNow)
	if scheduler != nil {
		email.Post("/scheduler/run", h.RunScheduler)
	}

	return nil
}

type attemptResponse struct {
	ID          string    `json:"id"`
	TransportID *int64    `json:"transportId,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	Temporary   bool      `json:"temporary"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type emailStatusResponse struct {
	ID        int64             `json:"id"`
	Sent      bool              `json:"sent"`
	Read      bool              `json:"read"`
	Clicked   bool              `json:"clicked"`
	SentAt    *time.Time        `json:"sentAt,omitempty"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
	ClickedAt *time.Time        `json:"clickedAt,omitempty"`
	Attempts  []attemptResponse `json:"attempts"`
}

type transportConfigResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt"`

	SendRatePerSec int `json:"sendRatePerSec,omitempty"`
}

type runReportResponse struct {
	Day        string  `json:"day"`
	Locked     bool    `json:"locked"`
	Candidates int     `json:"candidates"`
	Attempted  int     `json:"attempted"`
	Sent       int     `json:"sent"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	SentIDs    []int64 `json:"sentIds"`
}

func (h *EmailHandler) GetStatus(c *fiber.Ctx) error {
	id, err := parseEmailID(c.Params("email_id"))
	if err != nil {
		return toHTTPError(err)
	}

	status, err := h.service.Status(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toEmailStatusResponse(status))
}

func (h *EmailHandler) SendNow(c *fiber.Ctx) error {
	id, err := parseEmailID(c.Params("email_id"))
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.service.SendNow(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}

	status, err := h.service.Status(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toEmailStatusResponse(status))
}

func (h *EmailHandler) ListConfigurations(c *fiber.Ctx) error {
	configs, err := h.service.ListTransports(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]transportConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		items = append(items, transportConfigResponse{
			ID:        cfg.ID,
			Name:      cfg.Name,
			Host:      cfg.Host,
			Port:      cfg.Port,
			Username:  cfg.Username,
			IsActive:  cfg.IsActive,
			UpdatedAt: cfg.UpdatedAt,

			SendRatePerSec: cfg.SendRatePerSec,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": items})
}

func (h *EmailHandler) RunScheduler(c *fiber.Ctx) error {
	report, err := h.scheduler.RunOnce(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}

	sentIDs := report.SentIDs
	if sentIDs == nil {
		sentIDs = []int64{}
	}

	return c.Status(fiber.StatusOK).JSON(runReportResponse{
		Day:        report.Day,
		Locked:     report.Locked,
		Candidates: report.Candidates,
		Attempted:  report.Attempted,
		Sent:       report.Sent,
		Failed:     report.Failed,
		Skipped:    report.Skipped,
		SentIDs:    sentIDs,
	})
}

func toEmailStatusResponse(status *service.EmailStatus) emailStatusResponse {
	attempts := make([]attemptResponse, 0, len(status.Attempts))
	for _, a := range status.Attempts {
		attempts = append(attempts, attemptResponse{
			ID:          a.ID,
			TransportID: a.TransportID,
			Succeeded:   a.Succeeded,
			Temporary:   a.Temporary,
			Error:       a.Error,
			CreatedAt:   a.CreatedAt,
		})
	}

	return emailStatusResponse{
		ID:        status.ID,
		Sent:      status.Sent,
		Read:      status.Read,
		Clicked:   status.Clicked,
		SentAt:    status.SentAt,
		ReadAt:    status.ReadAt,
		ClickedAt: status.ClickedAt,
		Attempts:  attempts,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoTransport):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ratelimit.ErrThrottled):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrDeliveryFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
