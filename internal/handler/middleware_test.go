package handler

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/csword/mailtrack/internal/observability"
)

func TestRequestContextCarriesRequestID(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, func(app *fiber.App) error {
		app.Use(requestid.New(), RequestContext())
		app.Get("/echo", func(c *fiber.Ctx) error {
			id, _ := observability.RequestIDFromContext(c.UserContext())
			return c.SendString(id)
		})
		return nil
	})

	req, _ := http.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 16)
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != "req-42" {
		t.Fatalf("request id = %q, want req-42", got)
	}
}
