package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/csword/mailtrack/internal/service"
)

var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Inspect and send individual campaign emails",
}

var emailStatusCmd = &cobra.Command{
	Use:   "status <email-id>",
	Short: "Print delivery and tracking state of an email",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmailStatus,
}

var emailSendCmd = &cobra.Command{
	Use:   "send <email-id>",
	Short: "Deliver an email now, outside the campaign window",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmailSend,
}

func init() {
	emailCmd.AddCommand(emailStatusCmd)
	emailCmd.AddCommand(emailSendCmd)
}

type statusOutput struct {
	ID        int64      `json:"id"`
	Sent      bool       `json:"sent"`
	Read      bool       `json:"read"`
	Clicked   bool       `json:"clicked"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	ClickedAt *time.Time `json:"clickedAt,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"lastError,omitempty"`
}

func newStatusOutput(status *service.EmailStatus) statusOutput {
	out := statusOutput{
		ID:        status.ID,
		Sent:      status.Sent,
		Read:      status.Read,
		Clicked:   status.Clicked,
		SentAt:    status.SentAt,
		ReadAt:    status.ReadAt,
		ClickedAt: status.ClickedAt,
		Attempts:  len(status.Attempts),
	}
	for i := len(status.Attempts) - 1; i >= 0; i-- {
		if status.Attempts[i].Error != nil {
			out.LastError = status.Attempts[i].Error
			break
		}
	}
	return out
}

func parseEmailArg(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid email id %q", raw)
	}
	return id, nil
}

func runEmailStatus(cmd *cobra.Command, args []string) error {
	id, err := parseEmailArg(args[0])
	if err != nil {
		return err
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.emails.Status(cmd.Context(), id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(newStatusOutput(status))
}

func runEmailSend(cmd *cobra.Command, args []string) error {
	id, err := parseEmailArg(args[0])
	if err != nil {
		return err
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cfg, logger, appOptions{withEvents: true})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.emails.SendNow(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "email %d sent\n", id)
	return nil
}
