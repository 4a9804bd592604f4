package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/service"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseTransportFile(t *testing.T) {
	input := `
transports:
  - name: primary
    host: smtp.relay.example
    port: 587
    username: campaigns@relay.example
    password_env: PRIMARY_SMTP_PASSWORD
  - name: backup
    host: smtp.backup.example
    port: 465
    username: campaigns@backup.example
    password: s3cret
    active: false
    rate_per_sec: 4
`
	configs, err := parseTransportFile(strings.NewReader(input), lookupFrom(map[string]string{
		"PRIMARY_SMTP_PASSWORD": "from-env",
	}))
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "primary", configs[0].Name)
	assert.Equal(t, "from-env", configs[0].Password)
	assert.True(t, configs[0].IsActive, "active defaults to true")
	assert.Equal(t, "smtp.relay.example:587", configs[0].Address())

	assert.Equal(t, "s3cret", configs[1].Password)
	assert.False(t, configs[1].IsActive)
	assert.Zero(t, configs[0].SendRatePerSec, "rate defaults to the service rate")
	assert.Equal(t, 4, configs[1].SendRatePerSec)
}

func TestParseTransportFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty", input: "", wantErr: "empty"},
		{name: "no transports", input: "transports: []\n", wantErr: "no transports"},
		{
			name:    "unknown field",
			input:   "transports:\n  - name: a\n    hostname: x\n",
			wantErr: "hostname",
		},
		{
			name:    "duplicate name",
			input:   "transports:\n  - {name: a, host: h, port: 25}\n  - {name: a, host: h, port: 25}\n",
			wantErr: "duplicate",
		},
		{
			name:    "missing env",
			input:   "transports:\n  - {name: a, host: h, port: 25, password_env: NOPE}\n",
			wantErr: "NOPE",
		},
		{
			name:    "password and env",
			input:   "transports:\n  - {name: a, host: h, port: 25, password: x, password_env: SET}\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad port",
			input:   "transports:\n  - {name: a, host: h, port: 0}\n",
			wantErr: "port",
		},
		{
			name:    "negative rate",
			input:   "transports:\n  - {name: a, host: h, port: 25, rate_per_sec: -1}\n",
			wantErr: "send rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTransportFile(strings.NewReader(tt.input), lookupFrom(map[string]string{"SET": "v"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseTransportFileValidationWrapsDomainError(t *testing.T) {
	_, err := parseTransportFile(strings.NewReader("transports:\n  - {name: a, port: 25}\n"), lookupFrom(nil))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewStatusOutputPicksLastError(t *testing.T) {
	first := "451 try later"
	second := "421 closing"
	out := newStatusOutput(&service.EmailStatus{
		ID:   7,
		Sent: true,
		Attempts: []domain.DeliveryAttempt{
			{Error: &first},
			{Error: &second},
			{Succeeded: true},
		},
	})

	assert.Equal(t, int64(7), out.ID)
	assert.Equal(t, 3, out.Attempts)
	require.NotNil(t, out.LastError)
	assert.Equal(t, second, *out.LastError)
}

func TestParseEmailArg(t *testing.T) {
	id, err := parseEmailArg("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-3", "abc"} {
		_, err := parseEmailArg(raw)
		assert.Error(t, err, raw)
	}
}
