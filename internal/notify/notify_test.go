package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goharvest/internal/config"
)

var when = time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)

func TestComposeSuccess(t *testing.T) {
	mail := Compose("bot@example.com", []string{" ops@example.com ", "", "dev@example.com"}, Summary{
		Job:            "tmd",
		SucceededCount: 75,
		FailedEntities: []string{"Nan", "Yala"},
		MergedRows:     1200,
		Action:         "update",
		ResourceID:     "abc",
		When:           when,
	})

	assert.Equal(t, "bot@example.com", mail.From)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, mail.To)
	assert.Equal(t, "[tmd] OK=75 FAIL=2", mail.Subject)
	body := string(mail.Text)
	assert.Contains(t, body, "Total rows (after merge): 1200")
	assert.Contains(t, body, "Remote: update id=abc")
	assert.Contains(t, body, "Failed: Nan, Yala")
}

func TestComposeNoFailures(t *testing.T) {
	mail := Compose("bot@example.com", []string{"ops@example.com"}, Summary{Job: "tmd", SucceededCount: 3, When: when})
	assert.Equal(t, "[tmd] OK=3 FAIL=0", mail.Subject)
	assert.Contains(t, string(mail.Text), "Failed: -")
	assert.Contains(t, string(mail.Text), "Remote: none")
}

func TestComposeFailure(t *testing.T) {
	mail := Compose("bot@example.com", []string{"ops@example.com"}, Summary{
		Job:  "tmd",
		Err:  errors.New("discovery: control not found"),
		When: when,
	})
	assert.Equal(t, "[tmd] FAILED @ 2025-06-01 07:30:00", mail.Subject)
	assert.Contains(t, string(mail.Text), "discovery: control not found")
}

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{
		Enabled:  true,
		Server:   "smtp.example.com",
		Port:     587,
		Sender:   "bot@example.com",
		Password: "secret",
		To:       []string{"ops@example.com"},
	}
}

func TestNotifyFallsBackWithoutAuth(t *testing.T) {
	n := NewSMTPNotifier(testConfig(), nil)
	var auths []smtp.Auth
	var addrs []string
	n.send = func(_ *email.Email, addr string, a smtp.Auth) error {
		addrs = append(addrs, addr)
		auths = append(auths, a)
		if a != nil {
			return errors.New("smtp: server doesn't support AUTH")
		}
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), Summary{Job: "tmd", When: when}))
	require.Len(t, auths, 2)
	assert.NotNil(t, auths[0])
	assert.Nil(t, auths[1])
	assert.Equal(t, []string{"smtp.example.com:587", "smtp.example.com:587"}, addrs)
}

func TestNotifyReturnsSendError(t *testing.T) {
	n := NewSMTPNotifier(testConfig(), nil)
	n.send = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }

	err := n.Notify(context.Background(), Summary{Job: "tmd", When: when})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNotifyCancelled(t *testing.T) {
	n := NewSMTPNotifier(testConfig(), nil)
	calls := 0
	n.send = func(*email.Email, string, smtp.Auth) error { calls++; return nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, Summary{Job: "tmd"}), context.Canceled)
	assert.Zero(t, calls)
}
