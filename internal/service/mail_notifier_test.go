package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

func newTestMailNotifier(status int, sendErr error) (*MailNotifier, *[]rest.Request) {
	var requests []rest.Request
	n := NewMailNotifier(MailConfig{
		APIKey:     "SG.test",
		From:       "guard@school.test",
		AppName:    "SMA Guard",
		Recipients: []string{" principal@school.test ", ""},
	})
	n.send = func(req rest.Request) (*rest.Response, error) {
		requests = append(requests, req)
		if sendErr != nil {
			return nil, sendErr
		}
		return &rest.Response{StatusCode: status, Body: "{}"}, nil
	}
	return n, &requests
}

func TestMailNotifierSendsEscalation(t *testing.T) {
	n, requests := newTestMailNotifier(http.StatusAccepted, nil)
	require.True(t, n.Enabled())

	event := guardEvent(models.NotificationGuardAssignmentFailed)
	event.Title = "No substitute found"
	require.NoError(t, n.SendEscalation(context.Background(), event))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, rest.Post, req.Method)
	assert.Equal(t, "https://api.sendgrid.com/v3/mail/send", req.BaseURL)
	assert.Equal(t, "Bearer SG.test", req.Headers["Authorization"])
	body := string(req.Body)
	assert.Contains(t, body, "[SMA Guard] No substitute found")
	assert.Contains(t, body, "principal@school.test")
	assert.Contains(t, body, "gd-1")
}

func TestMailNotifierReportsRejectedRequests(t *testing.T) {
	n, _ := newTestMailNotifier(http.StatusUnauthorized, nil)
	err := n.SendEscalation(context.Background(), guardEvent(models.NotificationGuardAssignmentFailed))
	assert.ErrorContains(t, err, "401")

	n, _ = newTestMailNotifier(0, errors.New("dial tcp: timeout"))
	err = n.SendEscalation(context.Background(), guardEvent(models.NotificationGuardAssignmentFailed))
	assert.ErrorContains(t, err, "sendgrid request")
}

func TestMailNotifierDisabledWithoutKeyOrRecipients(t *testing.T) {
	assert.False(t, NewMailNotifier(MailConfig{Recipients: []string{"a@b.c"}}).Enabled())
	assert.False(t, NewMailNotifier(MailConfig{APIKey: "SG.test", Recipients: []string{"  "}}).Enabled())

	var nilNotifier *MailNotifier
	assert.False(t, nilNotifier.Enabled())
	assert.NoError(t, nilNotifier.SendEscalation(context.Background(), guardEvent(models.NotificationGuardAssignmentFailed)))
}
