package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/config"
)

type stubBot struct {
	user *models.User
	err  error
}

func (s *stubBot) GetMe(ctx context.Context) (*models.User, error) {
	return s.user, s.err
}

func TestValidateConnectionFailure(t *testing.T) {
	var out bytes.Buffer
	api := &stubBot{err: errors.New("401 unauthorized")}

	err := validate(context.Background(), config.TelegramConfig{}, api, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot API connection failed")
	assert.Contains(t, err.Error(), "401 unauthorized")
}

func TestValidateWithoutOpsChat(t *testing.T) {
	var out bytes.Buffer
	api := &stubBot{user: &models.User{ID: 42, Username: "prismcast_bot"}}

	err := validate(context.Background(), config.TelegramConfig{}, api, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "@prismcast_bot")
	assert.Contains(t, out.String(), "ops_chat_id is not set")
}

func TestValidateOpsChatID(t *testing.T) {
	api := &stubBot{user: &models.User{ID: 42, Username: "prismcast_bot"}}

	var out bytes.Buffer
	err := validate(context.Background(), config.TelegramConfig{OpsChatID: "-1001234567"}, api, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Ops chat id -1001234567 is valid")

	err = validate(context.Background(), config.TelegramConfig{OpsChatID: "operations"}, api, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a numeric chat id")
}
