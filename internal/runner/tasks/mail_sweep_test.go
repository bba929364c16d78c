package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crmdesk-io/mailroom/internal/config"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/postmaster"
	"github.com/crmdesk-io/mailroom/internal/models"
)

type emptyMailboxSource struct{}

func (emptyMailboxSource) ListPollingEnabled(_ context.Context) ([]models.Mailbox, error) {
	return nil, nil
}
func (emptyMailboxSource) GetForTenant(_ context.Context, _ int64) (*models.Mailbox, error) {
	return nil, nil
}
func (emptyMailboxSource) RecordCheck(_ context.Context, _ int64, _ bool, _ string) error {
	return nil
}

type nopTicketCreator struct{}

func (nopTicketCreator) Create(_ context.Context, input models.CreateTicketInput) (*models.Ticket, error) {
	return &models.Ticket{ID: 1, TenantID: input.TenantID}, nil
}

func TestMailSweepTaskPlumbing(t *testing.T) {
	cfg := config.SweepConfig{
		Schedule:   "0 */5 * * * *",
		Timeout:    10 * time.Minute,
		MaxRetries: 3,
	}
	task := NewMailSweepTask(nil, cfg)
	require.Equal(t, "mail-sweep", task.Name())
	require.Equal(t, "0 */5 * * * *", task.Schedule())
	require.Equal(t, 10*time.Minute, task.Timeout())
}

func TestMailSweepTaskRunsSweep(t *testing.T) {
	sweeper := postmaster.NewSweeper(emptyMailboxSource{}, nopTicketCreator{})
	task := NewMailSweepTask(sweeper, config.SweepConfig{
		Schedule:   "@every 5m",
		Timeout:    time.Minute,
		MaxRetries: 2,
	})
	require.NoError(t, task.Run(context.Background()))
}
