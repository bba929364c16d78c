package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/crmdesk-io/mailroom/internal/models"
)

func newMockTicketRepo(t *testing.T) (*TicketRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewTicketRepository(sqlx.NewDb(db, "postgres"))
	repo.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return repo, mock
}

func TestTicketCreateNumberComesFromSequence(t *testing.T) {
	repo, mock := newMockTicketRepo(t)

	// The number suffix must be drawn from the database sequence, not
	// process-local state, so replicas and restarts cannot collide.
	mock.ExpectQuery(regexp.QuoteMeta("nextval('ticket_number_seq')")).
		WithArgs(
			int64(7), "20240102030405", "Hello", "Body", nil, false,
			"jane@example.com", "Jane", 1, 3, 1,
			models.TicketSourceEmail, "1", sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number"}).
			AddRow(int64(42), "2024010203040500017"))

	ticket, err := repo.Create(context.Background(), models.CreateTicketInput{
		TenantID:       7,
		Subject:        "Hello",
		Description:    "Body",
		RequesterEmail: "jane@example.com",
		RequesterName:  "Jane",
		StatusID:       1,
		PriorityID:     3,
		CategoryID:     1,
		Source:         models.TicketSourceEmail,
		SourceID:       "1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), ticket.ID)
	require.Equal(t, "2024010203040500017", ticket.Number)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketExistsBySource(t *testing.T) {
	repo, mock := newMockTicketRepo(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7), models.TicketSourceEmail, "3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsBySource(context.Background(), 7, models.TicketSourceEmail, "3")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
