package repository

import (
    "context"
    "database/sql"
    "errors"
    "regexp"
    "testing"
    "time"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/go-sql-driver/mysql"
    "github.com/shopspring/decimal"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/event-checkin/internal/history"
    "github.com/iliyamo/event-checkin/internal/ledger"
    "github.com/iliyamo/event-checkin/internal/model"
)

var at = time.Date(2026, 6, 12, 19, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
    t.Helper()
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    t.Cleanup(func() {
        assert.NoError(t, mock.ExpectationsWereMet())
        db.Close()
    })
    return db, mock
}

var redemptionCols = []string{"booking_id", "event_id", "device_id", "redeemed_at", "latitude", "longitude", "accuracy", "replayed"}

func TestRedemptionRepo_InsertFirstWins(t *testing.T) {
    db, mock := newMock(t)
    repo := NewRedemptionRepo(db)
    red := model.Redemption{BookingID: "b1", EventID: "E1", DeviceID: "gate-1", RedeemedAt: at}

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemptions")).
        WithArgs("b1", "E1", "gate-1", at, nil, nil, nil, false).
        WillReturnResult(sqlmock.NewResult(1, 1))

    prior, inserted, err := repo.InsertIfAbsent(context.Background(), red)
    require.NoError(t, err)
    assert.True(t, inserted)
    assert.Nil(t, prior)
}

func TestRedemptionRepo_DuplicateLoadsPrior(t *testing.T) {
    db, mock := newMock(t)
    repo := NewRedemptionRepo(db)

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemptions")).
        WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'b1' for key 'PRIMARY'"})
    mock.ExpectQuery(regexp.QuoteMeta("FROM redemptions WHERE booking_id=?")).
        WithArgs("b1").
        WillReturnRows(sqlmock.NewRows(redemptionCols).
            AddRow("b1", "E1", "gate-9", at.Add(-time.Minute), 52.52, 13.40, nil, true))

    prior, inserted, err := repo.InsertIfAbsent(context.Background(),
        model.Redemption{BookingID: "b1", EventID: "E1", DeviceID: "gate-1", RedeemedAt: at})
    require.NoError(t, err)
    assert.False(t, inserted)
    require.NotNil(t, prior)
    assert.Equal(t, "gate-9", prior.DeviceID)
    assert.True(t, prior.Replayed)
    require.NotNil(t, prior.Geolocation)
    assert.InDelta(t, 13.40, prior.Geolocation.Longitude, 1e-9)
}

func TestRedemptionRepo_OtherErrorsPropagate(t *testing.T) {
    db, mock := newMock(t)
    repo := NewRedemptionRepo(db)

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemptions")).WillReturnError(sql.ErrConnDone)

    _, inserted, err := repo.InsertIfAbsent(context.Background(), model.Redemption{BookingID: "b1", RedeemedAt: at})
    assert.ErrorIs(t, err, sql.ErrConnDone)
    assert.False(t, inserted)
}

func TestRedemptionRepo_GetMissing(t *testing.T) {
    db, mock := newMock(t)
    repo := NewRedemptionRepo(db)

    mock.ExpectQuery(regexp.QuoteMeta("FROM redemptions WHERE booking_id=?")).
        WithArgs("nope").
        WillReturnRows(sqlmock.NewRows(redemptionCols))

    _, err := repo.Get(context.Background(), "nope")
    assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRedemptionRepo_BacksLedger(t *testing.T) {
    db, mock := newMock(t)
    reviews := ledger.NewMemoryReviewQueue()
    l := ledger.New(NewRedemptionRepo(db), reviews)

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemptions")).
        WillReturnError(&mysql.MySQLError{Number: 1062})
    mock.ExpectQuery(regexp.QuoteMeta("FROM redemptions")).
        WillReturnRows(sqlmock.NewRows(redemptionCols).AddRow("b1", "E1", "gate-9", at, nil, nil, nil, false))

    res, err := l.Redeem(context.Background(), ledger.Request{BookingID: "b1", EventID: "E1", DeviceID: "gate-1", RedeemedAt: at})
    require.NoError(t, err)
    assert.Equal(t, ledger.OutcomeDuplicate, res.Outcome)
    items, _ := reviews.List(context.Background(), "", 0)
    assert.Len(t, items, 1)
}

func TestRedemptionRepo_RetryRecognisesOwnStoredWrite(t *testing.T) {
    db, mock := newMock(t)
    reviews := ledger.NewMemoryReviewQueue()
    l := ledger.New(NewRedemptionRepo(db), reviews, ledger.WithRetry(ledger.RetryPolicy{
        Attempts: 2, AttemptTimeout: time.Second, InitialDelay: time.Millisecond,
    }))
    now := time.Date(2026, 6, 12, 19, 0, 0, 123456789, time.UTC)
    stored := now.Truncate(time.Microsecond)

    // The first insert commits but its response is lost.
    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemptions")).
        WithArgs("b1", "E1", "gate-1", stored, nil, nil, nil, false).
        WillReturnError(errors.New("read tcp: i/o timeout"))
    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO redemptions")).
        WillReturnError(&mysql.MySQLError{Number: 1062})
    mock.ExpectQuery(regexp.QuoteMeta("FROM redemptions WHERE booking_id=?")).
        WithArgs("b1").
        WillReturnRows(sqlmock.NewRows(redemptionCols).AddRow("b1", "E1", "gate-1", stored, nil, nil, nil, false))

    res, err := l.Redeem(context.Background(), ledger.Request{BookingID: "b1", EventID: "E1", DeviceID: "gate-1", RedeemedAt: now})
    require.NoError(t, err)
    assert.Equal(t, ledger.OutcomeSuccess, res.Outcome)
    items, err := reviews.List(context.Background(), "", 0)
    require.NoError(t, err)
    assert.Empty(t, items)
}

var reviewCols = []string{"id", "booking_id", "event_id", "device_id", "attempted_at", "reason", "detail", "source", "prior"}

func TestReviewRepo_SubmitAndList(t *testing.T) {
    db, mock := newMock(t)
    repo := NewReviewRepo(db)
    item := model.ReviewItem{
        ID: "r1", BookingID: "b1", EventID: "E1", DeviceID: "gate-2", AttemptedAt: at,
        Reason: model.ReasonDuplicateRedemption, Source: model.ReviewOnline,
        Prior: &model.Redemption{BookingID: "b1", EventID: "E1", DeviceID: "gate-1", RedeemedAt: at.Add(-time.Hour)},
    }

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_items")).
        WithArgs("r1", "b1", "E1", "gate-2", at, "DUPLICATE_REDEMPTION", "", "ONLINE", sqlmock.AnyArg()).
        WillReturnResult(sqlmock.NewResult(1, 1))
    require.NoError(t, repo.Submit(context.Background(), item))

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_items")).
        WillReturnError(&mysql.MySQLError{Number: 1062})
    require.NoError(t, repo.Submit(context.Background(), item), "resubmission is idempotent")

    mock.ExpectQuery(regexp.QuoteMeta("FROM review_items WHERE event_id=? ORDER BY attempted_at DESC, id LIMIT ?")).
        WithArgs("E1", 10).
        WillReturnRows(sqlmock.NewRows(reviewCols).
            AddRow("r1", "b1", "E1", "gate-2", at, "DUPLICATE_REDEMPTION", "", "ONLINE",
                `{"booking_id":"b1","event_id":"E1","device_id":"gate-1","redeemed_at":"2026-06-12T18:00:00Z"}`))

    items, err := repo.List(context.Background(), "E1", 10)
    require.NoError(t, err)
    require.Len(t, items, 1)
    assert.Equal(t, model.ReviewOnline, items[0].Source)
    require.NotNil(t, items[0].Prior)
    assert.Equal(t, "gate-1", items[0].Prior.DeviceID)
}

var historyCols = []string{"id", "booking_id", "user_id", "user_name", "user_email", "event_id", "event_title",
    "tickets", "amount", "device_id", "checked_in_at", "latitude", "longitude", "accuracy", "outcome", "reason",
    "warnings", "note"}

func TestHistoryRepo_Append(t *testing.T) {
    db, mock := newMock(t)
    repo := NewHistoryRepo(db)
    rec := model.CheckinRecord{
        ID: "h1", BookingID: "b1", UserID: "u1", UserName: "Ada", UserEmail: "ada@example.com",
        EventID: "E1", EventTitle: "Jazz", Tickets: 12, Amount: decimal.RequireFromString("120.5"),
        DeviceID: "gate-1", CheckedInAt: at, Outcome: model.OutcomeRedeemed,
        Warnings: []string{"large group, verify with customer"},
    }

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkin_history")).
        WithArgs("h1", "b1", "u1", "Ada", "ada@example.com", "E1", "Jazz", 12, "120.50", "gate-1", at,
            nil, nil, nil, "REDEEMED", "", `["large group, verify with customer"]`, "").
        WillReturnResult(sqlmock.NewResult(1, 1))
    require.NoError(t, repo.Append(context.Background(), rec))

    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkin_history")).
        WillReturnError(&mysql.MySQLError{Number: 1062})
    assert.ErrorIs(t, repo.Append(context.Background(), rec), history.ErrDuplicateRecord)
}

func TestHistoryRepo_Query(t *testing.T) {
    db, mock := newMock(t)
    repo := NewHistoryRepo(db)
    from := at.Add(-24 * time.Hour)

    mock.ExpectQuery(regexp.QuoteMeta(
        "FROM checkin_history WHERE (LOWER(booking_id) LIKE ? OR LOWER(user_name) LIKE ? OR LOWER(user_email) LIKE ? OR LOWER(event_title) LIKE ?)"+
            " AND tickets >= ? AND tickets <= ? AND event_id = ? AND checked_in_at >= ? ORDER BY checked_in_at DESC, id DESC LIMIT ?")).
        WithArgs("%ada\\_%", "%ada\\_%", "%ada\\_%", "%ada\\_%", 2, 10, "E1", from, 50).
        WillReturnRows(sqlmock.NewRows(historyCols).
            AddRow("h1", "b1", "u1", "Ada_L", "ada@example.com", "E1", "Jazz", 2, "50.00", "gate-1", at,
                52.5, 13.4, nil, "REDEEMED", "", nil, ""))

    recs, err := repo.Query(context.Background(), history.Filter{
        Search: " Ada_ ", Size: history.SizeGroup, EventID: "E1", From: from, Limit: 50,
    })
    require.NoError(t, err)
    require.Len(t, recs, 1)
    assert.True(t, decimal.RequireFromString("50").Equal(recs[0].Amount))
    assert.Equal(t, model.OutcomeRedeemed, recs[0].Outcome)
    assert.Equal(t, "52.500000,13.400000", recs[0].LocationString())
    assert.Empty(t, recs[0].Warnings)
}

func TestHistoryQuery_LargeIsOpenEnded(t *testing.T) {
    q, args := historyQuery(history.Filter{Size: history.SizeLarge, Outcome: model.OutcomeRejected, OldestFirst: true})
    assert.Equal(t, "SELECT "+historyColumns+" FROM checkin_history WHERE tickets >= ? AND outcome = ? ORDER BY checked_in_at ASC, id ASC", q)
    assert.Equal(t, []any{11, "REJECTED"}, args)
}

func TestBookingRepo(t *testing.T) {
    db, mock := newMock(t)
    repo := NewBookingRepo(db)

    mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, event_id, event_title, ticket_quantity FROM bookings")).
        WithArgs("b1").
        WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "event_id", "event_title", "ticket_quantity"}).
            AddRow("b1", "u1", "E1", "Jazz", 2))
    b, err := repo.Booking(context.Background(), "b1")
    require.NoError(t, err)
    assert.Equal(t, model.Booking{BookingID: "b1", UserID: "u1", EventID: "E1", EventTitle: "Jazz", TicketQuantity: 2}, b)

    mock.ExpectQuery(regexp.QuoteMeta("SELECT user_name, user_email, amount FROM bookings")).
        WithArgs("b1").
        WillReturnRows(sqlmock.NewRows([]string{"user_name", "user_email", "amount"}).AddRow("Ada", "ada@example.com", "99.90"))
    a, err := repo.Attendee(context.Background(), "b1")
    require.NoError(t, err)
    assert.Equal(t, "99.9", a.Amount.String())

    mock.ExpectQuery(regexp.QuoteMeta("FROM bookings")).WithArgs("zz").
        WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "event_id", "event_title", "ticket_quantity"}))
    _, err = repo.Booking(context.Background(), "zz")
    assert.ErrorIs(t, err, ErrNotFound)
}
