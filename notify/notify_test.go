package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/notify"
	"github.com/warp/leave-ledger/timeoff"
)

func submitted() timeoff.Event {
	return timeoff.Event{
		Kind:        timeoff.EventLeaveSubmitted,
		RequestKind: timeoff.KindLeave,
		Employee:    ann,
		Actor:       senior,
		Status:      timeoff.StatusPending,
		Leave:       leaveRequest("2024-02-12", "2024-02-14", false),
	}
}

func TestSlack_PostsRenderedMessage(t *testing.T) {
	var (
		mu       sync.Mutex
		received []notify.Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var m notify.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := notify.NewSlack(srv.URL, "https://leave.example.com", srv.Client()).Notify(context.Background(), submitted())

	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Contains(t, received[0].Text, "<@U_ANN> has applied for Leave")
	assert.Contains(t, received[0].Text, "https://leave.example.com")
}

func TestSlack_Non2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := notify.NewSlack(srv.URL, "", srv.Client()).Notify(context.Background(), submitted())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	var status slack.StatusCodeError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusServiceUnavailable, status.Code)
}

func TestQueue_PushesEventJSON(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ev := submitted()
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectRPush("leave_notifications", data).SetVal(1)

	err = notify.NewQueue(rdb, "").Notify(context.Background(), ev)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_RedisFailureIsReported(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ev := submitted()
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectRPush("outbox", data).SetErr(errors.New("connection refused"))

	err = notify.NewQueue(rdb, "outbox").Notify(context.Background(), ev)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMulti_JoinsErrorsAndKeepsGoing(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	count := timeoff.NotifierFunc(func(context.Context, timeoff.Event) error {
		calls++
		return nil
	})
	fail := timeoff.NotifierFunc(func(context.Context, timeoff.Event) error { return boom })

	err := notify.Multi{fail, count, notify.Nop{}, count}.Notify(context.Background(), submitted())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.NoError(t, notify.Logged(nil, notify.Nop{}).Notify(context.Background(), submitted()))
}
