package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent []Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func TestNotifyTruncatesInSmsMode(t *testing.T) {
	fake := &fakeTransport{}
	d := Dispatcher{Transport: fake, SmsMode: true}

	long := strings.Repeat("volleyball ", 100)
	err := d.Notify(context.Background(), long, "https://example.com/e/1")
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	require.LessOrEqual(t, len([]rune(fake.sent[0].Body)), SmsBodyLimit)
	require.True(t, strings.HasSuffix(fake.sent[0].Body, "…"))
}

func TestNotifyBatchComposesAllSummaries(t *testing.T) {
	fake := &fakeTransport{}
	d := Dispatcher{Transport: fake}

	err := d.NotifyBatch(context.Background(), []string{
		"Volleyball Pickup | 2024-01-01T18:00",
		"Open Gym | 2024-01-02T19:00",
	})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	require.Equal(t, "2 new drop-in sessions", fake.sent[0].Subject)
	require.Contains(t, fake.sent[0].Body, "Volleyball Pickup")
	require.Contains(t, fake.sent[0].Body, "Open Gym")
}

func TestTransportFailureIsReturnedNotRaised(t *testing.T) {
	fake := &fakeTransport{err: fmt.Errorf("relay refused")}
	d := Dispatcher{Transport: fake}

	err := d.Notify(context.Background(), "summary", "url")
	require.Error(t, err)
}

func TestNilTransportLogsOnly(t *testing.T) {
	d := Dispatcher{}
	require.NoError(t, d.Notify(context.Background(), "summary", "url"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "abc", Truncate("abc", 0))
	require.Equal(t, "ab…", Truncate("abcdef", 3))
}
