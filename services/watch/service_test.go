package watch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"dropwatch/lib/telemetry"
	"dropwatch/services/watch/notify"
	"dropwatch/services/watch/state"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent []notify.Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg notify.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

const discoverPage = `<html><body>
<div id="app"></div>
<script type="application/json">
{
	"props": {
		"sessions": [
			{
				"title": "Volleyball Pickup",
				"venueId": "V1",
				"start": "2024-01-01T18:00",
				"sport": "Volleyball",
				"url": "https://example.com/e/1"
			},
			{
				"title": "Volleyball Pickup SOLD OUT",
				"venueId": "V1",
				"start": "2024-01-01T20:00",
				"sport": "Volleyball"
			},
			{
				"title": "Basketball League",
				"venueId": "V1",
				"start": "2024-01-02T18:00",
				"sport": "Basketball"
			}
		]
	}
}
</script>
</body></html>`

func discoverServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, discoverPage)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, serverUrl string) Config {
	t.Helper()
	return Config{
		DiscoverUrl: serverUrl,
		VenueId:     "V1",
		Sport:       "volleyball",
		SeenFile:    filepath.Join(t.TempDir(), "seen.json"),
		SettleMs:    1,
	}
}

func TestRunEndToEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/watch")
	defer cleanup()

	server := discoverServer(t)
	config := testConfig(t, server.URL)
	fake := &fakeTransport{}

	service, err := NewService(config, Options{Transport: fake})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	report, err := service.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, 3, report.Candidates)
	require.Equal(t, 1, report.Matches, "sold out and wrong sport must not match")
	require.Len(t, report.NewEvents, 1)
	require.Equal(t, 1, report.Notified)

	require.Len(t, fake.sent, 1)
	require.Contains(t, fake.sent[0].Body, "Volleyball Pickup | 2024-01-01T18:00")
	require.Contains(t, fake.sent[0].Body, "https://example.com/e/1")

	seen := state.Load(config.SeenFile, 0)
	require.Equal(t, 1, seen.Len())
	require.False(t, seen.IsNew(report.NewEvents[0].Id()))
}

func TestRunIsIdempotent(t *testing.T) {
	server := discoverServer(t)
	config := testConfig(t, server.URL)
	ctx := context.Background()

	first := &fakeTransport{}
	service, err := NewService(config, Options{Transport: first})
	if err != nil {
		t.Fatal(err)
	}
	_, err = service.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, first.sent, 1)

	// same page, fresh service, persisted seen set: nothing new
	second := &fakeTransport{}
	service, err = NewService(config, Options{Transport: second})
	if err != nil {
		t.Fatal(err)
	}
	report, err := service.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, second.sent, 0)
	require.Len(t, report.NewEvents, 0)
	require.Equal(t, 1, report.Matches)
}

func TestRunMarksSeenDespiteTransportFailure(t *testing.T) {
	server := discoverServer(t)
	config := testConfig(t, server.URL)
	ctx := context.Background()

	fake := &fakeTransport{err: fmt.Errorf("relay down")}
	service, err := NewService(config, Options{Transport: fake})
	if err != nil {
		t.Fatal(err)
	}
	report, err := service.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 0, report.Notified)
	require.Len(t, report.NewEvents, 1)

	seen := state.Load(config.SeenFile, 0)
	require.False(t, seen.IsNew(report.NewEvents[0].Id()))
}

func TestRunDryRunSendsAndPersistsNothing(t *testing.T) {
	server := discoverServer(t)
	config := testConfig(t, server.URL)

	fake := &fakeTransport{}
	service, err := NewService(config, Options{Transport: fake, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	report, err := service.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, report.NewEvents, 1)
	require.Len(t, fake.sent, 0)

	seen := state.Load(config.SeenFile, 0)
	require.Equal(t, 0, seen.Len())
}

func TestRunBatchesNotifications(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><script type="application/json">
		{"sessions":[
			{"title":"Volleyball Pickup A","venueId":"V1","start":"t1","sport":"Volleyball"},
			{"title":"Volleyball Pickup B","venueId":"V1","start":"t2","sport":"Volleyball"}
		]}
		</script></body></html>`)
	}))
	defer server.Close()

	config := testConfig(t, server.URL)
	config.BatchNotifications = true

	fake := &fakeTransport{}
	service, err := NewService(config, Options{Transport: fake})
	if err != nil {
		t.Fatal(err)
	}
	report, err := service.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, report.NewEvents, 2)
	require.Len(t, fake.sent, 1)
	require.Contains(t, fake.sent[0].Body, "Volleyball Pickup A")
	require.Contains(t, fake.sent[0].Body, "Volleyball Pickup B")
}

func TestRunInitialLoadFailureIsFatal(t *testing.T) {
	server := discoverServer(t)
	config := testConfig(t, server.URL)
	server.Close()

	service, err := NewService(config, Options{Transport: &fakeTransport{}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = service.Run(context.Background())
	require.Error(t, err)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := NewService(Config{}, Options{})
	require.ErrorIs(t, err, ErrConfiguration)
}
