// Package watch wires the discovery pipeline together: one run navigates
// the discover page, extracts candidate sessions from captured payloads,
// filters them, deduplicates against the persisted seen set, notifies
// new matches and optionally attempts signup.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"dropwatch/lib/browse"
	"dropwatch/services/watch/db"
	"dropwatch/services/watch/extract"
	"dropwatch/services/watch/notify"
	"dropwatch/services/watch/signup"
	"dropwatch/services/watch/state"

	"github.com/PuerkitoBio/goquery"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("dropwatch.services.watch")

type Service struct {
	config     Config
	rule       extract.Rule
	filters    FilterChain
	dispatcher notify.Dispatcher
	history    *db.Store
	storage    *browse.StorageState
	dryRun     bool
}

// Options carry the injectable collaborators. Zero values mean: smtp
// transport built from config when recipients are set, default
// extraction rule, no history store.
type Options struct {
	Transport notify.Transport
	History   *db.Store
	Rule      extract.Rule
	DryRun    bool
}

func NewService(config Config, opts Options) (*Service, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	rule := opts.Rule
	if rule == nil {
		rule = extract.DefaultRule()
	}

	transport := opts.Transport
	if transport == nil && len(config.Recipients) > 0 {
		transport = notify.SmtpTransport{Config: config.Smtp, Recipients: config.Recipients}
	}

	var storage *browse.StorageState
	if config.StorageStateB64 != "" {
		storage, err = browse.DecodeStorageState(config.StorageStateB64)
		if err != nil {
			// stale or mangled snapshot: signup degrades to skip
			slog.Warn("could not decode storage state, signup will be skipped", "err", err)
			storage = nil
		}
	}

	return &Service{
		config:     config,
		rule:       rule,
		filters:    NewFilterChain(config),
		dispatcher: notify.Dispatcher{Transport: transport, SmsMode: config.SmsMode},
		history:    opts.History,
		storage:    storage,
		dryRun:     opts.DryRun,
	}, nil
}

// RunReport summarizes one watch cycle.
type RunReport struct {
	RunId      string
	StartedAt  time.Time
	Payloads   int
	Candidates int
	Matches    int
	NewEvents  []Event
	Notified   int
	Signups    map[string]signup.Result
}

// Run executes one watch cycle. Only the initial page load failing (or
// broken configuration) is fatal; everything downstream degrades to log
// output.
func (s *Service) Run(ctx context.Context) (RunReport, error) {
	ctx, span := tracer.Start(ctx, "watch:Run")
	defer span.End()

	runId, err := random.String(8)
	if err != nil {
		runId = "unknown"
	}
	report := RunReport{
		RunId:     runId,
		StartedAt: time.Now(),
		Signups:   map[string]signup.Result{},
	}
	span.SetAttributes(attribute.String("run_id", runId))
	slog.InfoContext(ctx, "watch run starting", "run_id", runId, "url", s.config.DiscoverUrl)

	seen := state.Load(s.config.SeenFilePath(), s.config.SeenTtl())

	session, err := browse.NewSession(ctx, browse.Options{
		BaseUrl:      s.config.DiscoverUrl,
		StorageState: s.storage,
		Timeout:      s.config.Timeout(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create session")
		return report, err
	}
	defer session.Close()

	page, err := session.Navigate(ctx, s.config.DiscoverUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initial page load failed")
		return report, fmt.Errorf("initial page load: %w", err)
	}
	session.Settle(ctx, s.config.SettleDelay())

	payloads := session.DrainResponses()
	// single-page apps ship their data inline; embedded JSON scripts are
	// payloads too as far as extraction is concerned
	page.Doc.Find(`script[type="application/json"]`).Each(func(_ int, sel *goquery.Selection) {
		payloads = append(payloads, browse.CapturedResponse{
			Url:         page.Url.String(),
			ContentType: "application/json",
			Body:        []byte(sel.Text()),
		})
	})
	report.Payloads = len(payloads)

	if s.config.DebugDumpDir != "" {
		err := session.DumpDebug(s.config.DebugDumpDir, payloads)
		if err != nil {
			slog.WarnContext(ctx, "failed to write debug dump", "err", err)
		}
	}

	events := s.collect(payloads, &report)
	newEvents := s.screen(ctx, events, seen, &report)
	report.NewEvents = newEvents

	slog.InfoContext(ctx, "pipeline summary",
		"run_id", runId,
		"payloads", report.Payloads,
		"candidates", report.Candidates,
		"matches", report.Matches,
		"new", len(newEvents),
	)

	if s.dryRun {
		return report, nil
	}

	if len(newEvents) == 0 {
		s.finish(ctx, seen, report)
		s.record(ctx, report, nil, nil)
		return report, nil
	}

	transportOk := s.deliver(ctx, newEvents, &report)
	for _, e := range newEvents {
		seen.MarkSeen(e.Id())
	}

	if s.config.EnableSignup {
		for _, e := range newEvents {
			result, _ := signup.Attempt(ctx, s.signupSession(session), signup.Target{
				Summary: e.Summary,
				Url:     e.Url,
			})
			report.Signups[e.Id()] = result
		}
	}

	s.finish(ctx, seen, report)
	s.record(ctx, report, newEvents, transportOk)
	return report, nil
}

// collect turns raw payloads into normalized, de-duplicated events.
func (s *Service) collect(payloads []browse.CapturedResponse, report *RunReport) []Event {
	byId := map[string]Event{}
	for _, p := range payloads {
		for _, fields := range extract.Extract(p.Body, s.rule) {
			report.Candidates++
			e := Normalize(fields, s.config.DiscoverUrl)
			byId[e.Id()] = e
		}
	}

	events := make([]Event, 0, len(byId))
	for _, e := range byId {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Id() < events[j].Id() })
	return events
}

// screen applies the filter chain and the seen set.
func (s *Service) screen(ctx context.Context, events []Event, seen *state.Store, report *RunReport) []Event {
	var out []Event
	for _, e := range events {
		ok, rejectedBy := s.filters.Eval(e)
		if !ok {
			slog.DebugContext(ctx, "candidate rejected", "stage", rejectedBy, "summary", e.Summary)
			continue
		}
		report.Matches++
		if !seen.IsNew(e.Id()) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// deliver notifies every new event; failures are logged and recorded but
// never block marking events as seen.
func (s *Service) deliver(ctx context.Context, events []Event, report *RunReport) map[string]bool {
	ok := map[string]bool{}

	if s.config.BatchNotifications {
		lines := make([]string, len(events))
		for i, e := range events {
			lines[i] = fmt.Sprintf("%s\n%s", e.Summary, e.Url)
		}
		err := s.dispatcher.NotifyBatch(ctx, lines)
		for _, e := range events {
			ok[e.Id()] = err == nil
		}
		if err == nil {
			report.Notified = len(events)
		}
		return ok
	}

	for _, e := range events {
		err := s.dispatcher.Notify(ctx, e.Summary, e.Url)
		ok[e.Id()] = err == nil
		if err == nil {
			report.Notified++
		}
	}
	return ok
}

// signupSession returns the session only when a credential snapshot was
// loaded; signup skips itself otherwise.
func (s *Service) signupSession(session *browse.Session) *browse.Session {
	if s.storage == nil {
		return nil
	}
	return session
}

func (s *Service) finish(ctx context.Context, seen *state.Store, report RunReport) {
	err := seen.Save()
	if err != nil {
		// events already notified this run will be re-notified next
		// time; best effort is the documented behavior
		slog.ErrorContext(ctx, "failed to persist seen set", "run_id", report.RunId, "err", err)
	}
}

func (s *Service) record(ctx context.Context, report RunReport, events []Event, transportOk map[string]bool) {
	if s.history == nil {
		return
	}

	err := s.history.RecordRun(ctx, db.Run{
		Id:         report.RunId,
		StartedAt:  report.StartedAt,
		Payloads:   report.Payloads,
		Candidates: report.Candidates,
		Matches:    report.Matches,
		NewMatches: len(events),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record run history", "err", err)
	}

	for _, e := range events {
		n := db.Notification{
			RunId:       report.RunId,
			EventId:     e.Id(),
			Summary:     e.Summary,
			Url:         e.Url,
			SentAt:      time.Now(),
			TransportOk: transportOk[e.Id()],
		}
		if result, ok := report.Signups[e.Id()]; ok {
			n.SignupState = string(result.State)
		}
		err := s.history.RecordNotification(ctx, n)
		if err != nil {
			slog.WarnContext(ctx, "failed to record notification history", "err", err)
		}
	}
}
