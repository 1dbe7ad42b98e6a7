// Package signup implements the best-effort automated registration
// attempt. It is a small state machine over an authenticated browse
// session; every failure path returns a terminal state and false, never
// an error, and it hard-stops the moment the page looks like payment or
// identity verification.
package signup

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"dropwatch/lib/browse"
	"dropwatch/lib/htmlutil"
	"dropwatch/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dropwatch.services.watch.signup")

type State string

const (
	StateStart        State = "start"
	StateNavigated    State = "navigated"
	StateLoginExpired State = "login_expired"
	StateNoButton     State = "no_button"
	StateButtonFound  State = "button_found"
	StateRiskDetected State = "risk_detected"
	StateDone         State = "done"
)

// Target is the event being registered for.
type Target struct {
	Summary string
	Url     string
}

// Result records how far the attempt got. Only StateDone means
// tentative success; nothing verifies the registration actually took.
type Result struct {
	State   State
	Clicked string
	Reason  string
}

var registerLabels = []string{"register", "join", "sign up", "signup", "enroll", "book", "rsvp"}
var confirmVerbs = []string{"confirm", "complete", "finish", "place", "submit"}
var riskMarkers = []string{"captcha", "payment", "card number", "checkout", "verify", "3d secure"}

// matched against whole path segments and host labels, never bare
// substrings ("/designing-your-league" is not a login page)
var loginSegments = map[string]bool{
	"login":   true,
	"signin":  true,
	"sign-in": true,
	"auth":    true,
	"sso":     true,
}

const fuzzyLabelThreshold = 0.9

// Attempt drives the state machine for one target. ok is true only when
// the terminal state is StateDone.
func Attempt(ctx context.Context, session *browse.Session, target Target) (Result, bool) {
	ctx, span := tracer.Start(ctx, "signup:Attempt")
	defer span.End()

	result := step(ctx, session, target)
	slog.InfoContext(ctx, "signup attempt finished",
		"summary", target.Summary,
		"state", string(result.State),
		"clicked", result.Clicked,
		"reason", result.Reason,
	)
	span.AddEvent("terminal state: " + string(result.State))
	return result, result.State == StateDone
}

func step(ctx context.Context, session *browse.Session, target Target) Result {
	if session == nil {
		return Result{State: StateNoButton, Reason: "no credential snapshot, skipping"}
	}

	page, err := session.Navigate(ctx, target.Url)
	if err != nil {
		return Result{State: StateNoButton, Reason: "navigation failed: " + err.Error()}
	}

	if looksLikeLogin(page.Url) {
		return Result{State: StateLoginExpired, Reason: "redirected to " + page.Url.String()}
	}

	ctl, found := findControl(page.Doc, registerLabels)
	if !found {
		return Result{State: StateNoButton, Reason: "no registration control on page"}
	}

	after, err := click(ctx, session, page, ctl)
	if err != nil {
		return Result{State: StateButtonFound, Clicked: ctl.label, Reason: "click failed: " + err.Error()}
	}

	if marker, risky := riskMarker(after.Doc); risky {
		return Result{State: StateRiskDetected, Clicked: ctl.label, Reason: "page mentions " + marker}
	}

	if confirm, found := findControl(after.Doc, confirmVerbs); found {
		final, err := click(ctx, session, after, confirm)
		if err != nil {
			return Result{State: StateButtonFound, Clicked: ctl.label, Reason: "confirm click failed: " + err.Error()}
		}
		if marker, risky := riskMarker(final.Doc); risky {
			return Result{State: StateRiskDetected, Clicked: ctl.label, Reason: "page mentions " + marker}
		}
	}

	return Result{State: StateDone, Clicked: ctl.label}
}

func looksLikeLogin(u *url.URL) bool {
	for _, seg := range strings.Split(strings.ToLower(u.Path), "/") {
		if loginSegments[seg] {
			return true
		}
	}
	for _, label := range strings.Split(strings.ToLower(u.Hostname()), ".") {
		if loginSegments[label] {
			return true
		}
	}
	return false
}

func riskMarker(doc *goquery.Document) (string, bool) {
	text := textutil.Normalize(doc.Text())
	for _, m := range riskMarkers {
		if strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

// control is one clickable candidate: a button (submits its form) or a
// link (navigated to).
type control struct {
	label string
	sel   *goquery.Selection
	href  string
}

// findControl scans buttons before links, labels tried strictly in list
// order; the first label with a hit wins. A fuzzy pass rescues near-miss
// labels only when no label matched at all.
func findControl(doc *goquery.Document, labels []string) (control, bool) {
	controls := collectControls(doc)

	for _, label := range labels {
		want := textutil.Normalize(label)
		for _, c := range controls {
			if strings.Contains(textutil.Normalize(c.label), want) {
				return c, true
			}
		}
	}

	best := control{}
	bestSim := 0.0
	for _, label := range labels {
		want := textutil.Normalize(label)
		for _, c := range controls {
			sim := matchr.JaroWinkler(textutil.Normalize(c.label), want, false)
			if sim > bestSim {
				bestSim = sim
				best = c
			}
		}
	}
	if bestSim >= fuzzyLabelThreshold {
		return best, true
	}
	return control{}, false
}

func collectControls(doc *goquery.Document) []control {
	var out []control

	doc.Find("button, input[type=submit], input[type=button], [role=button]").
		Each(func(_ int, sel *goquery.Selection) {
			label := sel.AttrOr("value", "")
			if label == "" && len(sel.Nodes) > 0 {
				label = htmlutil.CleanText(htmlutil.GetText(sel.Nodes[0]))
			}
			if label == "" {
				label = sel.AttrOr("aria-label", "")
			}
			out = append(out, control{label: label, sel: sel})
		})

	for _, a := range htmlutil.GetAnchors(doc.Find("a[href]")) {
		out = append(out, control{label: a.Name, href: a.Href})
	}
	return out
}

// click follows a link, or submits the form enclosing a button. A bare
// button outside any form has nothing to submit against, so the current
// page is re-inspected as the click result.
func click(ctx context.Context, session *browse.Session, page *browse.Page, c control) (*browse.Page, error) {
	if c.href != "" {
		return session.Navigate(ctx, c.href)
	}

	form := c.sel.Closest("form")
	if form.Length() == 0 {
		return page, nil
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		typ := strings.ToLower(input.AttrOr("type", "text"))
		if typ == "submit" || typ == "button" {
			return
		}
		values.Set(input.AttrOr("name", ""), input.AttrOr("value", ""))
	})
	if name := c.sel.AttrOr("name", ""); name != "" {
		values.Set(name, c.sel.AttrOr("value", ""))
	}

	action := form.AttrOr("action", page.Url.String())
	method := strings.ToLower(form.AttrOr("method", "post"))
	return session.SubmitForm(ctx, action, method, values)
}
