package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"planboard/internal/model"
	logx "planboard/pkg/logx"
)

const (
	DefaultHorizon = 90 * 24 * time.Hour

	maxOccurrences = 2000
)

// Calendar maps one ICS document (file path or http(s) URL) onto one lane.
type Calendar struct {
	Path       string
	ResourceID string
	Name       string
	Color      string
}

// ICSFeed expands calendar events into records within [now-Horizon,
// now+Horizon]. Recurring series become one record per occurrence, flagged
// Recurring, with ids "<uid>#<start in UTC>".
type ICSFeed struct {
	Calendars []Calendar
	Horizon   time.Duration
	Now       func() time.Time
	Client    *http.Client
	Log       logx.Logger
}

func (f ICSFeed) Name() string { return fmt.Sprintf("ics:%d calendars", len(f.Calendars)) }

func (f ICSFeed) Fetch(ctx context.Context) (Data, error) {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	horizon := f.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	from, to := now.Add(-horizon), now.Add(horizon)
	log := f.Log.Component("source.ics")

	var d Data
	for _, c := range f.Calendars {
		name := c.Name
		if name == "" {
			name = c.ResourceID
		}
		d.Resources = append(d.Resources, model.Resource{ID: c.ResourceID, Name: name, Color: c.Color})

		body, err := f.read(ctx, c.Path)
		if err != nil {
			return Data{}, fmt.Errorf("read calendar %s: %w", c.Path, err)
		}
		events, err := parseICS(body)
		if err != nil {
			return Data{}, fmt.Errorf("parse calendar %s: %w", c.Path, err)
		}
		recs, truncated := expand(events, c, from, to)
		for _, uid := range truncated {
			log.Warn("recurrence truncated", logx.String("uid", uid), logx.Int("cap", maxOccurrences))
		}
		d.Records = append(d.Records, recs...)
		log.Debug("calendar expanded", logx.String("path", c.Path), logx.Int("events", len(events)), logx.Int("records", len(recs)))
	}

	sort.SliceStable(d.Records, func(i, j int) bool {
		if !d.Records[i].Start.Equal(d.Records[j].Start) {
			return d.Records[i].Start.Before(d.Records[j].Start)
		}
		return d.Records[i].ID < d.Records[j].ID
	})
	return d, nil
}

func (f ICSFeed) read(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return os.ReadFile(path)
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type vevent struct {
	uid      string
	summary  string
	location string
	status   string
	category string
	start    time.Time
	end      time.Time
	allDay   bool
	rrule    string
	exdates  []time.Time
	// recurrenceID is set on an override of one occurrence of a series.
	recurrenceID *time.Time
}

func parseICS(body []byte) ([]vevent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty calendar")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []vevent
	for _, ve := range cal.Events() {
		ev, ok := parseVEvent(ve)
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (vevent, bool) {
	var ev vevent
	p := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if p == nil || p.Value == "" {
		return ev, false
	}
	ev.uid = p.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		ev.status = strings.ToLower(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		ev.category, _, _ = strings.Cut(p.Value, ",")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, false
	}
	ev.start = start
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			ev.allDay = true
		}
		if !strings.Contains(p.Value, "T") {
			ev.allDay = true
		}
	}
	end, err := ve.GetEndAt()
	switch {
	case err == nil && end.After(start):
		ev.end = end
	case ev.allDay:
		ev.end = start.AddDate(0, 0, 1)
	default:
		ev.end = start.Add(time.Hour)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for part := range strings.SplitSeq(p.Value, ",") {
			if t, err := parseICSTime(part, start.Location()); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, start.Location()); err == nil {
			ev.recurrenceID = &t
		}
	}
	return ev, true
}

// parseICSTime handles the bare DATE and DATE-TIME forms used by EXDATE and
// RECURRENCE-ID. Floating times are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// expand returns the records of one calendar intersecting [from, to] and the
// uids whose expansion hit the occurrence cap.
func expand(events []vevent, c Calendar, from, to time.Time) ([]model.Record, []string) {
	overrides := map[string][]vevent{}
	for _, ev := range events {
		if ev.recurrenceID != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
		}
	}

	var out []model.Record
	var truncated []string
	for _, ev := range events {
		if ev.recurrenceID != nil {
			continue
		}
		if ev.rrule == "" {
			if ev.start.Before(to) && ev.end.After(from) {
				out = append(out, record(ev, ev.uid, ev.start, ev.end, false, c))
			}
			continue
		}

		r, err := rrule.StrToRRule(ev.rrule)
		if err != nil {
			// Treat an unreadable rule as a single event.
			out = append(out, record(ev, ev.uid, ev.start, ev.end, false, c))
			continue
		}
		r.DTStart(ev.start)
		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.exdates {
			set.ExDate(ex)
		}
		dur := ev.end.Sub(ev.start)
		// Occurrences starting before from may still reach into the window.
		starts := set.Between(from.Add(-dur), to, true)
		if len(starts) > maxOccurrences {
			starts = starts[:maxOccurrences]
			truncated = append(truncated, ev.uid)
		}
		for _, s := range starts {
			occ, start, end := ev, s, s.Add(dur)
			for _, o := range overrides[ev.uid] {
				if o.recurrenceID.Equal(s) {
					occ, start, end = o, o.start, o.end
					break
				}
			}
			if !start.Before(to) || !end.After(from) {
				continue
			}
			id := ev.uid + "#" + s.UTC().Format("20060102T150405Z")
			out = append(out, record(occ, id, start, end, true, c))
		}
	}
	return out, truncated
}

func record(ev vevent, id string, start, end time.Time, recurring bool, c Calendar) model.Record {
	return model.Record{
		ID:          id,
		Title:       ev.summary,
		Start:       start,
		End:         end,
		ResourceIDs: []string{c.ResourceID},
		Color:       c.Color,
		Status:      ev.status,
		Category:    ev.category,
		Location:    ev.location,
		Recurring:   recurring,
	}
}
