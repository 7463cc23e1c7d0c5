package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/teambition/rrule-go"
)

type CalDAVProvider struct {
	serverURL    string
	username     string
	password     string
	calendarPath string
	httpClient   webdav.HTTPClient
}

func NewCalDAVProvider(cfg CalDAVConfig, httpClient *http.Client) (*CalDAVProvider, error) {
	if _, err := url.Parse(cfg.ServerURL); err != nil || cfg.ServerURL == "" {
		return nil, fmt.Errorf("invalid CalDAV server URL: %q", cfg.ServerURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CalDAVProvider{
		serverURL:    cfg.ServerURL,
		username:     cfg.Username,
		password:     cfg.Password,
		calendarPath: cfg.CalendarPath,
		httpClient:   httpClient,
	}, nil
}

// Authenticated reports whether basic auth credentials are configured.
func (c *CalDAVProvider) Authenticated() bool {
	return c.username != "" && c.password != ""
}

func (c *CalDAVProvider) Fetch(ctx context.Context, start, end time.Time) ([]RawCalendarEvent, error) {
	if !c.Authenticated() {
		return nil, ErrUnauthenticated
	}

	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(c.httpClient, c.username, c.password), c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start,
				End:   end,
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, &RemoteError{Err: err}
	}

	calendars := make([]*ical.Calendar, 0, len(objects))
	for _, obj := range objects {
		if obj.Data != nil {
			calendars = append(calendars, obj.Data)
		}
	}
	return eventsFromCalendars(calendars, start, end), nil
}

type occurrence struct {
	at  time.Time
	raw RawCalendarEvent
}

// eventsFromCalendars flattens VEVENTs into single occurrences overlapping
// [start, end), ordered by start. Recurring events are expanded and
// RECURRENCE-ID overrides replace the occurrence they name.
func eventsFromCalendars(calendars []*ical.Calendar, start, end time.Time) []RawCalendarEvent {
	var masters []*ical.Component
	overrides := make(map[string]bool)
	var occurrences []occurrence

	for _, cal := range calendars {
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			if comp.Props.Get(ical.PropRecurrenceID) == nil {
				masters = append(masters, comp)
				continue
			}
			rid, err := comp.Props.DateTime(ical.PropRecurrenceID, time.UTC)
			if err != nil {
				continue
			}
			overrides[overrideKey(getTextProp(comp.Props, ical.PropUID), rid)] = true
			if occ, ok := singleOccurrence(comp, start, end); ok {
				occ.raw.ID = occurrenceID(occ.raw.ID, rid, false)
				occurrences = append(occurrences, occ)
			}
		}
	}

	for _, comp := range masters {
		rruleProp := comp.Props.Get(ical.PropRecurrenceRule)
		if rruleProp == nil {
			if occ, ok := singleOccurrence(comp, start, end); ok {
				occurrences = append(occurrences, occ)
			}
			continue
		}
		occurrences = append(occurrences, expandRecurring(comp, rruleProp.Value, overrides, start, end)...)
	}

	sort.SliceStable(occurrences, func(i, j int) bool {
		return occurrences[i].at.Before(occurrences[j].at)
	})

	result := make([]RawCalendarEvent, 0, len(occurrences))
	for _, occ := range occurrences {
		result = append(result, occ.raw)
	}
	return result
}

func singleOccurrence(comp *ical.Component, start, end time.Time) (occurrence, bool) {
	dtstart, allDay, err := eventStart(comp)
	if err != nil {
		return occurrence{}, false
	}
	if !overlaps(dtstart, dtstart.Add(eventDuration(comp, dtstart, allDay)), start, end) {
		return occurrence{}, false
	}
	return occurrence{at: dtstart, raw: rawEventFromICal(comp, dtstart, allDay)}, true
}

func expandRecurring(comp *ical.Component, rule string, overrides map[string]bool, start, end time.Time) []occurrence {
	dtstart, allDay, err := eventStart(comp)
	if err != nil {
		return nil
	}
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil
	}
	r.DTStart(dtstart)

	var set rrule.Set
	set.RRule(r)
	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		for _, value := range strings.Split(prop.Value, ",") {
			if ex, err := parseICalTime(value, dtstart.Location()); err == nil {
				set.ExDate(ex)
			}
		}
	}

	uid := getTextProp(comp.Props, ical.PropUID)
	duration := eventDuration(comp, dtstart, allDay)

	var out []occurrence
	// Widen the lower bound so occurrences still running at start are kept.
	for _, at := range set.Between(start.Add(-duration), end, true) {
		if !overlaps(at, at.Add(duration), start, end) {
			continue
		}
		if overrides[overrideKey(uid, at)] {
			continue
		}
		raw := rawEventFromICal(comp, at, allDay)
		raw.ID = occurrenceID(uid, at, allDay)
		out = append(out, occurrence{at: at, raw: raw})
	}
	return out
}

func eventStart(comp *ical.Component) (time.Time, bool, error) {
	prop := comp.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return time.Time{}, false, fmt.Errorf("missing DTSTART")
	}
	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, prop.ValueType() == ical.ValueDate, nil
}

func eventDuration(comp *ical.Component, dtstart time.Time, allDay bool) time.Duration {
	if dtend, err := comp.Props.DateTime(ical.PropDateTimeEnd, dtstart.Location()); err == nil && !dtend.IsZero() && dtend.After(dtstart) {
		return dtend.Sub(dtstart)
	}
	if allDay {
		return 24 * time.Hour
	}
	return 0
}

// overlaps treats a zero-length event as an instant that must fall in [start, end).
func overlaps(evStart, evEnd, start, end time.Time) bool {
	if !evEnd.After(evStart) {
		return !evStart.Before(start) && evStart.Before(end)
	}
	return evStart.Before(end) && evEnd.After(start)
}

func rawEventFromICal(comp *ical.Component, at time.Time, allDay bool) RawCalendarEvent {
	raw := RawCalendarEvent{
		ID:          getTextProp(comp.Props, ical.PropUID),
		Summary:     getTextProp(comp.Props, ical.PropSummary),
		Description: getTextProp(comp.Props, ical.PropDescription),
		Location:    getTextProp(comp.Props, ical.PropLocation),
		Status:      strings.ToLower(getTextProp(comp.Props, ical.PropStatus)),
		Provider:    providerCalDAV,
	}
	if raw.Status == "" {
		raw.Status = "confirmed"
	}
	if allDay {
		raw.Start.Date = at.Format("2006-01-02")
	} else {
		raw.Start.DateTime = at.Format(time.RFC3339)
	}
	return raw
}

func occurrenceID(uid string, at time.Time, allDay bool) string {
	if allDay {
		return uid + "_" + at.Format("20060102")
	}
	return uid + "_" + at.UTC().Format("20060102T150405Z")
}

func overrideKey(uid string, at time.Time) string {
	return uid + "|" + at.UTC().Format(time.RFC3339)
}

func parseICalTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "Z") {
		return time.Parse("20060102T150405Z", value)
	}
	if len(value) == len("20060102") {
		return time.ParseInLocation("20060102", value, loc)
	}
	return time.ParseInLocation("20060102T150405", value, loc)
}

func getTextProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}
