package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, config *Config) *app {
	t.Helper()
	config.General.Database = filepath.Join(t.TempDir(), "gcalappt.db")
	config.Normalize()
	require.NoError(t, config.Validate())

	a, err := newApp(config, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func upcoming() time.Time {
	return time.Now().Add(48 * time.Hour).Truncate(time.Hour).UTC()
}

func googleEventsServer(t *testing.T, requests *int32, at time.Time) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"id":          "g1",
				"summary":     "Jane - Rex",
				"description": "Phone: 555-0100\nService: Checkup",
				"start":       map[string]string{"dateTime": at.Format(time.RFC3339)},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

const calDAVMultiStatus = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:response>
<d:href>/cal/appt-1.ics</d:href>
<d:propstat>
<d:prop>
<c:calendar-data>%s</c:calendar-data>
</d:prop>
<d:status>HTTP/1.1 200 OK</d:status>
</d:propstat>
</d:response>
</d:multistatus>`

func appointmentICS(at time.Time) string {
	return fmt.Sprintf(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:appt-1
DTSTAMP:20250101T000000Z
DTSTART:%s
DTEND:%s
SUMMARY:Dana - Bamba
DESCRIPTION:Client: Dana Levi\nPhone: 050-123-4567\nService: Vaccination
END:VEVENT
END:VCALENDAR
`, at.Format("20060102T150405Z"), at.Add(time.Hour).Format("20060102T150405Z"))
}

func calDAVServer(t *testing.T, requests *int32, at time.Time) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		assert.Equal(t, "REPORT", r.Method)
		assert.Equal(t, "/cal/", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "vet", user)
		assert.Equal(t, "secret", pass)

		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprintf(w, calDAVMultiStatus, appointmentICS(at))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func googleConfig(endpoint string) *Config {
	return &Config{Google: GoogleConfig{APIEndpoint: endpoint + "/"}}
}

func calDAVConfig(serverURL, password string) *Config {
	return &Config{
		General: GeneralConfig{Provider: providerCalDAV},
		CalDAV: CalDAVConfig{
			ServerURL:    serverURL,
			Username:     "vet",
			Password:     password,
			CalendarPath: "/cal/",
		},
	}
}

// runServe starts serveCommand and waits until its HTTP surface answers.
// The returned func cancels it and reports its result.
func runServe(t *testing.T, a *app) func() error {
	t.Helper()
	a.config.Server.Listen = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serveCommand(ctx, a) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + a.config.Server.Listen + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("serve did not stop")
		}
	}
}

func TestSyncCommandGoogle(t *testing.T) {
	var requests int32
	at := upcoming()
	srv := googleEventsServer(t, &requests, at)
	a := newTestApp(t, googleConfig(srv.URL))
	require.NoError(t, a.engine.Authenticate("tok"))

	var out bytes.Buffer
	require.NoError(t, syncCommand(context.Background(), a, &out))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	var printed []AppointmentRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.Len(t, printed, 1)
	assert.Equal(t, "gcal-g1", printed[0].ID)
	assert.Equal(t, "Jane", printed[0].ClientName)
	assert.Equal(t, "Rex", printed[0].PetName)
	assert.Equal(t, "5550100", printed[0].ClientPhone)
	assert.Equal(t, "Checkup", printed[0].ServiceType)
	assert.Equal(t, at.Format(time.RFC3339), printed[0].AppointmentDate)

	stored, err := a.store.List()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "gcal-g1", stored[0].ID)
	assert.Equal(t, "google-calendar", stored[0].Source)
}

func TestSyncCommandGoogleUnauthenticated(t *testing.T) {
	var requests int32
	srv := googleEventsServer(t, &requests, upcoming())
	a := newTestApp(t, googleConfig(srv.URL))

	var out bytes.Buffer
	err := syncCommand(context.Background(), a, &out)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "gcalappt auth")
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
	assert.Empty(t, out.String())
}

func TestSyncCommandCalDAV(t *testing.T) {
	var requests int32
	at := upcoming()
	srv := calDAVServer(t, &requests, at)
	a := newTestApp(t, calDAVConfig(srv.URL, "secret"))

	assert.True(t, a.engine.IsAuthenticated())

	var out bytes.Buffer
	require.NoError(t, syncCommand(context.Background(), a, &out))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	var printed []AppointmentRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.Len(t, printed, 1)
	r := printed[0]
	assert.Equal(t, "gcal-appt-1", r.ID)
	assert.Equal(t, "Dana Levi", r.ClientName)
	assert.Equal(t, "Bamba", r.PetName)
	assert.Equal(t, "0501234567", r.ClientPhone)
	assert.Equal(t, "Vaccination", r.ServiceType)
	assert.Equal(t, at.Format(time.RFC3339), r.AppointmentDate)

	stored, err := a.store.List()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "appt-1", stored[0].SourceEventID)
}

func TestAuthCommandCalDAV(t *testing.T) {
	var requests int32
	srv := calDAVServer(t, &requests, upcoming())

	a := newTestApp(t, calDAVConfig(srv.URL, "secret"))
	var out bytes.Buffer
	require.NoError(t, authCommand(context.Background(), a, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "CalDAV")

	missing := newTestApp(t, calDAVConfig(srv.URL, ""))
	err := authCommand(context.Background(), missing, strings.NewReader(""), &out)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestSyncCommandCalDAVWithoutPassword(t *testing.T) {
	var requests int32
	srv := calDAVServer(t, &requests, upcoming())
	a := newTestApp(t, calDAVConfig(srv.URL, ""))

	assert.False(t, a.engine.IsAuthenticated())
	err := syncCommand(context.Background(), a, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "[caldav]")
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestServeCommandStartsScheduleWhenAuthenticated(t *testing.T) {
	var requests int32
	srv := googleEventsServer(t, &requests, upcoming())
	a := newTestApp(t, googleConfig(srv.URL))
	require.NoError(t, a.engine.Authenticate("tok"))

	stop := runServe(t, a)

	assert.True(t, a.engine.Scheduler().Running())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	stored, err := a.store.List()
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	require.NoError(t, stop())
	assert.False(t, a.engine.Scheduler().Running())
}

func TestServeCommandArmsScheduleOnAuthentication(t *testing.T) {
	var requests int32
	srv := googleEventsServer(t, &requests, upcoming())
	a := newTestApp(t, googleConfig(srv.URL))

	stop := runServe(t, a)
	assert.False(t, a.engine.Scheduler().Running())
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))

	require.NoError(t, a.engine.Authenticate("tok"))
	assert.True(t, a.engine.Scheduler().Running())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	stored, err := a.store.List()
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	require.NoError(t, stop())
}

func TestServeCommandCalDAVStartsWithoutOAuth(t *testing.T) {
	var requests int32
	srv := calDAVServer(t, &requests, upcoming())
	a := newTestApp(t, calDAVConfig(srv.URL, "secret"))

	stop := runServe(t, a)
	assert.True(t, a.engine.Scheduler().Running())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	stored, err := a.store.List()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "gcal-appt-1", stored[0].ID)

	require.NoError(t, stop())
}

func TestPruneCommand(t *testing.T) {
	a := newTestApp(t, googleConfig("http://127.0.0.1:0"))
	_, err := a.store.Save([]AppointmentRecord{
		{ID: "gcal-old", AppointmentDate: "2000-01-01", Source: appointmentSource, SourceEventID: "old"},
		{ID: "gcal-new", AppointmentDate: "2999-01-01T10:00:00Z", Source: appointmentSource, SourceEventID: "new"},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, pruneCommand(a, &out))
	assert.Contains(t, out.String(), "Removed 1")

	stored, err := a.store.List()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "gcal-new", stored[0].ID)
}

func TestLogoutCommandRemovesCredential(t *testing.T) {
	a := newTestApp(t, googleConfig("http://127.0.0.1:0"))
	require.NoError(t, a.engine.Authenticate("tok"))
	require.NoError(t, a.engine.Scheduler().Start(30))

	var out bytes.Buffer
	require.NoError(t, logoutCommand(a, &out))
	assert.Contains(t, out.String(), "credential removed")

	assert.False(t, a.engine.IsAuthenticated())
	assert.False(t, a.engine.Scheduler().Running())
	assert.False(t, NewAuthSession(NewSQLiteKV(a.db)).IsAuthenticated())
}

func TestStatusAndListCommands(t *testing.T) {
	a := newTestApp(t, googleConfig("http://127.0.0.1:0"))

	var out bytes.Buffer
	require.NoError(t, statusCommand(a, &out))
	assert.Contains(t, out.String(), "Not connected: run 'gcalappt auth' first")
	assert.Contains(t, out.String(), "google (primary)")

	_, err := a.store.Save([]AppointmentRecord{
		{ID: "gcal-1", ClientName: "Jane", PetName: "Rex", ServiceType: "Checkup", AppointmentDate: "2999-01-01", Source: appointmentSource, SourceEventID: "1"},
	})
	require.NoError(t, err)
	require.NoError(t, a.store.MarkReminderSent("gcal-1"))

	out.Reset()
	require.NoError(t, listCommand(a, &out))
	assert.Contains(t, out.String(), "Jane")
	assert.Contains(t, out.String(), "(reminder sent)")

	unconfigured := newTestApp(t, calDAVConfig("http://127.0.0.1:0", ""))
	out.Reset()
	require.NoError(t, statusCommand(unconfigured, &out))
	assert.Contains(t, out.String(), "[caldav]")
}
