package main

import (
	"fmt"
	"net/http"
)

// newEventFetcher creates the event fetcher for the configured provider.
func newEventFetcher(config *Config, session *AuthSession, httpClient *http.Client) (EventFetcher, error) {
	switch config.General.Provider {
	case providerGoogle:
		return NewGoogleCalendarProvider(session, config.General.CalendarID, config.Google.APIEndpoint, httpClient), nil

	case providerCalDAV:
		provider, err := NewCalDAVProvider(config.CalDAV, httpClient)
		if err != nil {
			return nil, fmt.Errorf("error creating CalDAV provider: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.General.Provider)
	}
}
