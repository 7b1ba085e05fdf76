package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"jaces.io/core/internal/perr"
)

// GoogleCalendarSyncer pulls events via the Calendar API's incremental
// sync-token mechanism, ported from
// original_source/sources/google/calendar/sync.py's GoogleCalendarSync.
// Calendar has no date-range sync (both full and incremental ranges return
// (nil, nil) in the original): the first sync of a calendar, with no stored
// token, fetches every event from two years back onward, and everything
// after it is driven entirely by the per-calendar sync token.
type GoogleCalendarSyncer struct {
	httpClient     *http.Client
	tokens         *TokenManager
	calendarIDs    []string
	// syncTokens holds the legacy-compatible per-calendar token map: a
	// single top-level token is treated as the token for the first
	// configured calendar, mirroring the original's backward-compatibility
	// fallback when upgrading from single-calendar to multi-calendar sync.
	syncTokens map[string]string
}

// NewGoogleCalendarSyncer builds a syncer bound to a set of calendar IDs
// (drawn from stream.settings["calendar_ids"] by the caller) and the shared
// OAuth token manager.
func NewGoogleCalendarSyncer(httpClient *http.Client, tokens *TokenManager, calendarIDs []string, existingSyncTokens map[string]string) *GoogleCalendarSyncer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if existingSyncTokens == nil {
		existingSyncTokens = make(map[string]string)
	}
	return &GoogleCalendarSyncer{
		httpClient:  httpClient,
		tokens:      tokens,
		calendarIDs: calendarIDs,
		syncTokens:  existingSyncTokens,
	}
}

func (s *GoogleCalendarSyncer) SourceName() string { return "google_calendar" }

func (s *GoogleCalendarSyncer) RequiredConfigFields() []string {
	return []string{"calendar_ids"}
}

func (s *GoogleCalendarSyncer) TestConnection(ctx context.Context) error {
	_, err := s.tokens.Token(ctx, s.SourceName())
	return err
}

type calendarEventsResponse struct {
	Items         []map[string]interface{} `json:"items"`
	NextSyncToken string                    `json:"nextSyncToken"`
	NextPageToken string                    `json:"nextPageToken"`
}

// Sync pulls events for every configured calendar since each one's stored
// sync token, flattening results into a single batch whose Cursor is the
// JSON-encoded per-calendar token map — the same multi-calendar structure
// the original persists to stream settings after each run.
func (s *GoogleCalendarSyncer) Sync(ctx context.Context, streamName string, cursor string) (*Batch, error) {
	if cursor != "" {
		if err := json.Unmarshal([]byte(cursor), &s.syncTokens); err != nil {
			// Legacy single-token format: treat the whole cursor as the
			// token for the first calendar, matching the original's
			// backward-compatibility branch.
			if len(s.calendarIDs) > 0 {
				s.syncTokens[s.calendarIDs[0]] = cursor
			}
		}
	}

	tok, err := s.tokens.Token(ctx, s.SourceName())
	if err != nil {
		return nil, fmt.Errorf("acquiring calendar token: %w", err)
	}

	var allRecords []map[string]interface{}
	for _, calID := range s.calendarIDs {
		records, nextToken, err := s.syncOneCalendar(ctx, tok.AccessToken, calID, s.syncTokens[calID])
		if err != nil {
			return nil, fmt.Errorf("syncing calendar %s: %w", calID, err)
		}
		allRecords = append(allRecords, records...)
		if nextToken != "" {
			s.syncTokens[calID] = nextToken
		}
	}

	newCursor, err := json.Marshal(s.syncTokens)
	if err != nil {
		return nil, fmt.Errorf("encoding sync tokens: %w", err)
	}

	return &Batch{
		StreamName: streamName,
		FetchedAt:  time.Now(),
		Records:    allRecords,
		Cursor:     string(newCursor),
	}, nil
}

func (s *GoogleCalendarSyncer) syncOneCalendar(ctx context.Context, accessToken, calendarID, syncToken string) ([]map[string]interface{}, string, error) {
	var allItems []map[string]interface{}
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("singleEvents", "true")
		if syncToken != "" {
			q.Set("syncToken", syncToken)
		} else {
			q.Set("timeMin", time.Now().AddDate(-2, 0, 0).Format(time.RFC3339))
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		reqURL := fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events?%s", url.PathEscape(calendarID), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("calling calendar API: %w", err)
		}

		var parsed calendarEventsResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, "", perr.Wrap(perr.KindUnavailable, fmt.Errorf("calendar API unavailable: status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return nil, "", perr.Wrap(perr.KindValidation, fmt.Errorf("calendar API rejected request: status %d", resp.StatusCode))
		}
		if decodeErr != nil {
			return nil, "", fmt.Errorf("decoding calendar response: %w", decodeErr)
		}

		allItems = append(allItems, parsed.Items...)

		if parsed.NextPageToken != "" {
			pageToken = parsed.NextPageToken
			continue
		}
		return allItems, parsed.NextSyncToken, nil
	}
}
