// Package client talks to the agendahub server on behalf of one session: a
// REST adapter for reads and writes and a websocket push channel for live
// changes. Both plug into syncengine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agendahub/internal/record/model"
	"agendahub/store"
)

type RESTAdapter struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewRESTAdapter(baseURL, token string) *RESTAdapter {
	return &RESTAdapter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *RESTAdapter) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	u := a.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, strings.TrimSpace(string(text)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var validationErrors = []error{
	store.ErrInvalidStatus,
	store.ErrUnknownKind,
	store.ErrInvalidSlot,
	store.ErrInvalidDay,
	store.ErrTemporaryID,
}

// statusError turns a failed response back into the store's sentinel errors.
func statusError(code int, text string) error {
	switch code {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", store.ErrPermissionDenied, text)
	case http.StatusBadRequest:
		for _, sentinel := range validationErrors {
			if strings.Contains(text, sentinel.Error()) {
				return fmt.Errorf("%w: %s", sentinel, text)
			}
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, text)
	}
	return fmt.Errorf("server returned %d: %s", code, text)
}

func kindQuery(kind store.Kind) url.Values {
	return url.Values{"kind": {string(kind)}}
}

func (a *RESTAdapter) List(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Record, error) {
	q := kindQuery(kind)
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Day != "" {
		q.Set("day", filter.Day)
	}
	var recs []store.Record
	if err := a.do(ctx, http.MethodGet, "/api/records", q, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (a *RESTAdapter) Get(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	q := kindQuery(kind)
	q.Set("id", id)
	var rec store.Record
	err := a.do(ctx, http.MethodGet, "/api/records/get", q, nil, &rec)
	return rec, err
}

// Create sends the draft's editable fields. The server assigns ID, owner and timestamps.
func (a *RESTAdapter) Create(ctx context.Context, kind store.Kind, draft store.Record) (store.Record, error) {
	if draft.ID != "" {
		return store.Record{}, errors.New("create: draft must not carry an ID")
	}
	var rec store.Record
	err := a.do(ctx, http.MethodPost, "/api/records/create", kindQuery(kind), model.CreateRecordRequest{
		Visibility: draft.Visibility,
		Status:     draft.Status,
		Payload:    draft.Payload,
	}, &rec)
	return rec, err
}

func (a *RESTAdapter) Update(ctx context.Context, kind store.Kind, id string, patch store.Patch) (store.Record, error) {
	q := kindQuery(kind)
	q.Set("id", id)
	var rec store.Record
	err := a.do(ctx, http.MethodPut, "/api/records/update", q, patch, &rec)
	return rec, err
}

func (a *RESTAdapter) Delete(ctx context.Context, kind store.Kind, id string) error {
	q := kindQuery(kind)
	q.Set("id", id)
	return a.do(ctx, http.MethodDelete, "/api/records/delete", q, nil, nil)
}

func (a *RESTAdapter) Notifications(ctx context.Context, unreadOnly bool) ([]store.Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "true")
	}
	var list []store.Notification
	if err := a.do(ctx, http.MethodGet, "/api/notifications", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (a *RESTAdapter) NextSlot(ctx context.Context, day string) (string, error) {
	var resp model.NextSlotResponse
	if err := a.do(ctx, http.MethodGet, "/api/events/next-slot", url.Values{"day": {day}}, nil, &resp); err != nil {
		return "", err
	}
	return resp.Slot, nil
}
