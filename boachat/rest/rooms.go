package rest

import (
	"context"
	"net/http"
	"net/url"
)

// Room management endpoints

// CreateRoom creates a new room and returns its id.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var resp IDResponse
	if err := c.post(ctx, "room", nil, &resp, true); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateRoomSession opens a new session in a room. The session id scopes the
// long-poll message endpoint.
func (c *Client) CreateRoomSession(ctx context.Context, roomID string) (string, error) {
	var resp IDResponse
	if err := c.post(ctx, pathf("room/%s/session", roomID), nil, &resp, true); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// PostMessage publishes a message. clientMessageID may be empty; when set it
// is echoed back on the delivered event.
func (c *Client) PostMessage(ctx context.Context, roomID, message, clientMessageID string) (string, error) {
	if len(clientMessageID) > MaxClientMessageIDLength {
		return "", NewError(KindValidation, "client-message-id must be 36 bytes or fewer")
	}
	req := PostMessageRequest{
		Version:         MessageVersion,
		Message:         message,
		ClientMessageID: clientMessageID,
	}
	var resp PostMessageResponse
	if err := c.post(ctx, pathf("room/%s/message", roomID), req, &resp, true); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// Message history endpoints

// RoomMessages fetches one page of history, newest first. nextToken is empty
// for the first page.
func (c *Client) RoomMessages(ctx context.Context, roomID, nextToken string) (*MessagesPage, error) {
	query := url.Values{}
	query.Set("direction", "reverse")
	if nextToken != "" {
		query.Set("next-token", nextToken)
	}

	var resp MessagesPage
	if err := c.get(ctx, pathf("room/%s/message", roomID), query, &resp, true); err != nil {
		return nil, err
	}
	resp.Messages, resp.Skipped = c.validEvents(resp.Messages)
	return &resp, nil
}

// Session message endpoints

// SessionMessagesPath returns the long-poll endpoint of a room session,
// relative to the API base.
func SessionMessagesPath(roomID, sessionID string) string {
	return pathf("room/%s/session/%s/message", roomID, sessionID)
}

// PollSessionMessages long-polls a room session. The server holds the request
// open until messages arrive or its wait time elapses.
func (c *Client) PollSessionMessages(ctx context.Context, roomID, sessionID string) (*SessionMessages, error) {
	var resp SessionMessages
	if err := c.get(ctx, SessionMessagesPath(roomID, sessionID), nil, &resp, true); err != nil {
		return nil, err
	}
	resp.Messages, resp.Skipped = c.validEvents(resp.Messages)
	return &resp, nil
}

// AcknowledgeSessionMessages releases delivered messages by receipt handle.
func (c *Client) AcknowledgeSessionMessages(ctx context.Context, roomID, sessionID string, receiptHandles []string) error {
	req := Request{
		Method:        http.MethodPut,
		Path:          SessionMessagesPath(roomID, sessionID),
		Body:          AcknowledgeRequest{ReceiptHandles: receiptHandles},
		Sign:          true,
		IncludeAPIKey: true,
	}
	return c.Do(ctx, req, nil)
}

// validEvents drops events that fail their struct tags. One malformed event
// must not cost the rest of its page or poll batch.
func (c *Client) validEvents(events []Event) ([]Event, int) {
	kept := events[:0]
	for _, ev := range events {
		if c.validate.Struct(ev) != nil {
			continue
		}
		kept = append(kept, ev)
	}
	return kept, len(events) - len(kept)
}
