package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/util"
)

// GmailSource reads the authenticated user's mailbox through the Gmail
// API. Read-only scope; the pipeline never labels or archives.
type GmailSource struct {
	oauth *google.OAuthManager
}

func NewGmailSource(oauth *google.OAuthManager) *GmailSource {
	return &GmailSource{oauth: oauth}
}

func (s *GmailSource) service(ctx context.Context) (*gmail.Service, error) {
	httpClient, err := s.oauth.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth client: %w", err)
	}
	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return service, nil
}

// ListMessageIDs runs a Gmail search query and returns matching ids,
// newest first, following pagination up to max.
func (s *GmailSource) ListMessageIDs(ctx context.Context, query string, max int) ([]string, error) {
	service, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	pageToken := ""
	for {
		call := service.Users.Messages.List("me").Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		if remaining := max - len(ids); remaining > 0 && remaining < 500 {
			call = call.MaxResults(int64(remaining))
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" || (max > 0 && len(ids) >= max) {
			break
		}
	}

	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

// GetMessage fetches and decodes one message. A 404 returns (nil, nil).
func (s *GmailSource) GetMessage(ctx context.Context, id string) (*Message, error) {
	service, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	msg := &Message{
		ID:       raw.Id,
		ThreadID: raw.ThreadId,
		Snippet:  raw.Snippet,
	}
	for _, h := range raw.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "date":
			msg.Date = h.Value
		case "from":
			msg.Sender, msg.DisplayName = parseFrom(h.Value)
		}
	}

	var plain, html strings.Builder
	s.walkParts(ctx, service, id, raw.Payload, &plain, &html, msg)

	msg.Body = plain.String()
	if msg.Body == "" && html.Len() > 0 {
		text, err := BodyText(html.String())
		if err != nil {
			util.Warn("html body conversion failed", "message_id", id, "error", err)
			text = html.String()
		}
		msg.Body = text
	}
	return msg, nil
}

// walkParts descends the MIME tree collecting text bodies and
// attachments. Attachment bytes beyond the inline size are fetched
// separately by attachment id.
func (s *GmailSource) walkParts(ctx context.Context, service *gmail.Service, messageID string, part *gmail.MessagePart, plain, html *strings.Builder, msg *Message) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil {
		data, err := s.attachmentData(ctx, service, messageID, part)
		if err != nil {
			util.Warn("failed to fetch attachment", "message_id", messageID,
				"filename", part.Filename, "error", err)
		} else {
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename: part.Filename,
				MIMEType: part.MimeType,
				Data:     data,
			})
		}
	} else if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				plain.Write(data)
			case "text/html":
				html.Write(data)
			}
		}
	}

	for _, child := range part.Parts {
		s.walkParts(ctx, service, messageID, child, plain, html, msg)
	}
}

func (s *GmailSource) attachmentData(ctx context.Context, service *gmail.Service, messageID string, part *gmail.MessagePart) ([]byte, error) {
	if part.Body.Data != "" {
		return base64.URLEncoding.DecodeString(part.Body.Data)
	}
	if part.Body.AttachmentId == "" {
		return nil, fmt.Errorf("attachment has no data or id")
	}
	body, err := service.Users.Messages.Attachments.
		Get("me", messageID, part.Body.AttachmentId).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return base64.URLEncoding.DecodeString(body.Data)
}

// parseFrom splits a From header into bare address and display name.
func parseFrom(value string) (address, displayName string) {
	addr, err := netmail.ParseAddress(value)
	if err != nil {
		return strings.TrimSpace(value), ""
	}
	return addr.Address, addr.Name
}
