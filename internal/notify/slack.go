package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// slackClient is the part of the Slack Web API the sender uses.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts messages with a bot token.
type Slack struct {
	client  slackClient
	channel string
	backoff time.Duration
}

// NewSlack returns a Slack sender posting to channel.
func NewSlack(token, channel string) (*Slack, error) {
	if token == "" || channel == "" {
		return nil, errors.New("slack: token and channel are required")
	}
	return &Slack{client: slackapi.New(token), channel: channel, backoff: time.Second}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, msg Message) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if len(msg.Events) > 0 {
		var atts []slackapi.Attachment
		for _, e := range msg.Events {
			atts = append(atts, toAttachment(e))
		}
		opts = append(opts, slackapi.MsgOptionAttachments(atts...))
	}

	err := retryRateLimited(ctx, s.backoff, slackRateLimited, func() error {
		_, _, err := s.client.PostMessage(s.channel, opts...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func slackRateLimited(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

func toAttachment(e Event) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    e.Title,
		Text:     e.Body,
		Color:    e.Color,
		Fallback: e.Title,
	}
	for _, f := range e.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	return att
}
