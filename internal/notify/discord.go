package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordSession is the part of the Discord REST API the sender uses.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts messages as a bot. Only REST calls are made; no gateway
// connection is opened.
type Discord struct {
	sess    discordSession
	channel string
	backoff time.Duration
}

// NewDiscord returns a Discord sender posting to channelID.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	if botToken == "" || channelID == "" {
		return nil, errors.New("discord: bot token and channel are required")
	}
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Discord{sess: dg, channel: channelID, backoff: 2 * time.Second}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, msg Message) error {
	data := &discordgo.MessageSend{Content: msg.Text}
	for _, e := range msg.Events {
		data.Embeds = append(data.Embeds, toEmbed(e))
	}
	err := retryRateLimited(ctx, d.backoff, discordRateLimited, func() error {
		_, err := d.sess.ChannelMessageSendComplex(d.channel, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func discordRateLimited(err error) (time.Duration, bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	return 0, true
}

func toEmbed(e Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: e.Title, Description: e.Body}
	if e.Color != "" {
		embed.Color = hexColor(e.Color)
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short})
	}
	return embed
}

// hexColor converts "#36a64f" to 0x36a64f. Malformed colors yield 0.
func hexColor(s string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
