package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"teamly/cmd/internal/ids"
	"teamly/cmd/internal/model"
	v1 "teamly/shared/contracts/gateway/v1"
)

// ---- teams ----

// FetchTeams lists the teams the bot belongs to.
func (c *Client) FetchTeams(ctx context.Context) ([]model.Team, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, "/teams", nil, nil)
	if err != nil {
		return nil, err
	}
	return parseList(c.log, "team", field(raw, "teams"), model.ParseTeam)
}

// GetTeam fetches one team.
func (c *Client) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, path("/teams/%s", teamID), nil, nil)
	if err != nil {
		return model.Team{}, err
	}
	return model.ParseTeam(field(raw, "team"))
}

// TeamUpdate is a partial team update. Nil fields are left unchanged.
type TeamUpdate struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
	Banner         *string `json:"banner,omitempty"`
}

// UpdateTeam edits a team and returns the updated record.
func (c *Client) UpdateTeam(ctx context.Context, teamID string, u TeamUpdate) (model.Team, error) {
	raw, err := c.doRaw(ctx, http.MethodPatch, path("/teams/%s", teamID), nil, u)
	if err != nil {
		return model.Team{}, err
	}
	return model.ParseTeam(field(raw, "team"))
}

// ---- channels ----

// FetchChannels lists a team's channels.
func (c *Client) FetchChannels(ctx context.Context, teamID string) ([]model.Channel, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, path("/teams/%s/channels", teamID), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseList(c.log, "channel", field(raw, "channels"), model.ParseChannel)
}

// GetChannel fetches one channel.
func (c *Client) GetChannel(ctx context.Context, teamID, channelID string) (model.Channel, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, path("/teams/%s/channels/%s", teamID, channelID), nil, nil)
	if err != nil {
		return model.Channel{}, err
	}
	return model.ParseChannel(field(raw, "channel"))
}

// ChannelCreate is the body of a channel creation.
type ChannelCreate struct {
	Name           string               `json:"name"`
	Kind           model.ChannelKind    `json:"type"`
	AdditionalData *model.ChannelExtras `json:"additionalData,omitempty"`
}

// CreateChannel creates a channel in teamID.
func (c *Client) CreateChannel(ctx context.Context, teamID string, in ChannelCreate) (model.Channel, error) {
	if !in.Kind.Valid() {
		return model.Channel{}, fmt.Errorf("rest: unknown channel kind %q", in.Kind)
	}
	raw, err := c.doRaw(ctx, http.MethodPut, path("/teams/%s/channels", teamID), nil, in)
	if err != nil {
		return model.Channel{}, err
	}
	return model.ParseChannel(field(raw, "channel"))
}

// ChannelUpdate is a partial channel update. Nil fields are left unchanged.
type ChannelUpdate struct {
	Name             *string              `json:"name,omitempty"`
	Description      *string              `json:"description,omitempty"`
	RateLimitPerUser *int                 `json:"rateLimitPerUser,omitempty"`
	AdditionalData   *model.ChannelExtras `json:"additionalData,omitempty"`
}

// UpdateChannel edits a channel and returns the updated record.
func (c *Client) UpdateChannel(ctx context.Context, teamID, channelID string, u ChannelUpdate) (model.Channel, error) {
	raw, err := c.doRaw(ctx, http.MethodPatch, path("/teams/%s/channels/%s", teamID, channelID), nil, u)
	if err != nil {
		return model.Channel{}, err
	}
	return model.ParseChannel(field(raw, "channel"))
}

// DeleteChannel removes a channel.
func (c *Client) DeleteChannel(ctx context.Context, teamID, channelID string) error {
	return c.do(ctx, http.MethodDelete, path("/teams/%s/channels/%s", teamID, channelID), nil, nil, nil)
}

// CloneChannel duplicates a channel and returns the copy.
func (c *Client) CloneChannel(ctx context.Context, teamID, channelID string) (model.Channel, error) {
	raw, err := c.doRaw(ctx, http.MethodPost, path("/teams/%s/channels/%s/clone", teamID, channelID), nil, nil)
	if err != nil {
		return model.Channel{}, err
	}
	return model.ParseChannel(field(raw, "channel"))
}

// UpdateChannelPriorities reorders a team's channels.
func (c *Client) UpdateChannelPriorities(ctx context.Context, teamID string, order []v1.ChannelPriority) error {
	body := struct {
		Channels []v1.ChannelPriority `json:"channels"`
	}{Channels: order}
	return c.do(ctx, http.MethodPut, path("/teams/%s/channelspriority", teamID), nil, body, nil)
}

// UpdateChannelRolePermissions sets the allow/deny bits for one role on a channel.
func (c *Client) UpdateChannelRolePermissions(ctx context.Context, teamID, channelID, roleID string, allow, deny int64) error {
	body := model.PermissionOverwrite{Allow: allow, Deny: deny}
	return c.do(ctx, http.MethodPost, path("/teams/%s/channels/%s/permissions/role/%s", teamID, channelID, roleID), nil, body, nil)
}

// ---- members ----

type memberPage struct {
	Members    []json.RawMessage `json:"members"`
	NextCursor string            `json:"nextCursor"`
	Next       string            `json:"next"`
}

// FetchMembers returns one page of a team's members. An empty pageToken asks for the first page.
func (c *Client) FetchMembers(ctx context.Context, teamID, pageToken string) (model.MemberPage, error) {
	q := url.Values{}
	if pageToken != "" {
		q.Set("cursor", pageToken)
	}
	var page memberPage
	if err := c.do(ctx, http.MethodGet, path("/teams/%s/members", teamID), q, nil, &page); err != nil {
		return model.MemberPage{}, err
	}

	out := model.MemberPage{Next: page.NextCursor}
	if out.Next == "" {
		out.Next = page.Next
	}
	out.Members = parseRaws(c.log, "member", page.Members, func(raw json.RawMessage) (model.Member, error) {
		return model.ParseMember(raw, teamID)
	})
	return out, nil
}

// GetMember fetches one member of a team.
func (c *Client) GetMember(ctx context.Context, teamID, userID string) (model.Member, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, path("/teams/%s/members/%s", teamID, userID), nil, nil)
	if err != nil {
		return model.Member{}, err
	}
	return model.ParseMember(field(raw, "member"), teamID)
}

// ---- messages ----

type messagePage struct {
	Messages []json.RawMessage `json:"messages"`
	Replies  []json.RawMessage `json:"replyMessages"`
}

// FetchMessages returns one page of channel history, newest first as the server sends it.
func (c *Client) FetchMessages(ctx context.Context, channelID string, offset, limit int) (model.MessagePage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var page messagePage
	if err := c.do(ctx, http.MethodGet, path("/channels/%s/messages", channelID), q, nil, &page); err != nil {
		return model.MessagePage{}, err
	}

	parse := func(raw json.RawMessage) (model.Message, error) { return model.ParseMessage(raw, channelID) }
	return model.MessagePage{
		Messages: parseRaws(c.log, "message", page.Messages, parse),
		Replies:  parseRaws(c.log, "message", page.Replies, parse),
	}, nil
}

// FetchMessage fetches one message. A 404 matches model.ErrNotFound.
func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (model.Message, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, path("/channels/%s/messages/%s", channelID, messageID), nil, nil)
	if err != nil {
		return model.Message{}, err
	}
	return model.ParseMessage(field(raw, "message"), channelID)
}

// MessageCreate is the body of a new message. An empty Nonce is filled in.
type MessageCreate struct {
	Content     string            `json:"content"`
	ReplyTo     string            `json:"replyTo,omitempty"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`
	Embeds      []json.RawMessage `json:"embeds,omitempty"`
	Nonce       string            `json:"nonce,omitempty"`
}

// CreateMessage posts a message to channelID.
func (c *Client) CreateMessage(ctx context.Context, channelID string, in MessageCreate) (model.Message, error) {
	if in.Nonce == "" {
		n, err := ids.NewNonce()
		if err != nil {
			return model.Message{}, fmt.Errorf("rest: nonce: %w", err)
		}
		in.Nonce = n
	}
	raw, err := c.doRaw(ctx, http.MethodPost, path("/channels/%s/messages", channelID), nil, in)
	if err != nil {
		return model.Message{}, err
	}
	return model.ParseMessage(field(raw, "message"), channelID)
}

// MessageUpdate is a message edit. Nil fields are left unchanged.
type MessageUpdate struct {
	Content *string           `json:"content,omitempty"`
	Embeds  []json.RawMessage `json:"embeds,omitempty"`
}

// UpdateMessage edits a message and returns the updated record.
func (c *Client) UpdateMessage(ctx context.Context, channelID, messageID string, u MessageUpdate) (model.Message, error) {
	raw, err := c.doRaw(ctx, http.MethodPatch, path("/channels/%s/messages/%s", channelID, messageID), nil, u)
	if err != nil {
		return model.Message{}, err
	}
	return model.ParseMessage(field(raw, "message"), channelID)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, path("/channels/%s/messages/%s", channelID, messageID), nil, nil, nil)
}

// AddReaction reacts to a message with emojiID.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emojiID string) error {
	return c.do(ctx, http.MethodPost, path("/channels/%s/messages/%s/reactions/%s", channelID, messageID, emojiID), nil, nil, nil)
}

// RemoveReaction removes the bot's emojiID reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emojiID string) error {
	return c.do(ctx, http.MethodDelete, path("/channels/%s/messages/%s/reactions/%s", channelID, messageID, emojiID), nil, nil, nil)
}

// ---- helpers ----

// path fills format with path-escaped ids.
func path(format string, segs ...string) string {
	args := make([]any, len(segs))
	for i, id := range segs {
		args[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, args...)
}

// field returns obj[key] when raw is an object holding key, else raw itself.
// The API wraps some responses ({"channel": {...}}) and not others.
func field(raw []byte, key string) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return raw
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return raw
	}
	if v, ok := obj[key]; ok {
		return v
	}
	return raw
}

// parseList decodes a JSON array of records. Records that fail to parse are
// logged and skipped; only a malformed array is an error.
func parseList[T any](log *slog.Logger, kind string, raw json.RawMessage, parse func(json.RawMessage) (T, error)) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, fmt.Errorf("rest: decode list: %w", err)
	}
	return parseRaws(log, kind, raws, parse), nil
}

func parseRaws[T any](log *slog.Logger, kind string, raws []json.RawMessage, parse func(json.RawMessage) (T, error)) []T {
	out := make([]T, 0, len(raws))
	for _, r := range raws {
		v, err := parse(r)
		if err != nil {
			log.Warn("rest.decode.skip", "kind", kind, "err", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
