package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MessagePrefix = "chat:msg:"     // + <message_id> -> Hash
	ChannelPrefix = "chat:channel:" // + <channel>    -> Sorted set, score = created_at (ms)
)

// RedisRepository stores messages as Redis hashes with one sorted-set index
// per channel.
type RedisRepository struct {
	rdb            *redis.Client
	moderateScript *redis.Script
}

// NewRedisRepository creates a repository backed by Redis.
func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{
		rdb:            rdb,
		moderateScript: redis.NewScript(moderateMessageLua),
	}
}

func (s *RedisRepository) AddMessage(ctx context.Context, m *Message) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("chat: add message: missing id")
	}
	tags, err := json.Marshal(NormalizeTags(m.ModerationTags))
	if err != nil {
		return fmt.Errorf("chat: add message: marshal tags: %w", err)
	}

	key := MessagePrefix + m.ID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         m.ID,
		"channel":    string(m.Channel),
		"sender_id":  m.SenderID,
		"content":    m.Content,
		"created_at": m.CreatedAt.UnixNano(),
		"status":     string(m.Status),
		"risk":       strconv.FormatFloat(m.ModerationRisk, 'f', -1, 64),
		"tags":       string(tags),
		"notes":      m.ModerationNotes,
		"penalty":    m.PenaltyPoints,
		"moderated":  strconv.FormatBool(m.Moderated),
	})
	pipe.ZAdd(ctx, ChannelPrefix+string(m.Channel), redis.Z{
		Score:  float64(m.CreatedAt.UnixMilli()),
		Member: m.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chat: add message: %w", err)
	}
	return nil
}

func (s *RedisRepository) GetMessages(ctx context.Context, channel Channel) ([]Message, error) {
	ids, err := s.rdb.ZRange(ctx, ChannelPrefix+string(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("chat: get messages: %w", err)
	}
	if len(ids) == 0 {
		return []Message{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, MessagePrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("chat: get messages: %w", err)
	}

	out := make([]Message, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // index entry outlived its hash
		}
		m, err := decodeMessage(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *RedisRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	fields, err := s.rdb.HGetAll(ctx, MessagePrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("chat: get message: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeMessage(fields)
}

// UpdateMessageModeration writes the moderation outcome atomically. The Lua
// script refuses the write when the message is gone or already moderated.
func (s *RedisRepository) UpdateMessageModeration(ctx context.Context, id string, u ModerationUpdate) error {
	tags, err := json.Marshal(NormalizeTags(u.Tags))
	if err != nil {
		return fmt.Errorf("chat: update moderation: marshal tags: %w", err)
	}

	result, err := s.moderateScript.Run(ctx, s.rdb, []string{MessagePrefix + id},
		string(u.Status),
		strconv.FormatFloat(u.Risk, 'f', -1, 64),
		string(tags),
		u.Notes,
		u.Penalty,
	).Int()
	if err != nil {
		return fmt.Errorf("chat: update moderation: %w", err)
	}

	switch result {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case -2:
		return fmt.Errorf("%w: %s", ErrAlreadyModerated, id)
	default:
		return fmt.Errorf("chat: update moderation: unexpected script result %d", result)
	}
}

func decodeMessage(f map[string]string) (*Message, error) {
	createdAt, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("chat: decode message %s: created_at: %w", f["id"], err)
	}
	risk, _ := strconv.ParseFloat(f["risk"], 64)
	penalty, _ := strconv.Atoi(f["penalty"])

	tags := []string{}
	if raw := f["tags"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("chat: decode message %s: tags: %w", f["id"], err)
		}
	}

	return &Message{
		ID:              f["id"],
		Channel:         Channel(f["channel"]),
		SenderID:        f["sender_id"],
		Content:         f["content"],
		CreatedAt:       time.Unix(0, createdAt).UTC(),
		Status:          MessageStatus(f["status"]),
		ModerationRisk:  risk,
		ModerationTags:  tags,
		ModerationNotes: f["notes"],
		PenaltyPoints:   penalty,
		Moderated:       f["moderated"] == "true",
	}, nil
}

// moderateMessageLua applies a moderation outcome exactly once. Returns:
//
//	1 = applied
//	-1 = message not found
//	-2 = message already moderated
const moderateMessageLua = `
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then return -1 end
if redis.call('HGET', key, 'moderated') == 'true' then return -2 end

redis.call('HSET', key,
    'status', ARGV[1],
    'risk', ARGV[2],
    'tags', ARGV[3],
    'notes', ARGV[4],
    'penalty', ARGV[5],
    'moderated', 'true')
return 1
`
