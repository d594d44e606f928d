package concat

import (
	"WaRelay/tools/errs"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ===== Lua 脚本 =====

// 追加一条消息（不存在则新建）
// KEYS[1] = block key
// KEYS[2] = 活跃索引 ZSET
// ARGV[1] = message json
// ARGV[2] = sessionId
// ARGV[3] = sender
// ARGV[4] = message type
// ARGV[5] = lastActivityAt (RFC3339Nano)
// ARGV[6] = score (unix ms，与 ARGV[5] 同一时刻)
// ARGV[7] = ttl (ms)
// ARGV[8] = max messages
// ARGV[9] = sameType(0/1)
// 返回：{count, created}；{-1, n} 已满；{-2, n} 类型不符
const luaAppend = `
local bk       = KEYS[1]
local idx      = KEYS[2]
local msg      = cjson.decode(ARGV[1])
local mtype    = ARGV[4]
local active   = ARGV[5]
local max      = tonumber(ARGV[8])
local sameType = tonumber(ARGV[9]) == 1

local raw = redis.call("GET", bk)
local b
local created = 0
if raw then
  b = cjson.decode(raw)
  local n = #b.messages
  if n >= max then
    return {-1, n}
  end
  if sameType and b.messageType ~= mtype then
    return {-2, n}
  end
else
  b = {sessionId = ARGV[2], sender = ARGV[3], messageType = mtype, messages = {}, createdAt = msg.timestamp}
  created = 1
end

table.insert(b.messages, msg)
b.count = #b.messages
b.lastActivityAt = active

redis.call("SET", bk, cjson.encode(b), "PX", ARGV[7])
redis.call("ZADD", idx, ARGV[6], bk)
return {b.count, created}
`

// finalize 收尾：快照首条 id 一致时移除前 n 条
// KEYS[1] = block key
// KEYS[2] = 活跃索引 ZSET
// ARGV[1] = 快照首条消息 id
// ARGV[2] = 快照条数 n
// 返回：0 不存在/已被处理；1 整块删除；2 仅裁剪（保留 PTTL 与索引分数）
const luaSettle = `
local bk  = KEYS[1]
local idx = KEYS[2]
local n   = tonumber(ARGV[2])

local raw = redis.call("GET", bk)
if not raw then
  redis.call("ZREM", idx, bk)
  return 0
end
local b = cjson.decode(raw)
local first = b.messages[1]
if (not first) or first.id ~= ARGV[1] then
  return 0
end

local total = #b.messages
if total <= n then
  redis.call("DEL", bk)
  redis.call("ZREM", idx, bk)
  return 1
end

local rest = {}
for i = n + 1, total do
  table.insert(rest, b.messages[i])
end
b.messages = rest
b.count = #rest
b.messageType = rest[1].type
b.createdAt = rest[1].timestamp

local pttl = redis.call("PTTL", bk)
if pttl > 0 then
  redis.call("SET", bk, cjson.encode(b), "PX", tostring(pttl))
else
  redis.call("SET", bk, cjson.encode(b))
end
return 2
`

// 丢弃 block
// 返回：1 删除；0 不存在
const luaDrop = `
local existed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], KEYS[1])
return existed
`

// 索引残留清理：仅当 block key 已不存在
const luaForget = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
return redis.call("ZREM", KEYS[2], KEYS[1])
`

// 比较 token 后释放锁
const luaUnlock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisStore block 存 JSON 字符串（PX = TTL 上限），活跃索引为 ZSET(score=lastActivityAt ms)。
// Lua 脚本同时访问 block key 与索引，Cluster 模式下需保证二者同槽。
type RedisStore struct {
	rdb      redis.UniversalClient
	indexKey string

	luaAppend *redis.Script
	luaSettle *redis.Script
	luaDrop   *redis.Script
	luaForget *redis.Script
	luaUnlock *redis.Script
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		indexKey:  indexKey,
		luaAppend: redis.NewScript(luaAppend),
		luaSettle: redis.NewScript(luaSettle),
		luaDrop:   redis.NewScript(luaDrop),
		luaForget: redis.NewScript(luaForget),
		luaUnlock: redis.NewScript(luaUnlock),
	}
}

func unavailable(op string, err error) error {
	return errs.ErrStoreUnavailable.WrapMsg(err.Error(), "op", op)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Block, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decodeBlock(raw)
}

func (s *RedisStore) Append(ctx context.Context, sessionID, sender string, msg Message, opt AppendOptions) (AppendResult, error) {
	key := BlockKey(sessionID, sender)
	raw, err := json.Marshal(msg)
	if err != nil {
		return AppendResult{}, errs.ErrArgs.WrapMsg(err.Error(), "message", msg.ID)
	}
	sameType := 0
	if opt.SameType {
		sameType = 1
	}
	at := opt.activity(msg)
	res, err := s.luaAppend.Run(ctx, s.rdb, []string{key, s.indexKey},
		string(raw),
		sessionID,
		sender,
		msg.Type,
		at.Format(time.RFC3339Nano),
		at.UnixMilli(),
		opt.TTL.Milliseconds(),
		opt.MaxMessages,
		sameType,
	).Int64Slice()
	if err != nil {
		return AppendResult{}, unavailable("append", err)
	}
	if len(res) != 2 {
		return AppendResult{}, errs.ErrInternal.WrapMsg("unexpected append reply", "reply", res)
	}
	switch res[0] {
	case -1:
		return AppendResult{Count: int(res[1])}, errs.ErrBlockFull.WrapMsg("", "block", key, "count", res[1])
	case -2:
		return AppendResult{Count: int(res[1])}, errs.ErrTypeMismatch.WrapMsg("", "block", key, "type", msg.Type)
	}
	return AppendResult{Count: int(res[0]), Created: res[1] == 1}, nil
}

func (s *RedisStore) Settle(ctx context.Context, key, firstID string, n int) (SettleResult, error) {
	v, err := s.luaSettle.Run(ctx, s.rdb, []string{key, s.indexKey}, firstID, n).Int64()
	if err != nil {
		return SettleAbsent, unavailable("settle", err)
	}
	return SettleResult(v), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	v, err := s.luaDrop.Run(ctx, s.rdb, []string{key, s.indexKey}).Int64()
	if err != nil {
		return false, unavailable("delete", err)
	}
	return v == 1, nil
}

func (s *RedisStore) IdleKeys(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, s.indexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("idle", err)
	}
	return keys, nil
}

func (s *RedisStore) Forget(ctx context.Context, key string) (bool, error) {
	v, err := s.luaForget.Run(ctx, s.rdb, []string{key, s.indexKey}).Int64()
	if err != nil {
		return false, unavailable("forget", err)
	}
	return v == 1, nil
}

func (s *RedisStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return false, unavailable("lock", err)
	}
	return ok, nil
}

func (s *RedisStore) Unlock(ctx context.Context, key, token string) error {
	if err := s.luaUnlock.Run(ctx, s.rdb, []string{lockKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("unlock", err)
	}
	return nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
