package queue

import "github.com/redis/go-redis/v9"

// Lua-скрипты выполняются атомарно: переходы состояний job в Redis
// не видны другим consumer'ам наполовину.
//
// Ключи job'ов и индексов строятся внутри скрипта из prefix, поэтому
// RedisBroker рассчитан на одиночный Redis (не cluster).

// enqueueScript
// KEYS: job, delayed, waiting, record index
// ARGV: id, run_at_ms, now_ms, payload, max_attempts, created_ms, record_id
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local state = 'delayed'
if tonumber(ARGV[2]) <= tonumber(ARGV[3]) then
  state = 'waiting'
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'payload', ARGV[4], 'run_at', ARGV[2], 'attempts', 0,
  'max_attempts', ARGV[5], 'state', state, 'last_error', '',
  'created_at', ARGV[6], 'record', ARGV[7])
if state == 'delayed' then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
else
  redis.call('LPUSH', KEYS[3], ARGV[1])
end
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`)

// reserveScript переносит наступившие delayed в waiting и выдаёт один job.
// KEYS: delayed, waiting, active
// ARGV: now_ms, lease_until_ms, prefix, promote_limit
var reserveScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[3] .. 'job:' .. id, 'state', 'waiting')
end
-- id без hash (удалён в обход индекса) пропускается
local id, jobKey
repeat
  id = redis.call('RPOP', KEYS[2])
  if not id then
    return false
  end
  jobKey = ARGV[3] .. 'job:' .. id
until redis.call('EXISTS', jobKey) == 1
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HSET', jobKey, 'state', 'active')
redis.call('HINCRBY', jobKey, 'attempts', 1)
return redis.call('HGETALL', jobKey)
`)

// ackScript
// KEYS: active, waiting
// ARGV: prefix, id, record_id
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('LREM', KEYS[2], 0, ARGV[2])
redis.call('DEL', ARGV[1] .. 'job:' .. ARGV[2])
redis.call('SREM', ARGV[1] .. 'record:' .. ARGV[3], ARGV[2])
return 1
`)

// failScript
// KEYS: active, delayed, dead
// ARGV: prefix, id, record_id, reason, retry_at_ms, now_ms
var failScript = redis.NewScript(`
local jobKey = ARGV[1] .. 'job:' .. ARGV[2]
if redis.call('EXISTS', jobKey) == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ARGV[2])
local attempts = tonumber(redis.call('HGET', jobKey, 'attempts'))
local maxAttempts = tonumber(redis.call('HGET', jobKey, 'max_attempts'))
redis.call('HSET', jobKey, 'last_error', ARGV[4])
if attempts >= maxAttempts then
  redis.call('HSET', jobKey, 'state', 'dead')
  redis.call('ZADD', KEYS[3], ARGV[6], ARGV[2])
  redis.call('SREM', ARGV[1] .. 'record:' .. ARGV[3], ARGV[2])
  return 'dead'
end
redis.call('HSET', jobKey, 'state', 'delayed', 'run_at', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[2])
return 'delayed'
`)

// cancelScript удаляет ожидающие job'ы записи (все поколения).
// KEYS: delayed, waiting, record index
// ARGV: prefix
var cancelScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[3])
local removed = 0
for _, id in ipairs(ids) do
  local jobKey = ARGV[1] .. 'job:' .. id
  local state = redis.call('HGET', jobKey, 'state')
  if state == 'delayed' or state == 'waiting' then
    redis.call('ZREM', KEYS[1], id)
    redis.call('LREM', KEYS[2], 0, id)
    redis.call('DEL', jobKey)
    redis.call('SREM', KEYS[3], id)
    removed = removed + 1
  elseif not state then
    redis.call('SREM', KEYS[3], id)
  end
end
return removed
`)

// cancelJobScript удаляет одно поколение.
// KEYS: job, delayed, waiting, record index
// ARGV: id
var cancelJobScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'delayed' and state ~= 'waiting' then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[3], 0, ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[4], ARGV[1])
return 1
`)

// reapScript возвращает active job'ы с истёкшим lease.
// Ответ: {requeued, dead_id...}.
// KEYS: active, waiting, dead
// ARGV: now_ms, prefix, reason
var reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local out = {0}
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[1], id)
  local jobKey = ARGV[2] .. 'job:' .. id
  if redis.call('EXISTS', jobKey) == 1 then
    local attempts = tonumber(redis.call('HGET', jobKey, 'attempts'))
    local maxAttempts = tonumber(redis.call('HGET', jobKey, 'max_attempts'))
    if attempts >= maxAttempts then
      redis.call('HSET', jobKey, 'state', 'dead', 'last_error', ARGV[3])
      redis.call('ZADD', KEYS[3], ARGV[1], id)
      redis.call('SREM', ARGV[2] .. 'record:' .. redis.call('HGET', jobKey, 'record'), id)
      table.insert(out, id)
    else
      redis.call('HSET', jobKey, 'state', 'waiting')
      redis.call('RPUSH', KEYS[2], id)
      out[1] = out[1] + 1
    end
  end
end
return out
`)

// redriveScript возвращает dead job в waiting.
// KEYS: job, dead, waiting
// ARGV: id, prefix
var redriveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'attempts', 0, 'last_error', '')
redis.call('LPUSH', KEYS[3], ARGV[1])
redis.call('SADD', ARGV[2] .. 'record:' .. redis.call('HGET', KEYS[1], 'record'), ARGV[1])
return 1
`)
