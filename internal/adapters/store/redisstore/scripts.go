package redisstore

import "github.com/redis/go-redis/v9"

// Slot meta lives in one hash per room as "<n>:muted" and "<n>:since" fields.

// KEYS: slots, seated, meta, locked. ARGV: number, user, since.
var insertSlotScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[4], ARGV[1]) == 1 then return 'locked' end
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then return 'occupied' end
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 1 then return 'seated' end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1] .. ':muted', '0')
redis.call('HSET', KEYS[3], ARGV[1] .. ':since', ARGV[3])
return 'ok'
`)

// KEYS: slots, seated, meta. ARGV: number, user ('' = any), since ('' = any).
var deleteSlotScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then return 0 end
if ARGV[2] ~= '' and cur ~= ARGV[2] then return 0 end
if ARGV[3] ~= '' and redis.call('HGET', KEYS[3], ARGV[1] .. ':since') ~= ARGV[3] then return 0 end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], cur)
redis.call('HDEL', KEYS[3], ARGV[1] .. ':muted', ARGV[1] .. ':since')
return 1
`)

// KEYS: slots, meta. ARGV: number, '1'|'0'.
var muteSlotScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], ARGV[1] .. ':muted', ARGV[2])
return 1
`)

// KEYS: slots, seated, meta.
var clearSlotsScript = redis.NewScript(`
local n = redis.call('HLEN', KEYS[1])
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
return n
`)

// KEYS: pending, request. ARGV: user, id, json.
var insertRequestScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
return 1
`)

// Drops a request from the pending index if it is still the user's pending one.
// KEYS: pending, request. ARGV: user, id, json ('' deletes the record), ttl seconds.
var settleRequestScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('HDEL', KEYS[1], ARGV[1])
if ARGV[3] == '' then
  redis.call('DEL', KEYS[2])
else
  redis.call('SET', KEYS[2], ARGV[3], 'EX', tonumber(ARGV[4]))
end
return 1
`)
