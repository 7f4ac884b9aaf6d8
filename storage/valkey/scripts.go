package valkey

// Records are stored as hashes. The JSON payload lives in the "data" field
// and never changes after it is written; the fields the scripts decide on
// (expiry, used, revoked_at) sit next to it as plain millisecond strings,
// so no script has to decode or re-encode JSON.
//
// Scripts touch keys derived from stored values (rotation group members),
// which ties this store to a single Valkey node or a replicated primary.

// luaSaveRecord creates a hash record with a TTL. Fails if the key exists.
//
// KEYS[1] record key
// ARGV[1] ttl in ms, ARGV[2..] field/value pairs
const luaSaveRecord = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'EXISTS'
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 'OK'
`

// luaConsumeCode checks an authorization code and marks it used in one step.
// The record is kept until its TTL runs out so a replay is recognised.
//
// KEYS[1] code key
// ARGV[1] now in ms
//
// Returns NOT_FOUND, EXPIRED, USED:<data> or OK:<data>.
const luaConsumeCode = `
local f = redis.call('HMGET', KEYS[1], 'data', 'expires_at', 'used')
if not f[1] then
  return 'NOT_FOUND'
end
if tonumber(f[2]) <= tonumber(ARGV[1]) then
  return 'EXPIRED'
end
if f[3] == '1' then
  return 'USED:' .. f[1]
end
redis.call('HSET', KEYS[1], 'used', '1')
return 'OK:' .. f[1]
`

// luaRevokeGroupFunc marks every active member of a group revoked and sets
// the group's revocation marker. Prepended to the scripts that need it.
const luaRevokeGroupFunc = `
local function revoke_group(members, marker, now, retention)
  local n = 0
  for _, key in ipairs(redis.call('SMEMBERS', members)) do
    local at = redis.call('HGET', key, 'revoked_at')
    if at and tonumber(at) == 0 then
      redis.call('HSET', key, 'revoked_at', now)
      n = n + 1
    end
  end
  redis.call('SET', marker, now, 'PX', retention)
  return n
end
`

// luaRevokeGroup revokes a rotation group.
//
// KEYS[1] group member set, KEYS[2] group revocation marker
// ARGV[1] now in ms, ARGV[2] marker retention in ms
//
// A group without a member set is left untouched. Returns the number of
// tokens revoked.
const luaRevokeGroup = luaRevokeGroupFunc + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
return revoke_group(KEYS[1], KEYS[2], ARGV[1], ARGV[2])
`

// luaSaveRefreshToken adds a refresh token to its rotation group.
// The member set lives as long as its longest-lived member.
//
// KEYS[1] token key, KEYS[2] group member set, KEYS[3] group revocation marker
// ARGV[1] ttl in ms, ARGV[2] data, ARGV[3] client id, ARGV[4] expires_at in ms
//
// Returns GROUP_REVOKED, EXISTS or OK.
const luaSaveRefreshToken = `
if redis.call('EXISTS', KEYS[3]) == 1 then
  return 'GROUP_REVOKED'
end
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'EXISTS'
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'client_id', ARGV[3], 'expires_at', ARGV[4], 'revoked_at', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], KEYS[1])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[1]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[1])
end
return 'OK'
`

// luaRotateRefreshToken redeems a refresh token and stores its successor.
// Presenting an already rotated token revokes the whole group.
//
// KEYS[1] presented key, KEYS[2] next key, KEYS[3] group member set,
// KEYS[4] group revocation marker
// ARGV[1] now in ms, ARGV[2] client id, ARGV[3] next data,
// ARGV[4] next expires_at in ms, ARGV[5] next ttl in ms,
// ARGV[6] marker retention in ms
//
// Returns NOT_FOUND, EXPIRED, CLIENT_MISMATCH, GROUP_REVOKED, REUSED:<n>,
// EXISTS or OK.
const luaRotateRefreshToken = luaRevokeGroupFunc + `
local f = redis.call('HMGET', KEYS[1], 'expires_at', 'client_id', 'revoked_at')
if not f[1] then
  return 'NOT_FOUND'
end
if tonumber(f[1]) <= tonumber(ARGV[1]) then
  return 'EXPIRED'
end
if f[2] ~= ARGV[2] then
  return 'CLIENT_MISMATCH'
end
if redis.call('EXISTS', KEYS[4]) == 1 then
  return 'GROUP_REVOKED'
end
if tonumber(f[3]) ~= 0 then
  return 'REUSED:' .. revoke_group(KEYS[3], KEYS[4], ARGV[1], ARGV[6])
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 'EXISTS'
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1])
redis.call('HSET', KEYS[2], 'data', ARGV[3], 'client_id', ARGV[2], 'expires_at', ARGV[4], 'revoked_at', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[5])
redis.call('SADD', KEYS[3], KEYS[2])
if redis.call('PTTL', KEYS[3]) < tonumber(ARGV[5]) then
  redis.call('PEXPIRE', KEYS[3], ARGV[5])
end
return 'OK'
`

// luaTouchSession validates a session and slides its expiry, capped at the
// absolute expiry. An expired session is deleted.
//
// KEYS[1] session key
// ARGV[1] now in ms, ARGV[2] sliding ttl in ms
//
// Returns {NOT_FOUND}, {EXPIRED} or {OK, data, expires_at}.
const luaTouchSession = `
local f = redis.call('HMGET', KEYS[1], 'data', 'expires_at', 'absolute_expires_at')
if not f[1] then
  return {'NOT_FOUND'}
end
local now = tonumber(ARGV[1])
if tonumber(f[2]) <= now then
  redis.call('DEL', KEYS[1])
  return {'EXPIRED'}
end
local nextExp = now + tonumber(ARGV[2])
local abs = tonumber(f[3])
if abs > 0 and nextExp > abs then
  nextExp = abs
end
redis.call('HSET', KEYS[1], 'expires_at', string.format('%d', nextExp))
redis.call('PEXPIRE', KEYS[1], nextExp - now)
return {'OK', f[1], nextExp}
`
