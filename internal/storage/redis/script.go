package redisstorage

import "github.com/go-redis/redis/v8"

const (
	opPut    = "put"
	opDelete = "del"
)

// compareAndSetScript applies a mutation only if the host's hash still holds
// the values it was read with.
// KEYS[1]: the host's hash key (e.g., "hostlimit:login:10.0.0.1")
// ARGV[1]: expected trial, "" if the hash was absent
// ARGV[2]: expected last_request in milliseconds, "" if the hash was absent
// ARGV[3]: "put" or "del"
// ARGV[4]: new trial (put only)
// ARGV[5]: new last_request in milliseconds (put only)
// ARGV[6]: expiry in milliseconds, "0" for none (put only)
// Returns 1 if the mutation was applied, 0 if the hash changed in between.
var compareAndSetScript = redis.NewScript(`
	local key = KEYS[1]

	local trial = redis.call('HGET', key, 'trial') or ''
	local last_request = redis.call('HGET', key, 'last_request') or ''
	if trial ~= ARGV[1] or last_request ~= ARGV[2] then
		return 0
	end

	if ARGV[3] == 'del' then
		redis.call('DEL', key)
		return 1
	end

	redis.call('HSET', key, 'trial', ARGV[4], 'last_request', ARGV[5])
	local expiry_ms = tonumber(ARGV[6])
	if expiry_ms > 0 then
		redis.call('PEXPIRE', key, expiry_ms)
	end
	return 1
`)
