package dispatcher

import (
	"time"

	"github.com/synapdb/synap/internal/engine/bitmap"
	"github.com/synapdb/synap/internal/engine/geo"
	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/typederr"
)

// commandTable is the dotted command namespace (spec §4.7). Read-only
// commands are never WAL-logged; mutatingCommands below lists exactly the
// tags whose successful execution is appended to the log and forwarded to
// replicas.
var commandTable = map[string]handlerFunc{
	"kv.set": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		val, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(optInt(p, "ttl_ms", 0)) * time.Millisecond
		return nil, e.KV.Set(key, val, ttl)
	},
	"kv.get": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		val, ok := e.KV.Get(key)
		if !ok {
			return nil, typederr.New(typederr.NotFound, "key not found")
		}
		return val, nil
	},
	"kv.setnx": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		val, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(optInt(p, "ttl_ms", 0)) * time.Millisecond
		return e.KV.SetNX(key, val, ttl)
	},
	"kv.del": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.KV.Del(key), nil
	},
	"kv.mset": func(e Engines, p Payload) (any, error) {
		v, ok := p["pairs"].(map[string]any)
		if !ok {
			return nil, missing("pairs")
		}
		pairs := make(map[string][]byte, len(v))
		for k, val := range v {
			b, ok := toBytes(val)
			if !ok {
				return nil, wrongType("pairs", "map of bytes")
			}
			pairs[k] = b
		}
		return nil, e.KV.MSet(pairs)
	},
	"kv.mget": func(e Engines, p Payload) (any, error) {
		keys, err := reqStringSlice(p, "keys")
		if err != nil {
			return nil, err
		}
		return e.KV.MGet(keys), nil
	},
	"kv.incr": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		delta := optInt(p, "delta", 1)
		return e.KV.Incr(key, delta)
	},
	"kv.incrbyfloat": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		delta := optFloat(p, "delta", 1)
		return e.KV.IncrByFloat(key, delta)
	},
	"kv.append": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		tail, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		return e.KV.Append(key, tail)
	},
	"kv.strlen": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.KV.Strlen(key), nil
	},
	"kv.getrange": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		start := int(optInt(p, "start", 0))
		end := int(optInt(p, "end", -1))
		return e.KV.GetRange(key, start, end), nil
	},
	"kv.setrange": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		b, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		offset := int(optInt(p, "offset", 0))
		return e.KV.SetRange(key, offset, b)
	},
	"kv.getset": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		val, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		old, _ := e.KV.GetSet(key, val)
		return old, nil
	},
	"kv.expire": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		ttlMs, err := reqInt(p, "ttl_ms")
		if err != nil {
			return nil, err
		}
		return e.KV.Expire(key, time.Duration(ttlMs)*time.Millisecond), nil
	},
	"kv.ttl": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.KV.TTL(key).Milliseconds(), nil
	},
	"kv.persist": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.KV.Persist(key), nil
	},

	"hash.hset": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		field, err := reqString(p, "field")
		if err != nil {
			return nil, err
		}
		val, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		return e.Hash.HSet(key, field, val)
	},
	"hash.hget": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		field, err := reqString(p, "field")
		if err != nil {
			return nil, err
		}
		val, ok := e.Hash.HGet(key, field)
		if !ok {
			return nil, typederr.New(typederr.NotFound, "field not found")
		}
		return val, nil
	},
	"hash.hgetall": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Hash.HGetAll(key), nil
	},
	"hash.hdel": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		fields, err := reqStringSlice(p, "fields")
		if err != nil {
			return nil, err
		}
		return e.Hash.HDel(key, fields), nil
	},
	"hash.hexists": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		field, err := reqString(p, "field")
		if err != nil {
			return nil, err
		}
		return e.Hash.HExists(key, field), nil
	},
	"hash.hlen": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Hash.HLen(key), nil
	},
	"hash.hincrby": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		field, err := reqString(p, "field")
		if err != nil {
			return nil, err
		}
		delta := optInt(p, "delta", 1)
		return e.Hash.HIncrBy(key, field, delta)
	},

	"list.lpush": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		vals, err := reqBytesSlice(p, "values")
		if err != nil {
			return nil, err
		}
		return e.List.LPush(key, vals...)
	},
	"list.rpush": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		vals, err := reqBytesSlice(p, "values")
		if err != nil {
			return nil, err
		}
		return e.List.RPush(key, vals...)
	},
	"list.lpop": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.List.LPop(key, int(optInt(p, "count", 1)))
	},
	"list.rpop": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.List.RPop(key, int(optInt(p, "count", 1)))
	},
	"list.lrange": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.List.LRange(key, int(optInt(p, "start", 0)), int(optInt(p, "end", -1))), nil
	},
	"list.llen": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.List.LLen(key), nil
	},
	"list.lrem": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		val, err := reqBytes(p, "value")
		if err != nil {
			return nil, err
		}
		return e.List.LRem(key, int(optInt(p, "count", 0)), val), nil
	},
	"list.rpoplpush": func(e Engines, p Payload) (any, error) {
		src, err := reqString(p, "src")
		if err != nil {
			return nil, err
		}
		dst, err := reqString(p, "dst")
		if err != nil {
			return nil, err
		}
		val, _ := e.List.RPopLPush(src, dst)
		return val, nil
	},

	"set.sadd": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		members, err := reqBytesSlice(p, "members")
		if err != nil {
			return nil, err
		}
		return e.Set.SAdd(key, members...), nil
	},
	"set.srem": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		members, err := reqBytesSlice(p, "members")
		if err != nil {
			return nil, err
		}
		return e.Set.SRem(key, members...), nil
	},
	"set.smembers": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Set.SMembers(key), nil
	},
	"set.sismember": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		member, err := reqBytes(p, "member")
		if err != nil {
			return nil, err
		}
		return e.Set.SIsMember(key, member), nil
	},
	"set.scard": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Set.SCard(key), nil
	},
	"set.sinter": func(e Engines, p Payload) (any, error) {
		keys, err := reqStringSlice(p, "keys")
		if err != nil {
			return nil, err
		}
		return e.Set.SInter(keys), nil
	},
	"set.sunion": func(e Engines, p Payload) (any, error) {
		keys, err := reqStringSlice(p, "keys")
		if err != nil {
			return nil, err
		}
		return e.Set.SUnion(keys), nil
	},
	"set.sdiff": func(e Engines, p Payload) (any, error) {
		keys, err := reqStringSlice(p, "keys")
		if err != nil {
			return nil, err
		}
		return e.Set.SDiff(keys), nil
	},
	"set.smove": func(e Engines, p Payload) (any, error) {
		src, err := reqString(p, "src")
		if err != nil {
			return nil, err
		}
		dst, err := reqString(p, "dst")
		if err != nil {
			return nil, err
		}
		member, err := reqBytes(p, "member")
		if err != nil {
			return nil, err
		}
		return e.Set.SMove(src, dst, member), nil
	},

	"zset.zadd": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		flags := zset.ZAddFlags{
			NX: optBool(p, "nx", false), XX: optBool(p, "xx", false),
			GT: optBool(p, "gt", false), LT: optBool(p, "lt", false),
			CH: optBool(p, "ch", false),
		}
		if err := zset.ValidateFlags(flags); err != nil {
			return nil, err
		}
		members, ok := p["members"].([]any)
		if !ok {
			return nil, missing("members")
		}
		items := make([]zset.ZAddItem, 0, len(members))
		for _, m := range members {
			pair, ok := m.(map[string]any)
			if !ok {
				return nil, wrongType("members", "array of {member,score}")
			}
			member, err := reqBytes(pair, "member")
			if err != nil {
				return nil, err
			}
			score, err := reqFloat(pair, "score")
			if err != nil {
				return nil, err
			}
			items = append(items, zset.ZAddItem{Member: member, Score: score})
		}
		return e.ZSet.ZAdd(key, flags, items)
	},
	"zset.zincrby": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		member, err := reqBytes(p, "member")
		if err != nil {
			return nil, err
		}
		delta, err := reqFloat(p, "delta")
		if err != nil {
			return nil, err
		}
		return e.ZSet.ZIncrBy(key, member, delta), nil
	},
	"zset.zrem": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		members, err := reqBytesSlice(p, "members")
		if err != nil {
			return nil, err
		}
		return e.ZSet.ZRem(key, members...), nil
	},
	"zset.zscore": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		member, err := reqBytes(p, "member")
		if err != nil {
			return nil, err
		}
		score, ok := e.ZSet.ZScore(key, member)
		if !ok {
			return nil, typederr.New(typederr.NotFound, "member not found")
		}
		return score, nil
	},
	"zset.zcard": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.ZSet.ZCard(key), nil
	},
	"zset.zrange": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		start, end := int(optInt(p, "start", 0)), int(optInt(p, "end", -1))
		if optBool(p, "rev", false) {
			return e.ZSet.ZRevRange(key, start, end), nil
		}
		return e.ZSet.ZRange(key, start, end), nil
	},
	"zset.zrangebyscore": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		min, err := reqFloat(p, "min")
		if err != nil {
			return nil, err
		}
		max, err := reqFloat(p, "max")
		if err != nil {
			return nil, err
		}
		opts := zset.ZRangeByScoreOpts{Offset: int(optInt(p, "offset", 0)), Count: int(optInt(p, "count", -1))}
		if optBool(p, "rev", false) {
			return e.ZSet.ZRevRangeByScore(key, min, max, opts), nil
		}
		return e.ZSet.ZRangeByScore(key, min, max, opts), nil
	},
	"zset.zrank": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		member, err := reqBytes(p, "member")
		if err != nil {
			return nil, err
		}
		rank, ok := e.ZSet.ZRank(key, member)
		if !ok {
			return nil, typederr.New(typederr.NotFound, "member not found")
		}
		return rank, nil
	},
	"zset.zcount": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		min, err := reqFloat(p, "min")
		if err != nil {
			return nil, err
		}
		max, err := reqFloat(p, "max")
		if err != nil {
			return nil, err
		}
		return e.ZSet.ZCount(key, min, max), nil
	},
	"zset.zpopmin": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.ZSet.ZPopMin(key, int(optInt(p, "count", 1))), nil
	},
	"zset.zpopmax": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.ZSet.ZPopMax(key, int(optInt(p, "count", 1))), nil
	},

	"bitmap.setbit": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		offset, err := reqInt(p, "offset")
		if err != nil {
			return nil, err
		}
		bit, err := reqInt(p, "bit")
		if err != nil {
			return nil, err
		}
		return e.Bitmap.SetBit(key, offset, byte(bit))
	},
	"bitmap.getbit": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		offset, err := reqInt(p, "offset")
		if err != nil {
			return nil, err
		}
		return e.Bitmap.GetBit(key, offset)
	},
	"bitmap.bitcount": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		_, hasStart := p["start"]
		return e.Bitmap.BitCount(key, hasStart, int(optInt(p, "start", 0)), int(optInt(p, "end", -1))), nil
	},
	"bitmap.bitpos": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		want, err := reqInt(p, "bit")
		if err != nil {
			return nil, err
		}
		_, hasStart := p["start"]
		return e.Bitmap.BitPos(key, byte(want), hasStart, int(optInt(p, "start", 0)), int(optInt(p, "end", -1))), nil
	},
	"bitmap.bitop": func(e Engines, p Payload) (any, error) {
		opName, err := reqString(p, "op")
		if err != nil {
			return nil, err
		}
		dest, err := reqString(p, "dest")
		if err != nil {
			return nil, err
		}
		srcKeys, err := reqStringSlice(p, "src_keys")
		if err != nil {
			return nil, err
		}
		var op bitmap.BitOp
		switch opName {
		case "and":
			op = bitmap.BitOpAnd
		case "or":
			op = bitmap.BitOpOr
		case "xor":
			op = bitmap.BitOpXor
		case "not":
			op = bitmap.BitOpNot
		default:
			return nil, typederr.Newf(typederr.InvalidValue, "unknown bitop %q", opName)
		}
		return e.Bitmap.Op(op, dest, srcKeys)
	},

	"hll.pfadd": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		elements, err := reqBytesSlice(p, "elements")
		if err != nil {
			return nil, err
		}
		return e.HLL.PFAdd(key, elements...), nil
	},
	"hll.pfcount": func(e Engines, p Payload) (any, error) {
		keys, err := reqStringSlice(p, "keys")
		if err != nil {
			return nil, err
		}
		return e.HLL.PFCount(keys...), nil
	},
	"hll.pfmerge": func(e Engines, p Payload) (any, error) {
		dest, err := reqString(p, "dest")
		if err != nil {
			return nil, err
		}
		srcKeys, err := reqStringSlice(p, "src_keys")
		if err != nil {
			return nil, err
		}
		e.HLL.PFMerge(dest, srcKeys...)
		return nil, nil
	},

	"stream.publish": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		payload, err := reqBytes(p, "payload")
		if err != nil {
			return nil, err
		}
		return e.Stream.Publish(key, payload), nil
	},
	"stream.consume": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		from := uint64(optInt(p, "from_offset", 0))
		limit := int(optInt(p, "limit", 100))
		return e.Stream.Consume(key, from, limit)
	},
	"stream.len": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Stream.Len(key), nil
	},

	"geospatial.geoadd": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		items, ok := p["members"].(map[string]any)
		if !ok {
			return nil, missing("members")
		}
		parsed := make(map[string]struct{ Lon, Lat float64 }, len(items))
		for member, v := range items {
			coord, ok := v.(map[string]any)
			if !ok {
				return nil, wrongType("members", "map of {lon,lat}")
			}
			lon, err := reqFloat(coord, "lon")
			if err != nil {
				return nil, err
			}
			lat, err := reqFloat(coord, "lat")
			if err != nil {
				return nil, err
			}
			parsed[member] = struct{ Lon, Lat float64 }{Lon: lon, Lat: lat}
		}
		return e.Geo.GeoAdd(key, parsed)
	},
	"geospatial.geopos": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		members, err := reqBytesSlice(p, "members")
		if err != nil {
			return nil, err
		}
		return e.Geo.GeoPos(key, members), nil
	},
	"geospatial.geodist": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		m1, err := reqBytes(p, "member1")
		if err != nil {
			return nil, err
		}
		m2, err := reqBytes(p, "member2")
		if err != nil {
			return nil, err
		}
		dist, ok := e.Geo.GeoDist(key, m1, m2, geoUnit(optString(p, "unit", "m")))
		if !ok {
			return nil, typederr.New(typederr.NotFound, "member not found")
		}
		return dist, nil
	},
	"geospatial.georadius": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		lon, err := reqFloat(p, "lon")
		if err != nil {
			return nil, err
		}
		lat, err := reqFloat(p, "lat")
		if err != nil {
			return nil, err
		}
		radius, err := reqFloat(p, "radius")
		if err != nil {
			return nil, err
		}
		opts := geo.RadiusOpts{
			WithDist:  optBool(p, "with_dist", false),
			WithCoord: optBool(p, "with_coord", false),
			Count:     int(optInt(p, "count", 0)),
			Desc:      optBool(p, "desc", false),
		}
		return e.Geo.GeoRadius(key, lon, lat, radius, geoUnit(optString(p, "unit", "m")), opts), nil
	},
	"geospatial.geohash": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		members, err := reqBytesSlice(p, "members")
		if err != nil {
			return nil, err
		}
		return e.Geo.GeoHash(key, members), nil
	},

	"keys.exists": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Keys.Exists(key), nil
	},
	"keys.type": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Keys.Type(key), nil
	},
	"keys.del": func(e Engines, p Payload) (any, error) {
		key, err := reqString(p, "key")
		if err != nil {
			return nil, err
		}
		return e.Keys.Del(key), nil
	},
	"keys.rename": func(e Engines, p Payload) (any, error) {
		src, err := reqString(p, "src")
		if err != nil {
			return nil, err
		}
		dst, err := reqString(p, "dst")
		if err != nil {
			return nil, err
		}
		return nil, e.Keys.Rename(src, dst)
	},
	"keys.renamenx": func(e Engines, p Payload) (any, error) {
		src, err := reqString(p, "src")
		if err != nil {
			return nil, err
		}
		dst, err := reqString(p, "dst")
		if err != nil {
			return nil, err
		}
		return nil, e.Keys.RenameNX(src, dst)
	},
	"keys.copy": func(e Engines, p Payload) (any, error) {
		src, err := reqString(p, "src")
		if err != nil {
			return nil, err
		}
		dst, err := reqString(p, "dst")
		if err != nil {
			return nil, err
		}
		return nil, e.Keys.Copy(src, dst, optBool(p, "replace", false))
	},
	"keys.randomkey": func(e Engines, p Payload) (any, error) {
		key, ok := e.Keys.RandomKey()
		if !ok {
			return nil, typederr.New(typederr.NotFound, "keyspace is empty")
		}
		return key, nil
	},
}

func geoUnit(s string) geo.Unit {
	switch s {
	case "km":
		return geo.Kilometers
	case "mi":
		return geo.Miles
	case "ft":
		return geo.Feet
	default:
		return geo.Meters
	}
}

// mutatingCommands lists every tag whose successful execution changes
// state and therefore must be appended to the WAL and forwarded to
// replicas (spec §4.4.1, §4.5.2). Read-only tags are omitted deliberately.
var mutatingCommands = map[string]bool{
	"kv.set": true, "kv.setnx": true, "kv.del": true, "kv.mset": true,
	"kv.incr": true, "kv.incrbyfloat": true, "kv.append": true,
	"kv.setrange": true, "kv.getset": true,
	"kv.expire": true, "kv.persist": true,

	"hash.hset": true, "hash.hdel": true, "hash.hincrby": true,

	"list.lpush": true, "list.rpush": true, "list.lpop": true, "list.rpop": true,
	"list.lrem": true, "list.rpoplpush": true,

	"set.sadd": true, "set.srem": true, "set.smove": true,

	"zset.zadd": true, "zset.zincrby": true, "zset.zrem": true,
	"zset.zpopmin": true, "zset.zpopmax": true,

	"bitmap.setbit": true, "bitmap.bitop": true,

	"hll.pfadd": true, "hll.pfmerge": true,

	"stream.publish": true,

	"geospatial.geoadd": true,

	"keys.del": true, "keys.rename": true, "keys.renamenx": true, "keys.copy": true,
}
