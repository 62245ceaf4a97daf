package kv

import (
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
)

const redisTimeout = 2 * time.Second

// Redis is a [Store] backed by a redis server. Keys are namespaced with a prefix.
// A connection is dialed per operation.
type Redis struct {
	dial   func() (redis.Conn, error)
	prefix string
}

// DialRedis returns a store using the redis server at addr ("host:port").
func DialRedis(addr, prefix string) *Redis {
	return NewRedis(func() (redis.Conn, error) {
		return redis.Dial("tcp", addr,
			redis.DialConnectTimeout(redisTimeout),
			redis.DialReadTimeout(redisTimeout),
			redis.DialWriteTimeout(redisTimeout),
		)
	}, prefix)
}

// NewRedis returns a store that obtains connections from dial.
func NewRedis(dial func() (redis.Conn, error), prefix string) *Redis {
	return &Redis{dial: dial, prefix: prefix}
}

func (r *Redis) Get(key string) ([]byte, error) {
	conn, err := r.dial()
	if err != nil {
		return nil, errors.Wrap(err, "redis dial")
	}
	defer conn.Close()
	v, err := redis.Bytes(conn.Do("GET", r.prefix+key))
	if err == redis.ErrNil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "redis GET %q", key)
	}
	return v, nil
}

func (r *Redis) Set(key string, value []byte) error {
	conn, err := r.dial()
	if err != nil {
		return errors.Wrap(err, "redis dial")
	}
	defer conn.Close()
	_, err = conn.Do("SET", r.prefix+key, value)
	return errors.Wrapf(err, "redis SET %q", key)
}

func (r *Redis) Delete(key string) error {
	return r.DeleteAll([]string{key})
}

// SetAll writes all entries in a MULTI/EXEC transaction.
func (r *Redis) SetAll(entries []Entry) error {
	conn, err := r.dial()
	if err != nil {
		return errors.Wrap(err, "redis dial")
	}
	defer conn.Close()
	if err = conn.Send("MULTI"); err != nil {
		return errors.Wrap(err, "redis MULTI")
	}
	for _, e := range entries {
		if err = conn.Send("SET", r.prefix+e.Key, e.Value); err != nil {
			conn.Do("DISCARD")
			return errors.Wrapf(err, "redis SET %q", e.Key)
		}
	}
	_, err = conn.Do("EXEC")
	return errors.Wrap(err, "redis EXEC")
}

// DeleteAll removes all keys with a single DEL command.
func (r *Redis) DeleteAll(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	conn, err := r.dial()
	if err != nil {
		return errors.Wrap(err, "redis dial")
	}
	defer conn.Close()
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = r.prefix + k
	}
	_, err = conn.Do("DEL", args...)
	return errors.Wrap(err, "redis DEL")
}
