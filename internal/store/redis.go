package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisOptions configures a Redis store client.
type RedisOptions struct {
	// Prefix namespaces every key and channel. Defaults to "draftsync".
	Prefix string
	// TTL expires values and lists that are not written again. Zero keeps them forever.
	TTL time.Duration
	// LeaseTTL is how long this client counts as connected without refreshing. Defaults to 15s.
	LeaseTTL time.Duration
	// ClientID identifies this connection for disconnect hooks. Defaults to a random id.
	ClientID string
}

// Redis is a Store backed by Redis. Values are JSON strings, lists are Redis lists, and every write
// is followed by a PUBLISH on the path's channel so subscribers see it.
//
// Disconnect hooks are kept in a hash together with a lease key per client. A live client refreshes
// its lease; SweepExpired applies the hooks of clients whose lease ran out.
type Redis struct {
	rdb  *redis.Client
	opts RedisOptions
	log  logrus.FieldLogger

	mu        sync.Mutex
	leasing   bool
	stopLease chan struct{}
	leaseDone chan struct{}
}

var _ Store = (*Redis)(nil)

const updateAttempts = 5

// NewRedis wraps rdb. The caller owns rdb and closes it after Close.
func NewRedis(rdb *redis.Client, opts RedisOptions, log logrus.FieldLogger) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "draftsync"
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 15 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{
		rdb:  rdb,
		opts: opts,
		log:  log.WithField("client", opts.ClientID),
	}
}

// ClientID returns the id this client's disconnect hooks are registered under.
func (r *Redis) ClientID() string {
	return r.opts.ClientID
}

func (r *Redis) valueKey(path string) string { return r.opts.Prefix + ":v:" + path }
func (r *Redis) listKey(path string) string  { return r.opts.Prefix + ":q:" + path }
func (r *Redis) channel(path string) string  { return r.opts.Prefix + ":c:" + path }
func (r *Redis) hooksKey() string            { return r.opts.Prefix + ":presence:hooks" }
func (r *Redis) clientsKey() string          { return r.opts.Prefix + ":presence:clients" }
func (r *Redis) clientKey(id string) string  { return r.opts.Prefix + ":presence:client:" + id }
func (r *Redis) leaseKey(id string) string   { return r.opts.Prefix + ":presence:lease:" + id }

func (r *Redis) pathOf(key, kind string) string {
	return strings.TrimPrefix(key, r.opts.Prefix+":"+kind+":")
}

func transient(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(apperr.CodeTransient, "redis "+op, err)
}

func (r *Redis) publish(ctx context.Context, p redis.Pipeliner, c Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	p.Publish(ctx, r.channel(c.Path), b)
	return nil
}

func (r *Redis) Set(ctx context.Context, path string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.valueKey(path), b, r.opts.TTL)
		return r.publish(ctx, p, Change{Path: path, Value: b})
	})
	if err != nil {
		return transient("set", err)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, path string, value any) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	ok, err := r.rdb.SetNX(ctx, r.valueKey(path), b, r.opts.TTL).Result()
	if err != nil {
		return false, transient("setnx", err)
	}
	if !ok {
		return false, nil
	}
	msg, _ := json.Marshal(Change{Path: path, Value: b})
	if err := r.rdb.Publish(ctx, r.channel(path), msg).Err(); err != nil {
		return true, transient("publish", err)
	}
	return true, nil
}

func (r *Redis) Get(ctx context.Context, path string, dst any) (bool, error) {
	b, err := r.rdb.Get(ctx, r.valueKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, transient("get", err)
	}
	return true, json.Unmarshal(b, dst)
}

func (r *Redis) Update(ctx context.Context, path string, patch map[string]any) error {
	key := r.valueKey(path)
	var merged []byte
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		merged, err = merge(cur, patch)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, merged, r.opts.TTL)
			return nil
		})
		return err
	}

	for i := 0; i < updateAttempts; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotObject) {
			return err
		}
		if err != nil {
			return transient("update", err)
		}
		b, _ := json.Marshal(Change{Path: path, Value: merged})
		if err := r.rdb.Publish(ctx, r.channel(path), b).Err(); err != nil {
			return transient("publish", err)
		}
		return nil
	}
	return apperr.New(apperr.CodeTransient, fmt.Sprintf("redis update %s: too much contention", path))
}

func (r *Redis) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, transient("scan", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	values, err := r.scan(ctx, r.valueKey(path)+"/*")
	if err != nil {
		return err
	}
	lists, err := r.scan(ctx, r.listKey(path)+"/*")
	if err != nil {
		return err
	}
	values = append(values, r.valueKey(path))
	lists = append(lists, r.listKey(path))

	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, append(values, lists...)...)
		for _, k := range values {
			if err := r.publish(ctx, p, Change{Path: r.pathOf(k, "v"), Deleted: true}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return transient("delete", err)
	}
	return nil
}

func (r *Redis) Children(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	keys, err := r.scan(ctx, r.valueKey(prefix)+"/*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, transient("mget", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[r.pathOf(keys[i], "v")] = json.RawMessage(s)
		}
	}
	return out, nil
}

func (r *Redis) Subscribe(ctx context.Context, pattern string, fn func(Change)) (func(), error) {
	var sub *redis.PubSub
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	wildcard = wildcard && strings.HasSuffix(prefix, "/")
	if wildcard {
		sub = r.rdb.PSubscribe(ctx, r.channel(pattern))
	} else {
		sub = r.rdb.Subscribe(ctx, r.channel(pattern))
	}
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, transient("subscribe", err)
	}

	// Read what is already there after the subscription is live so nothing written in between
	// is missed. A value may then be delivered twice; consumers gate on versions.
	existing := map[string]json.RawMessage{}
	if wildcard {
		children, err := r.Children(ctx, strings.TrimSuffix(prefix, "/"))
		if err != nil {
			_ = sub.Close()
			return nil, err
		}
		existing = children
	} else {
		var raw json.RawMessage
		ok, err := r.Get(ctx, pattern, &raw)
		if err != nil {
			_ = sub.Close()
			return nil, err
		}
		if ok {
			existing[pattern] = raw
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		paths := make([]string, 0, len(existing))
		for p := range existing {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fn(Change{Path: p, Value: existing[p]})
		}

		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed change")
					continue
				}
				fn(c)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
			<-done
		})
	}, nil
}

func (r *Redis) Push(ctx context.Context, path string, value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	e := Entry{ID: uuid.NewString(), Value: b}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, r.listKey(path), raw)
		if r.opts.TTL > 0 {
			p.Expire(ctx, r.listKey(path), r.opts.TTL)
		}
		return r.publish(ctx, p, Change{Path: path, Value: raw})
	})
	if err != nil {
		return "", transient("push", err)
	}
	return e.ID, nil
}

func (r *Redis) Pop(ctx context.Context, path string) (Entry, bool, error) {
	b, err := r.rdb.LPop(ctx, r.listKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, transient("pop", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("store: malformed list entry at %s: %w", path, err)
	}
	return e, true, nil
}

type redisHook struct {
	Client string         `json:"client"`
	Path   string         `json:"path"`
	Patch  map[string]any `json:"patch"`
}

func (r *Redis) OnDisconnect(ctx context.Context, path string, patch map[string]any) (func(), error) {
	id := uuid.NewString()
	b, err := json.Marshal(redisHook{Client: r.opts.ClientID, Path: path, Patch: patch})
	if err != nil {
		return nil, err
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.hooksKey(), id, b)
		p.SAdd(ctx, r.clientKey(r.opts.ClientID), id)
		p.SAdd(ctx, r.clientsKey(), r.opts.ClientID)
		p.Set(ctx, r.leaseKey(r.opts.ClientID), time.Now().UnixMilli(), r.opts.LeaseTTL)
		return nil
	})
	if err != nil {
		return nil, transient("on-disconnect", err)
	}

	r.mu.Lock()
	if !r.leasing {
		r.leasing = true
		r.stopLease = make(chan struct{})
		r.leaseDone = make(chan struct{})
		go r.refreshLease(r.stopLease, r.leaseDone)
	}
	r.mu.Unlock()

	return func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.rdb.HDel(cctx, r.hooksKey(), id)
		r.rdb.SRem(cctx, r.clientKey(r.opts.ClientID), id)
	}, nil
}

func (r *Redis) refreshLease(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.opts.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.LeaseTTL/3)
			err := r.rdb.Set(ctx, r.leaseKey(r.opts.ClientID), time.Now().UnixMilli(), r.opts.LeaseTTL).Err()
			cancel()
			if err != nil {
				r.log.WithError(err).Warn("failed to refresh presence lease")
			}
		}
	}
}

// halt stops refreshing the lease without running hooks, as a crashed process would.
func (r *Redis) halt() {
	r.mu.Lock()
	stop, done := r.stopLease, r.leaseDone
	r.leasing = false
	r.stopLease, r.leaseDone = nil, nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Close stops the lease and applies this client's disconnect hooks.
func (r *Redis) Close(ctx context.Context) error {
	r.halt()
	_, err := r.fire(ctx, r.opts.ClientID)
	return err
}

// SweepExpired applies the disconnect hooks of every client whose lease has expired and returns how
// many hooks were applied.
func (r *Redis) SweepExpired(ctx context.Context) (int, error) {
	clients, err := r.rdb.SMembers(ctx, r.clientsKey()).Result()
	if err != nil {
		return 0, transient("smembers", err)
	}
	total := 0
	for _, id := range clients {
		alive, err := r.rdb.Exists(ctx, r.leaseKey(id)).Result()
		if err != nil {
			return total, transient("exists", err)
		}
		if alive > 0 {
			continue
		}
		n, err := r.fire(ctx, id)
		total += n
		if err != nil {
			return total, err
		}
		r.log.WithFields(logrus.Fields{"expired": id, "hooks": n}).Info("applied disconnect hooks")
	}
	return total, nil
}

func (r *Redis) fire(ctx context.Context, client string) (int, error) {
	ids, err := r.rdb.SMembers(ctx, r.clientKey(client)).Result()
	if err != nil {
		return 0, transient("smembers", err)
	}
	n := 0
	for _, id := range ids {
		b, err := r.rdb.HGet(ctx, r.hooksKey(), id).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, transient("hget", err)
		}
		var h redisHook
		if err := json.Unmarshal(b, &h); err != nil {
			r.log.WithError(err).WithField("hook", id).Warn("dropping malformed disconnect hook")
		} else if err := r.Update(ctx, h.Path, h.Patch); err != nil {
			return n, err
		} else {
			n++
		}
		r.rdb.HDel(ctx, r.hooksKey(), id)
	}
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.clientKey(client), r.leaseKey(client))
		p.SRem(ctx, r.clientsKey(), client)
		return nil
	})
	if err != nil {
		return n, transient("presence cleanup", err)
	}
	return n, nil
}
