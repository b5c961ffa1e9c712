// Package storage persists game saves so that a game can be restored after it was removed or the server
// restarted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkg.world.dev/ensemble/codec"
	"pkg.world.dev/ensemble/state"
)

var ErrSaveNotFound = eris.New("save not found")

// Snapshot is everything needed to bring a game back: the job list lives inside State.
type Snapshot struct {
	ID      string     `json:"id"`
	Mode    string     `json:"mode"`
	State   state.Tree `json:"state"`
	SavedAt int64      `json:"savedAt"`
}

// SaveStore keeps snapshots by game id.
type SaveStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

var _ SaveStore = (*RedisSaveStore)(nil)

// RedisSaveStore stores each snapshot as one JSON value under ensemble:<namespace>:save:<id>.
type RedisSaveStore struct {
	client    redis.Cmdable
	namespace string
	tracer    trace.Tracer
}

func NewRedisSaveStore(client redis.Cmdable, namespace string) *RedisSaveStore {
	return &RedisSaveStore{
		client:    client,
		namespace: namespace,
		tracer:    otel.Tracer("redis"),
	}
}

func (r *RedisSaveStore) prefix() string {
	return fmt.Sprintf("%s:%s:save:", state.Framework, r.namespace)
}

func (r *RedisSaveStore) key(id string) string {
	return r.prefix() + id
}

func (r *RedisSaveStore) Save(ctx context.Context, snap Snapshot) (err error) {
	ctx, span := r.tracer.Start(ctx, "redis.save", trace.WithAttributes(attribute.String("game_id", snap.ID)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, eris.ToString(err, true))
			span.RecordError(err)
		}
		span.End()
	}()

	if snap.ID == "" {
		return eris.New("snapshot has no id")
	}
	bz, err := codec.Encode(snap)
	if err != nil {
		return eris.Wrapf(err, "failed to encode save %q", snap.ID)
	}
	return eris.Wrapf(r.client.Set(ctx, r.key(snap.ID), bz, 0).Err(), "failed to store save %q", snap.ID)
}

func (r *RedisSaveStore) Load(ctx context.Context, id string) (snap Snapshot, err error) {
	ctx, span := r.tracer.Start(ctx, "redis.load", trace.WithAttributes(attribute.String("game_id", id)))
	defer func() {
		if err != nil && !errors.Is(err, ErrSaveNotFound) {
			span.SetStatus(codes.Error, eris.ToString(err, true))
			span.RecordError(err)
		}
		span.End()
	}()

	bz, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, eris.Wrapf(ErrSaveNotFound, "game %q", id)
	}
	if err != nil {
		return snap, eris.Wrapf(err, "failed to read save %q", id)
	}
	snap, err = codec.Decode[Snapshot](bz)
	if err != nil {
		return snap, eris.Wrapf(err, "save %q is corrupt", id)
	}
	if snap.State == nil {
		snap.State = state.Tree{}
	}
	return snap, nil
}

func (r *RedisSaveStore) Delete(ctx context.Context, id string) error {
	return eris.Wrapf(r.client.Del(ctx, r.key(id)).Err(), "failed to delete save %q", id)
}

// List returns the ids of every stored save, sorted.
func (r *RedisSaveStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, r.prefix()+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), r.prefix()))
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to list saves")
	}
	sort.Strings(ids)
	return ids, nil
}
