// Package services – IndexBuilder
//
// IndexBuilder keeps the username→id and email→id lookups in the Index store
// consistent with the identity records in the Primary store. The Index store
// is fully derived: RebuildFull recomputes it from a scan of every user:<id>
// record and defines what "consistent" means. Incremental operations
// (IndexOne, ReindexField, Reserve, Release) must converge to the same image.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"github.com/tbourn/go-identity-backend/internal/store"
)

// IndexImage is the content of the Index store: index hash key → value → id.
type IndexImage map[string]map[string]string

// Size returns the total number of entries.
func (img IndexImage) Size() int {
	n := 0
	for _, h := range img {
		n += len(h)
	}
	return n
}

// RebuildStats describes one full rebuild.
type RebuildStats struct {
	Records    int
	Entries    int
	Duplicates int
	Duration   time.Duration
}

// IndexBuilder maintains the uniqueness index.
type IndexBuilder struct {
	Primary store.Store
	Index   store.Store

	// admin is held exclusively by RebuildFull and shared by identity
	// mutations of this process. Rebuilds from another process are not
	// covered and must run while no server writes.
	admin sync.RWMutex
}

// NewIndexBuilder wires an IndexBuilder to its two stores.
func NewIndexBuilder(primary, index store.Store) *IndexBuilder {
	return &IndexBuilder{Primary: primary, Index: index}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
}

// holdShared blocks while a rebuild is running and keeps new rebuilds out
// until the returned func is called.
func (b *IndexBuilder) holdShared() func() {
	b.admin.RLock()
	return b.admin.RUnlock
}

// Compute scans the Primary store and returns the index image it implies,
// without writing anything. When two records claim the same value the
// earliest id wins; later claimants are counted in dups.
func (b *IndexBuilder) Compute(ctx context.Context) (img IndexImage, records, dups int, err error) {
	keys, err := b.Primary.ScanPrefix(ctx, domain.UserKeyPrefix)
	if err != nil {
		return nil, 0, 0, unavailable(err)
	}
	img = IndexImage{
		domain.UsernameIndexKey: {},
		domain.EmailIndexKey:    {},
	}
	log := zerolog.Ctx(ctx)
	for _, k := range keys {
		id, ok := domain.IDFromUserKey(k)
		if !ok {
			continue
		}
		h, err := b.Primary.HGetAll(ctx, k)
		if err != nil {
			return nil, 0, 0, unavailable(err)
		}
		records++
		for _, f := range []domain.Field{domain.FieldUsername, domain.FieldEmail} {
			v := h[string(f)]
			if v == "" {
				continue
			}
			ik, _ := domain.IndexKey(f)
			if owner, taken := img[ik][v]; taken {
				dups++
				log.Warn().Str("field", string(f)).Str("id", id).Str("owner", owner).
					Msg("duplicate value in primary store; keeping earliest")
				continue
			}
			img[ik][v] = id
		}
	}
	return img, records, dups, nil
}

// RebuildFull wipes the Index store and regenerates it from the Primary
// store. It holds the administrative lock for its whole duration.
func (b *IndexBuilder) RebuildFull(ctx context.Context) (RebuildStats, error) {
	ctx, span := otel.Tracer("services/IndexBuilder").Start(ctx, "RebuildFull")
	defer span.End()

	b.admin.Lock()
	defer b.admin.Unlock()

	// The image is computed before the wipe so a failed scan leaves the
	// current index in place.
	start := time.Now()
	img, records, dups, err := b.Compute(ctx)
	if err != nil {
		return RebuildStats{}, err
	}
	if err := b.wipe(ctx); err != nil {
		return RebuildStats{}, err
	}
	for ik, h := range img {
		if err := b.Index.HSet(ctx, ik, h); err != nil {
			return RebuildStats{}, unavailable(err)
		}
		indexEntries.WithLabelValues(ik).Set(float64(len(h)))
	}

	st := RebuildStats{Records: records, Entries: img.Size(), Duplicates: dups, Duration: time.Since(start)}
	indexRebuildSeconds.Observe(st.Duration.Seconds())
	span.SetAttributes(attribute.Int("index.records", st.Records), attribute.Int("index.entries", st.Entries))
	zerolog.Ctx(ctx).Info().
		Int("records", st.Records).
		Int("entries", st.Entries).
		Int("duplicates", st.Duplicates).
		Dur("took", st.Duration).
		Msg("index rebuilt")
	return st, nil
}

// Wipe clears the whole Index store.
func (b *IndexBuilder) Wipe(ctx context.Context) error {
	b.admin.Lock()
	defer b.admin.Unlock()
	return b.wipe(ctx)
}

func (b *IndexBuilder) wipe(ctx context.Context) error {
	if err := b.Index.FlushAll(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// IndexOne writes the username and email entries of one identity.
func (b *IndexBuilder) IndexOne(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("services/IndexBuilder").Start(ctx, "IndexOne",
		trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	h, err := b.Primary.HGetAll(ctx, domain.UserKey(id))
	if err != nil {
		return unavailable(err)
	}
	if len(h) == 0 {
		return ErrNotFound
	}
	batch := store.NewBatch()
	for _, f := range []domain.Field{domain.FieldUsername, domain.FieldEmail} {
		if v := h[string(f)]; v != "" {
			ik, _ := domain.IndexKey(f)
			batch.Set(ik, v, id)
		}
	}
	if err := b.Index.Exec(ctx, batch); err != nil {
		return unavailable(err)
	}
	return nil
}

// ReindexField moves the f mapping of id from oldValue to newValue in a
// single batch. The old entry is only removed while it still points at id.
func (b *IndexBuilder) ReindexField(ctx context.Context, f domain.Field, id, oldValue, newValue string) error {
	ik, err := domain.IndexKey(f)
	if err != nil {
		return invalid("%v", err)
	}
	if oldValue == newValue {
		return nil
	}
	batch := store.NewBatch()
	if oldValue != "" {
		owner, err := b.Index.HGet(ctx, ik, oldValue)
		switch {
		case errors.Is(err, store.ErrNil):
		case err != nil:
			return unavailable(err)
		case owner == id:
			batch.ExpectValue(ik, oldValue, id).Del(ik, oldValue)
		}
	}
	batch.Set(ik, newValue, id)

	err = b.Index.Exec(ctx, batch)
	if errors.Is(err, store.ErrConflict) {
		// The old entry changed owner between read and write; only claim
		// the new value.
		err = b.Index.Exec(ctx, store.NewBatch().Set(ik, newValue, id))
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Lookup returns the id owning value for field f.
func (b *IndexBuilder) Lookup(ctx context.Context, f domain.Field, value string) (id string, found bool, err error) {
	ik, err := domain.IndexKey(f)
	if err != nil {
		return "", false, invalid("%v", err)
	}
	id, err = b.Index.HGet(ctx, ik, value)
	if errors.Is(err, store.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable(err)
	}
	return id, true, nil
}

// Reserve claims value for id with an atomic set-if-absent. It returns false
// when another id already owns the value. Reserving a value id already owns
// succeeds.
func (b *IndexBuilder) Reserve(ctx context.Context, f domain.Field, value, id string) (bool, error) {
	ik, err := domain.IndexKey(f)
	if err != nil {
		return false, invalid("%v", err)
	}
	ok, err := b.Index.HSetNX(ctx, ik, value, id)
	if err != nil {
		return false, unavailable(err)
	}
	if ok {
		return true, nil
	}
	owner, _, err := b.Lookup(ctx, f, value)
	if err != nil {
		return false, err
	}
	return owner == id, nil
}

// Release drops a reservation made by id. Entries owned by other ids are
// left alone.
func (b *IndexBuilder) Release(ctx context.Context, f domain.Field, value, id string) error {
	ik, err := domain.IndexKey(f)
	if err != nil {
		return invalid("%v", err)
	}
	err = b.Index.Exec(ctx, store.NewBatch().ExpectValue(ik, value, id).Del(ik, value))
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return unavailable(err)
	}
	return nil
}

// Snapshot returns the current content of the Index store.
func (b *IndexBuilder) Snapshot(ctx context.Context) (IndexImage, error) {
	img := IndexImage{}
	for _, ik := range []string{domain.UsernameIndexKey, domain.EmailIndexKey} {
		h, err := b.Index.HGetAll(ctx, ik)
		if err != nil {
			return nil, unavailable(err)
		}
		img[ik] = h
	}
	return img, nil
}
