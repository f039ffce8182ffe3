package accessory

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

type remoteGetter[T any] interface {
	OnValueRemoteGet(func() T)
}

type remoteUpdater[T any] interface {
	OnValueRemoteUpdate(func(T))
}

type remoteCharacteristic[T any] interface {
	remoteGetter[T]
	remoteUpdater[T]
}

// reader answers controller reads of one characteristic. While the device is offline
// hc has no way to report an error status, so the last value read is returned and the
// fault characteristic is raised instead.
//
// hc hands what a getter returns to the remote update callbacks whenever it differs
// from the stored value, so the answer is remembered until the next update, and an update
// carrying it is an echo as long as no set or refresh touched the characteristics since.
type reader[T comparable] struct {
	a     *Accessory
	fn    func() T
	last  T
	armed bool
	gen   uint64
}

func (r *reader[T]) read() T {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	if err := r.a.get(func() { r.last = r.fn() }); err != nil {
		log.Debug().Str("device", r.a.device.Barcode).Msg("read while offline")
	}
	r.armed, r.gen = true, r.a.gen
	return r.last
}

func (r *reader[T]) echo(v T) bool {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	e := r.armed && r.gen == r.a.gen && r.last == v
	r.armed = false
	return e
}

func bindGet[T comparable](a *Accessory, c remoteGetter[T], fn func() T) *reader[T] {
	r := &reader[T]{a: a, fn: fn, last: fn()}
	c.OnValueRemoteGet(r.read)
	return r
}

// HandleGet answers controller reads of c from fn
func HandleGet[T comparable](a *Accessory, c remoteGetter[T], fn func() T) {
	bindGet(a, c, fn)
}

// Handle answers reads of c from get and routes controller writes through the gated Set
func Handle[T comparable](a *Accessory, c remoteCharacteristic[T], get func() T, set func(ctx context.Context, v T) error) {
	r := bindGet(a, c, get)
	c.OnValueRemoteUpdate(func(v T) {
		if r.echo(v) {
			log.Trace().Str("device", a.UUID.String()).Interface("value", v).Msg("read echo dropped")
			return
		}
		err := a.Set(func(ctx context.Context) error { return set(ctx, v) })
		switch {
		case err == nil:
		case errors.Is(err, ErrCommunicationFailure):
			log.Warn().Str("device", a.UUID.String()).Interface("value", v).Msg("set ignored, device offline")
		default:
			log.Error().Err(err).Str("device", a.UUID.String()).Interface("value", v).Msg("set rejected")
		}
	})
}
