package unit

import (
	"context"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// defaultStoreTimeout bounds shared-store round trips.
const defaultStoreTimeout = 5 * time.Second

// Store is the unit-side client for the controller's shared key-value
// store. Every operation is one correlated round trip.
type Store struct {
	unit *Unit
}

// Get returns the value for a key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	result, err := s.roundTrip(ctx, types.StoreGet, types.StorePayload{Key: key}, 0)
	if err != nil {
		return nil, false, err
	}

	return result.Value, result.Found, nil
}

// Set stores a value under a key.
//
// A positive ttl expires the entry; zero keeps it until deleted. The value
// must be transmittable.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := types.CheckPayload(value); err != nil {
		return err
	}

	_, err := s.roundTrip(ctx, types.StoreSet, types.StorePayload{Key: key, Value: value}, ttl)

	return err
}

// Has reports whether a key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	result, err := s.roundTrip(ctx, types.StoreHas, types.StorePayload{Key: key}, 0)
	if err != nil {
		return false, err
	}

	return result.Found, nil
}

// Delete removes a key. Returns whether the key existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	result, err := s.roundTrip(ctx, types.StoreDelete, types.StorePayload{Key: key}, 0)
	if err != nil {
		return false, err
	}

	return result.Found, nil
}

func (s *Store) roundTrip(ctx context.Context, op string, payload types.StorePayload, ttl time.Duration) (types.StorePayload, error) {
	u := s.unit

	nonce := u.nonces.Next()
	ch := u.reqs.Add(nonce)

	msg := types.Message{
		Type:    types.MsgStoreOp,
		Nonce:   nonce,
		From:    u.info.UnitID,
		To:      types.ControllerID,
		Name:    op,
		Payload: payload,
	}
	if ttl > 0 {
		msg.TTLMillis = ttl.Milliseconds()
	}

	if err := u.send(msg); err != nil {
		u.reqs.Abandon(nonce)

		return types.StorePayload{}, err
	}

	data, err := u.await(ctx, nonce, ch, u.storeTimeout)
	if err != nil {
		return types.StorePayload{}, err
	}

	return types.DecodeStorePayload(data)
}
