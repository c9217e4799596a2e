package syncengine

import (
	"context"
	"fmt"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/provider"
)

// Filter can drop or rewrite a change before it reaches the destination
// provider's ReceiveChanges. Returning ok=false drops the change.
// Continuous sync uses this to suppress echoing a change back onto the
// provider that originated it.
type Filter func(provider.Change) (change provider.Change, ok bool)

// Sync compares src against dst, then pipes the resulting plan through
// src.SendChanges into dst.ReceiveChanges. Scheduled paths are
// re-encrypted into src's ciphertext namespace before SendChanges is
// called, since that provider is what actually reads them back off
// disk; the key roles are then reassigned for the transfer itself, so
// that ReceiveChanges strips src's encryption and applies dst's: a
// provider's persistent state is never mutated, only the KeyPolicy
// passed into this one call.
func Sync(ctx context.Context, src, dst provider.Provider, opts Options, srcKey, dstKey *filecrypto.Key, filter Filter) error {
	plan, err := Compare(ctx, src, dst, opts, srcKey, dstKey)
	if err != nil {
		return err
	}
	return Apply(ctx, src, dst, plan, srcKey, dstKey, filter)
}

// Apply re-encrypts a previously computed Plan into src's ciphertext
// namespace and transfers it into dst. Splitting this out from Sync
// lets a caller recompute the plan once and reuse it (continuous sync's
// debounced triggers do not re-Compare on every filesystem event).
func Apply(ctx context.Context, src, dst provider.Provider, plan *Plan, srcKey, dstKey *filecrypto.Key, filter Filter) error {
	deletes, err := encryptAll(srcKey, plan.Deletes)
	if err != nil {
		return err
	}
	dirCopies, err := encryptAll(srcKey, plan.DirCopies)
	if err != nil {
		return err
	}
	fileCopies, err := encryptAll(srcKey, plan.FileCopies)
	if err != nil {
		return err
	}

	policy := provider.KeyPolicy{DecryptKey: srcKey, EncryptKey: dstKey}

	changes, errs := src.SendChanges(ctx, deletes, dirCopies, fileCopies)
	if filter != nil {
		changes = applyFilter(ctx, changes, filter)
	}

	recvErr := dst.ReceiveChanges(ctx, changes, policy)
	sendErr := <-errs
	if sendErr != nil {
		return fmt.Errorf("syncengine: send: %w", sendErr)
	}
	if recvErr != nil {
		return fmt.Errorf("syncengine: receive: %w", recvErr)
	}
	return nil
}

// applyFilter interposes filter between a SendChanges stream and the
// channel handed to ReceiveChanges, draining the original channel fully
// even after ctx is done so the producer goroutine never blocks forever
// on a send.
func applyFilter(ctx context.Context, in <-chan provider.Change, filter Filter) <-chan provider.Change {
	out := make(chan provider.Change)
	go func() {
		defer close(out)
		for c := range in {
			filtered, ok := filter(c)
			if !ok {
				continue
			}
			select {
			case out <- filtered:
			case <-ctx.Done():
				for range in {
				}
				return
			}
		}
	}()
	return out
}
