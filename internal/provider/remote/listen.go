package remote

import (
	"context"

	"github.com/rescale/blindbackup/internal/provider"
)

// ListenChanges registers a server-side observer always rooted at "",
// independent of this provider's own root: the wire protocol observes
// the whole backup tree and leaves relpath filtering to the caller,
// then long-polls pollchanges in a loop, fanning out delivered events
// to onChange until stopped.
func (p *Provider) ListenChanges(ctx context.Context, onChange func(provider.Event)) (*provider.ListenerHandle, error) {
	var observerUID string
	params := map[string]interface{}{"root": ""}
	if err := p.client.Call(ctx, "listenchanges", params, nil, &observerUID); err != nil {
		return nil, err
	}

	handle := provider.NewListenerHandle(p.uid)

	go func() {
		defer handle.MarkDone()
		for {
			select {
			case <-handle.StopChannel():
				return
			case <-ctx.Done():
				return
			default:
			}

			pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
			var events [][3]string
			err := p.client.Call(pollCtx, "pollchanges", map[string]interface{}{"uid": observerUID}, nil, &events)
			cancel()
			if err != nil {
				if ctx.Err() != nil || handle.IsStopping() {
					return
				}
				continue
			}
			for _, e := range events {
				onChange(provider.Event{
					FullPath:      e[0],
					Kind:          parseEventKind(e[1]),
					OriginatorUID: e[2],
				})
			}
		}
	}()

	return handle, nil
}

func parseEventKind(s string) provider.EventKind {
	switch s {
	case "DIRECTORY":
		return provider.EventDirectory
	case "DELETE":
		return provider.EventDelete
	default:
		return provider.EventFile
	}
}
