// Package playback defines the media element the crossfade engine drives.
package playback

import (
	"context"
	"time"
)

// Element is one playable surface (a <video> tag in the browser player, a
// simulated clip in-process). Implementations must be safe to call from any
// goroutine; Play may block until the element confirms playback started.
type Element interface {
	// SetSource assigns the clip locator. It does not start loading.
	SetSource(locator string)
	SetLoop(loop bool)
	SetMuted(muted bool)
	// Load begins buffering the assigned source.
	Load()
	// Play starts playback and reports whether it actually started.
	Play(ctx context.Context) error
	Pause()
	// Seek moves the playhead; Seek(0) rewinds.
	Seek(pos time.Duration)
	// SetOpacity sets visibility in [0, 1].
	SetOpacity(opacity float64)
	// OnEnded registers the callback fired when non-looping playback reaches
	// its natural end. Looping playback never fires it.
	OnEnded(fn func())
}
