// Package playback holds the client-side queue of synthesized speech.
package playback

import (
	"sync"

	"github.com/google/uuid"

	"yuzu/interviewer/internal/protocol"
)

// Item is one queued chunk together with the id the player must report back.
type Item struct {
	ID    string
	Chunk protocol.AudioChunk
}

// Player starts playback of an item without blocking. It later reports the
// outcome through Queue.OnPlaybackEnded or Queue.OnPlaybackError using the
// item's ID, never from inside Play. Stop halts whatever is playing; a
// stopped item need not report.
type Player interface {
	Play(item Item) error
	Stop()
}

// Queue plays chunks strictly in order, one at a time.
type Queue struct {
	mu      sync.Mutex
	player  Player
	pending []Item
	current *Item
	// epoch advances on every flush; a Play that straddles one is stopped.
	epoch   uint64
	onIdle  func()

	// serializes Play so a late stop cannot hit a newer item
	playMu sync.Mutex
}

// NewQueue returns a queue driving player. onIdle, when set, is called each
// time the AI stops speaking: the queue drained naturally or was flushed.
func NewQueue(player Player, onIdle func()) *Queue {
	return &Queue{player: player, onIdle: onIdle}
}

// Enqueue appends a chunk and starts it if nothing is playing.
func (q *Queue) Enqueue(chunk protocol.AudioChunk) string {
	id := chunk.ID
	if id == "" {
		id = uuid.NewString()
	}
	q.mu.Lock()
	q.pending = append(q.pending, Item{ID: id, Chunk: chunk})
	start := q.current == nil
	q.mu.Unlock()
	if start {
		q.advance()
	}
	return id
}

// OnPlaybackEnded marks the current item finished and moves on.
func (q *Queue) OnPlaybackEnded(id string) {
	if q.finish(id) {
		q.advance()
	}
}

// OnPlaybackError treats a failed item as finished so the queue never stalls.
func (q *Queue) OnPlaybackError(id string, err error) {
	if q.finish(id) {
		metricPlayErrors.Inc()
		q.advance()
	}
}

// Flush drops everything queued and stops current playback. Flushing an
// idle queue is a no-op.
func (q *Queue) Flush() {
	q.mu.Lock()
	busy := q.current != nil || len(q.pending) > 0
	playing := q.current != nil
	q.pending = nil
	q.current = nil
	if busy {
		q.epoch++
	}
	q.mu.Unlock()
	if !busy {
		return
	}
	if playing {
		q.player.Stop()
	}
	metricFlushes.Inc()
	q.idle()
}

// Len is the number of items waiting or playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}

// Playing reports whether an item is currently being played.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

func (q *Queue) finish(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil || q.current.ID != id {
		return false
	}
	q.current = nil
	metricPlayed.Inc()
	return true
}

// advance starts the next pending item, skipping items the player rejects.
func (q *Queue) advance() {
	for {
		q.mu.Lock()
		if q.current != nil {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			q.idle()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.current = &next
		epoch := q.epoch
		q.mu.Unlock()

		if err := q.play(next, epoch); err == nil {
			return
		}
		metricPlayErrors.Inc()
		q.mu.Lock()
		if q.current != nil && q.current.ID == next.ID {
			q.current = nil
		}
		q.mu.Unlock()
	}
}

// play starts item and stops it again if a flush ran while it was starting.
func (q *Queue) play(item Item, epoch uint64) error {
	q.playMu.Lock()
	defer q.playMu.Unlock()
	if err := q.player.Play(item); err != nil {
		return err
	}
	q.mu.Lock()
	flushed := q.epoch != epoch
	q.mu.Unlock()
	if flushed {
		metricLateStops.Inc()
		q.player.Stop()
	}
	return nil
}

func (q *Queue) idle() {
	if q.onIdle != nil {
		q.onIdle()
	}
}
