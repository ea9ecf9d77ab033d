// Package statusbus fans pipeline events out to external subscribers
// and tracks a sliding-window send-frequency meter (spec.md §4.9).
package statusbus

import (
	"sync"
	"time"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

// Topic names the kind of event carried on the bus.
type Topic string

const (
	TopicPreview     Topic = "preview"
	TopicStripColors Topic = "strip_colors"
	TopicMode        Topic = "mode"
	TopicDevices     Topic = "devices"
	TopicFrequency   Topic = "frequency"
)

// StripColorsEvent is per-strip RGB keyed by display + border + index.
type StripColorsEvent struct {
	DisplayID types.DisplayID
	Border    types.Border
	Index     int
	Colors    []types.Color
}

// Bus fans events out to subscribers, one buffered channel per
// subscription. A topic is only serialized and delivered while it has
// at least one live subscriber (spec §4.9: "zero-subscriber events are
// dropped before encoding") — Publish is a cheap no-op otherwise.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[int]chan any
	next int

	meter *FrequencyMeter
}

// New returns an empty Bus with a fresh frequency meter.
func New() *Bus {
	return &Bus{
		subs:  make(map[Topic]map[int]chan any),
		meter: NewFrequencyMeter(),
	}
}

// Subscribe registers interest in topic and returns a receive channel
// plus an unsubscribe function. The channel is buffered and
// latest-wins: a slow subscriber drops older pending events of the same
// topic rather than blocking the publisher (spec §5 backpressure rule).
func (b *Bus) Subscribe(topic Topic) (<-chan any, func()) {
	ch := make(chan any, 1)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan any)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// HasSubscribers reports whether topic currently has at least one
// subscriber.
func (b *Bus) HasSubscribers(topic Topic) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) > 0
}

// Publish delivers event to topic's subscribers if any exist, coalescing
// onto each subscriber's single-slot buffer (latest-wins).
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	chans := b.subs[topic]
	b.mu.RUnlock()
	if len(chans) == 0 {
		return
	}
	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// RecordSend notes one data-send event for the frequency meter.
func (b *Bus) RecordSend() {
	b.meter.Record()
	if b.HasSubscribers(TopicFrequency) {
		b.Publish(TopicFrequency, b.meter.HzNow())
	}
}

// Meter exposes the frequency meter that RecordSend feeds.
func (b *Bus) Meter() *FrequencyMeter { return b.meter }

// FrequencyMeter implements spec §9's four-bucket ring: 500ms buckets
// rotated lazily on insertion, summed over a 2s window to yield Hz.
type FrequencyMeter struct {
	mu         sync.Mutex
	buckets    [4]int
	cursor     int
	lastRotate time.Time
	now        func() time.Time
}

// BucketDuration is the width of one rotating bucket (spec §9).
const BucketDuration = 500 * time.Millisecond

// NewFrequencyMeter returns a meter using the real clock.
func NewFrequencyMeter() *FrequencyMeter {
	return newFrequencyMeterWithClock(time.Now)
}

func newFrequencyMeterWithClock(now func() time.Time) *FrequencyMeter {
	return &FrequencyMeter{now: now, lastRotate: now()}
}

// rotateLocked clears the buckets that the elapsed time since the last
// rotation has pushed out of the 2s window, lazily, as described in
// spec §9. Advancing by >= len(buckets) bucket-widths clears the ring.
func (m *FrequencyMeter) rotateLocked() {
	now := m.now()
	elapsed := now.Sub(m.lastRotate)
	steps := int(elapsed / BucketDuration)
	if steps <= 0 {
		return
	}
	if steps >= len(m.buckets) {
		m.buckets = [4]int{}
		m.cursor = 0
	} else {
		for i := 0; i < steps; i++ {
			m.cursor = (m.cursor + 1) % len(m.buckets)
			m.buckets[m.cursor] = 0
		}
	}
	m.lastRotate = m.lastRotate.Add(time.Duration(steps) * BucketDuration)
}

// Record counts one event in the current bucket.
func (m *FrequencyMeter) Record() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked()
	m.buckets[m.cursor]++
}

// HzNow sums the four buckets and divides by 2 (seconds), per spec §9.
func (m *FrequencyMeter) HzNow() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked()
	sum := 0
	for _, c := range m.buckets {
		sum += c
	}
	return float64(sum) / 2.0
}
