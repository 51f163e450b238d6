// Package evtbus is the core event bus: a process-wide multi-producer/
// multi-subscriber topic bus for job progress, cache invalidation, and
// watcher-health notifications. A map of buffered channels guarded by one
// mutex, non-blocking send to each; a full subscriber queue has its oldest
// entry evicted so the newest event always lands.
/*
 * Copyright (c) 2024, corevault authors.
 */
package evtbus

import (
	"sync"

	"github.com/google/uuid"
)

// Topic names the four channels of this bus.
type Topic int

const (
	TopicJobProgress Topic = iota
	TopicNewThumbnail
	TopicInvalidateQuery
	TopicWatcherLost
)

// JobProgressEvent is published by job workers as they advance a job.
type JobProgressEvent struct {
	JobID              uuid.UUID
	CompletedTaskCount int64
	Message            string
	Terminal           bool
}

// NewThumbnailEvent announces that a derived artifact (a thumbnail) has landed
// on disk.
type NewThumbnailEvent struct {
	ThumbKey string
}

// InvalidateQueryEvent tells subscribers a client-visible query went stale.
type InvalidateQueryEvent struct {
	Key string
}

// WatcherLostEvent is published by a location watcher when its platform handle dies.
type WatcherLostEvent struct {
	LocationID int64
}

const subscriberQueueDepth = 64

type subscriber struct {
	ch chan any
}

// Bus is one process-wide event bus instance. The zero value is not usable;
// construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[Topic]map[*subscriber]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[Topic]map[*subscriber]struct{})}
}

// Subscription is a live handle returned by Subscribe; call Close to detach.
type Subscription struct {
	bus   *Bus
	topic Topic
	sub   *subscriber
}

// Events is the subscriber's lazy restartable sequence: reading it never
// blocks a producer, and drops the oldest event on overflow.
func (s *Subscription) Events() <-chan any { return s.sub.ch }

func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set, ok := s.bus.subs[s.topic]; ok {
		delete(set, s.sub)
	}
	close(s.sub.ch)
}

// Subscribe attaches a new subscriber to topic.
func (b *Bus) Subscribe(topic Topic) *Subscription {
	sub := &subscriber{ch: make(chan any, subscriberQueueDepth)}
	b.mu.Lock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{bus: b, topic: topic, sub: sub}
}

// Publish fans event out to every subscriber of topic. A full subscriber
// queue has its oldest entry evicted to make room, so Publish never blocks;
// the caller is expected to publish terminal events last so they always land.
func (b *Bus) Publish(topic Topic, event any) {
	// sends are non-blocking, so the lock is held for the whole fan-out;
	// this is what keeps Publish safe against a concurrent Close.
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[topic] {
		select {
		case s.ch <- event:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- event:
			default:
			}
		}
	}
}
