// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"github.com/devicelab/core/structs"
)

// subscriptionBacklog bounds how many pending updates a slow subscriber
// tolerates before updates start getting dropped for it specifically: one
// slow subscriber must never stall a session's execution.
const subscriptionBacklog = 64

// Subscription is a live subscribeSession registration: every session
// update matching Filter is pushed onto Updates in the order it
// happened, trimmed to Mask.
type Subscription struct {
	id     int
	mask   *FieldMask
	filter *structs.SessionFilter

	Updates chan *structs.Session
	done    chan struct{}
}

// Subscribe registers a new subscription. mask/filter may be nil,
// matching "everything"/"no filter" respectively.
func (m *Manager) Subscribe(mask *FieldMask, filter *structs.SessionFilter) *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.nextSub++
	sub := &Subscription{
		id:      m.nextSub,
		mask:    mask,
		filter:  filter,
		Updates: make(chan *structs.Session, subscriptionBacklog),
		done:    make(chan struct{}),
	}
	m.subs[sub.id] = sub
	return sub
}

// Unsubscribe tears the subscription down; it is safe to call more than
// once.
func (m *Manager) Unsubscribe(sub *Subscription) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if _, ok := m.subs[sub.id]; !ok {
		return
	}
	delete(m.subs, sub.id)
	close(sub.done)
	close(sub.Updates)
}

// UpdateFilter lets a live stream change which sessions it follows
// without tearing down and re-establishing the subscription, supporting
// client-driven re-selection on a long-lived bidi stream.
func (m *Manager) UpdateFilter(sub *Subscription, mask *FieldMask, filter *structs.SessionFilter) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	sub.mask = mask
	sub.filter = filter
}

// publishUpdate fans the current state of session id out to every
// subscription whose filter matches it. Delivery is non-blocking per
// subscriber: a subscriber that isn't draining its channel loses the
// update rather than stalling the session that produced it.
func (m *Manager) publishUpdate(id string) {
	sess, ok := m.store.get(id)
	if !ok {
		return
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs {
		if !sub.filter.Matches(sess) {
			continue
		}
		update := applyFieldMask(sess.Clone(), sub.mask)
		select {
		case sub.Updates <- update:
		default:
			m.logger.Warn("dropped session update for slow subscriber", "session_id", id)
		}
	}
}

