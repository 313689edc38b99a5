package transcript

import (
	"slices"

	"github.com/zerohunger/zhchat/internal/metrics"
)

// appendUnseen appends msgs to dst in order, skipping ids already present.
func (s *Synchronizer) appendUnseen(dst, msgs []Message) []Message {
	for _, m := range msgs {
		if s.has(m.ID) {
			metrics.DuplicatesDropped.Inc()
			continue
		}
		s.remember(m.ID)
		dst = append(dst, m)
	}
	return dst
}

// mergeHead folds a fresh newest-first history snapshot into a non-empty
// transcript. Known messages act as anchors; each unknown message is
// inserted right after its newer neighbour from the snapshot. Unknown
// messages newer than every known one go right after the messages that
// arrived live during the handshake.
func (s *Synchronizer) mergeHead(msgs []Message) {
	anchor := s.handshakeLive - 1
	for _, m := range msgs {
		if s.has(m.ID) {
			metrics.DuplicatesDropped.Inc()
			anchor = slices.IndexFunc(s.messages, func(x Message) bool { return x.ID == m.ID })
			continue
		}
		s.remember(m.ID)
		anchor++
		s.messages = slices.Insert(s.messages, anchor, m)
	}
}

// missedGap reports whether a reconnect snapshot shares no message with the
// transcript loaded before the handshake. The messages between the two are
// unknown, so the older transcript can no longer be paged contiguously.
func (s *Synchronizer) missedGap(msgs []Message) bool {
	older := s.messages[s.handshakeLive:]
	if len(msgs) == 0 || len(older) == 0 {
		return false
	}
	for _, m := range msgs {
		if slices.ContainsFunc(older, func(x Message) bool { return x.ID == m.ID }) {
			return false
		}
	}
	return true
}

// replaceHistory drops the transcript loaded before the handshake and starts
// over from msgs, keeping messages that arrived live during the handshake at
// the head. Paging restarts from the initial window.
func (s *Synchronizer) replaceHistory(msgs []Message) {
	live := slices.Clone(s.messages[:s.handshakeLive])
	s.messages = nil
	s.seen = make(map[string]struct{}, len(live)+len(msgs))
	s.messages = s.appendUnseen(s.messages, live)
	s.messages = s.appendUnseen(s.messages, msgs)
	s.cursor = s.initialCursor()
	s.exhausted = false
}
