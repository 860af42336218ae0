// Package chatlist holds the pure merge policies for the chat UI: message
// deduplication across cache and network sources, chat ranking by last
// activity, and the merge rule for freshly fetched chat lists.
package chatlist

import (
	"sort"

	"chatcore/internal/message"
)

// fingerprintWindow is how close in time two records must be to count as
// the same logical message when only one of them carries a server id.
const fingerprintWindow = int64(5000) // milliseconds

// Deduplicate collapses messages from multiple sources (local cache,
// network fetch) to one record per logical message. Records are matched
// by shared identifiers first, then by fingerprint (chat, sender, content,
// creation time within fingerprintWindow). When two records match, the
// one holding a server-assigned id wins over a client-only one; between
// equals the most recently written record wins. The surviving record
// carries the union of both identifiers and the most advanced status.
func Deduplicate(msgs []message.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	byID := make(map[string]int)
	byPrint := make(map[string][]int)

	for _, m := range msgs {
		idx := -1
		for _, id := range []string{m.ClientID, m.ServerID} {
			if id == "" {
				continue
			}
			if i, ok := byID[id]; ok {
				idx = i
				break
			}
		}
		if idx < 0 {
			fp := m.ChatID + "\x00" + m.SenderID + "\x00" + m.Content
			for _, i := range byPrint[fp] {
				if within(out[i].CreatedAt, m.CreatedAt, fingerprintWindow) {
					idx = i
					break
				}
			}
			if idx < 0 {
				out = append(out, m)
				idx = len(out) - 1
				byPrint[fp] = append(byPrint[fp], idx)
			}
		}
		out[idx] = merge(out[idx], m)
		for _, id := range []string{out[idx].ClientID, out[idx].ServerID} {
			if id != "" {
				byID[id] = idx
			}
		}
	}
	return out
}

func within(a, b, window int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= window
}

// merge combines two records for the same logical message.
func merge(a, b message.Message) message.Message {
	winner, loser := a, b
	aTemp := message.IsClientID(a.CanonicalID())
	bTemp := message.IsClientID(b.CanonicalID())
	switch {
	case aTemp && !bTemp:
		winner, loser = b, a
	case !aTemp && bTemp:
		// keep a
	case b.UpdatedAt > a.UpdatedAt:
		winner, loser = b, a
	}
	if winner.ServerID == "" {
		winner.ServerID = loser.ServerID
	}
	// Retain the client id as a lookup key even when the server record wins.
	if message.IsClientID(loser.ClientID) && !message.IsClientID(winner.ClientID) {
		winner.ClientID = loser.ClientID
	}
	if st, ok := message.Advance(winner.Status, loser.Status); ok {
		winner.Status = st
	}
	return winner
}

// Less is the chat ranking comparator: most recent activity first, ties
// broken by lexicographic id so repeated sorts of equal inputs never
// reorder the list.
func Less(a, b *message.Chat) bool {
	aAct, bAct := a.LastActivity(), b.LastActivity()
	if aAct != bAct {
		return aAct > bAct
	}
	return a.ID < b.ID
}

// SortChats returns the chats ordered by last activity. The input slice
// is not modified.
func SortChats(chats []message.Chat) []message.Chat {
	out := make([]message.Chat, len(chats))
	copy(out, chats)
	sort.SliceStable(out, func(i, j int) bool { return Less(&out[i], &out[j]) })
	return out
}

// NeedsResorting reports in O(n) whether the current order differs from
// what SortChats would produce.
func NeedsResorting(chats []message.Chat) bool {
	for i := 1; i < len(chats); i++ {
		if Less(&chats[i], &chats[i-1]) {
			return true
		}
	}
	return false
}

// MergeChats merges a freshly fetched chat list into the existing one.
// For chats present in both, the record with the more recent activity is
// kept (the existing one on ties), so real-time updates that landed while
// the fetch was in flight are not discarded. Chats unique to either side
// are included as-is. The result is unsorted.
func MergeChats(existing, fetched []message.Chat) []message.Chat {
	out := make([]message.Chat, len(existing))
	copy(out, existing)
	index := make(map[string]int, len(existing))
	for i := range out {
		index[out[i].ID] = i
	}
	for _, f := range fetched {
		i, ok := index[f.ID]
		if !ok {
			index[f.ID] = len(out)
			out = append(out, f)
			continue
		}
		if f.LastActivity() > out[i].LastActivity() {
			out[i] = f
		}
	}
	return out
}
