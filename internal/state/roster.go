package state

import "quiz-sync-client/internal/domain"

// Roster holds at most one participant per user id, in arrival order.
type Roster struct {
	entries []domain.Participant
	index   map[string]int
}

func NewRoster() *Roster {
	return &Roster{index: make(map[string]int)}
}

// Upsert replaces the entry for p.UserID in place or appends it.
func (r *Roster) Upsert(p domain.Participant) {
	if i, ok := r.index[p.UserID]; ok {
		r.entries[i] = p
		return
	}
	r.index[p.UserID] = len(r.entries)
	r.entries = append(r.entries, p)
}

// Remove drops the entry for userID. Unknown ids are a no-op.
func (r *Roster) Remove(userID string) {
	i, ok := r.index[userID]
	if !ok {
		return
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, userID)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].UserID] = j
	}
}

// Replace swaps in a full list, deduplicating by user id with later entries winning.
func (r *Roster) Replace(list []domain.Participant) {
	r.entries = nil
	r.index = make(map[string]int, len(list))
	for _, p := range list {
		r.Upsert(p)
	}
}

func (r *Roster) Get(userID string) (domain.Participant, bool) {
	i, ok := r.index[userID]
	if !ok {
		return domain.Participant{}, false
	}
	return r.entries[i], true
}

func (r *Roster) Len() int { return len(r.entries) }

// List returns a copy of the entries.
func (r *Roster) List() []domain.Participant {
	out := make([]domain.Participant, len(r.entries))
	copy(out, r.entries)
	return out
}

// InPlay counts participants still eligible to answer.
func (r *Roster) InPlay() int {
	n := 0
	for _, p := range r.entries {
		if p.Status.InPlay() {
			n++
		}
	}
	return n
}
