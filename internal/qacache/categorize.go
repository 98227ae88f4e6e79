package qacache

import "sort"

// KeyedEntry pairs an entry with its cache key for display.
type KeyedEntry struct {
	Key   string `json:"key"`
	Entry Entry  `json:"entry"`
}

// Buckets groups cached answers into the four fixed display sections.
type Buckets struct {
	Ask     []KeyedEntry `json:"ask"`
	Summary []KeyedEntry `json:"summary"`
	Quiz    []KeyedEntry `json:"quiz"`
	Mindmap []KeyedEntry `json:"mindmap"`
}

// Categorize partitions the user's entries by operation kind, each bucket
// sorted by timestamp descending (the fixed timestamp format makes string
// comparison chronological). Unknown kinds land in the ask bucket.
func (m *Manager) Categorize(userID string) (Buckets, error) {
	cache, err := m.load(userID)
	if err != nil {
		return Buckets{}, err
	}

	keyed := make([]KeyedEntry, 0, len(cache))
	for k, e := range cache {
		keyed = append(keyed, KeyedEntry{Key: k, Entry: e})
	}
	sort.Slice(keyed, func(i, j int) bool {
		if keyed[i].Entry.Timestamp != keyed[j].Entry.Timestamp {
			return keyed[i].Entry.Timestamp > keyed[j].Entry.Timestamp
		}
		return keyed[i].Key < keyed[j].Key
	})

	var b Buckets
	for _, ke := range keyed {
		switch ke.Entry.Kind {
		case KindExtractAnswer, KindExtractAll:
			b.Summary = append(b.Summary, ke)
		case KindQuizAll, KindQuizSelected, KindQuizFile, KindQuizWeakness, KindGradeQuiz, KindAnalyzeWeakness:
			b.Quiz = append(b.Quiz, ke)
		case KindMindmap:
			b.Mindmap = append(b.Mindmap, ke)
		default:
			// KindAsk and anything unrecognized.
			b.Ask = append(b.Ask, ke)
		}
	}
	return b, nil
}
