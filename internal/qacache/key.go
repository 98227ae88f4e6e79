package qacache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Kind identifies the operation that produced a cached answer.
type Kind string

const (
	KindAsk             Kind = "ask"
	KindQuizFile        Kind = "quiz_file"
	KindExtractAnswer   Kind = "extract_answer"
	KindExtractAll      Kind = "extract_all"
	KindQuizAll         Kind = "quiz_all"
	KindQuizSelected    Kind = "quiz_selected"
	KindQuizWeakness    Kind = "quiz_weakness"
	KindGradeQuiz       Kind = "grade_quiz"
	KindAnalyzeWeakness Kind = "analyze_weakness"
	KindMindmap         Kind = "generate_mindmap"
)

// Key derives a deterministic cache key from an operation kind and its
// distinguishing inputs. Identical kind + inputs always collide; distinct
// operations never do (the kind is part of the key, the inputs are hashed).
// Format: <kind>:<16 hex chars of sha256 over canonical JSON inputs>.
func Key(kind Kind, inputs ...string) string {
	canonical, _ := json.Marshal(inputs) // string slices cannot fail to marshal
	sum := sha256.Sum256(canonical)
	return string(kind) + ":" + hex.EncodeToString(sum[:8])
}

// KeyForFiles derives a key from a file selection, order-insensitive: the
// list is sorted (on a copy) before hashing so the same selection made in
// any order reuses one cached answer.
func KeyForFiles(kind Kind, files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)
	return Key(kind, sorted...)
}
