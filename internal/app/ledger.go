package app

import (
	"sort"
	"strings"

	"examroom-service/internal/domain"
)

// SubmitOutcome classifies a score submission. Duplicate is a deliberate
// non-error: at-least-once delivery from clients must not alter a committed
// answer, so retries are acknowledged and ignored.
type SubmitOutcome string

const (
	OutcomeAccepted  SubmitOutcome = "accepted"
	OutcomeDuplicate SubmitOutcome = "duplicate"
	OutcomeRejected  SubmitOutcome = "rejected"
)

type rankingRow struct {
	entry     domain.RankingEntry
	joinOrder int
}

// ScoreLedger accumulates answer submissions for one room and produces the
// deterministic final ranking. First write wins per (participant, question);
// scoring is O(1) per submission with no batch recomputation.
//
// Owned and serialized by the room actor; not safe for concurrent use.
type ScoreLedger struct {
	answers map[string]string // question ref -> normalized correct answer
	points  map[string]int    // question ref -> per-question weight
	lastSeq map[string]uint64 // user id -> highest sequence number observed
	barrier map[string]uint64 // user id -> sequence watermark at last reset
	frozen  map[string]int    // user id -> score frozen at finish
	rows    []rankingRow
}

func NewScoreLedger(questions []domain.Question) *ScoreLedger {
	l := &ScoreLedger{
		answers: make(map[string]string, len(questions)),
		points:  make(map[string]int, len(questions)),
		lastSeq: make(map[string]uint64),
		barrier: make(map[string]uint64),
		frozen:  make(map[string]int),
	}
	for _, q := range questions {
		l.answers[q.Ref] = normalizeAnswer(q.Answer)
		pts := q.Points
		if pts == 0 {
			pts = 1
		}
		l.points[q.Ref] = pts
	}
	return l
}

// normalizeAnswer lower-cases and collapses whitespace so that cosmetic
// differences in a choice never affect correctness.
func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Submit records an answer for a participant. The first accepted submission
// for a (participant, question) pair is final; later ones return
// OutcomeDuplicate regardless of whether the choice differs.
func (l *ScoreLedger) Submit(p *domain.Participant, questionRef, choice string, seq uint64) (SubmitOutcome, error) {
	if seq > l.lastSeq[p.UserID] {
		l.lastSeq[p.UserID] = seq
	}
	if seq <= l.barrier[p.UserID] {
		return OutcomeRejected, domain.ErrStaleSequence
	}
	correct, ok := l.answers[questionRef]
	if !ok {
		return OutcomeRejected, domain.ErrQuestionNotFound
	}
	if _, done := p.Answers[questionRef]; done {
		return OutcomeDuplicate, nil
	}
	p.Answers[questionRef] = choice
	if normalizeAnswer(choice) == correct {
		p.Score += l.points[questionRef]
	}
	return OutcomeAccepted, nil
}

// Finish freezes a participant's score and appends it to the ranking set.
// Idempotent: a retried finish returns the already-frozen score as a no-op.
func (l *ScoreLedger) Finish(p *domain.Participant, timeTakenMS int64) (int, bool) {
	if score, done := l.frozen[p.UserID]; done {
		return score, true
	}
	l.frozen[p.UserID] = p.Score
	l.rows = append(l.rows, rankingRow{
		entry: domain.RankingEntry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			TimeTakenMS: timeTakenMS,
		},
		joinOrder: p.JoinOrder,
	})
	return p.Score, false
}

// Ranking returns the leaderboard: score descending, ties broken by ascending
// time taken, remaining ties by join order. Stable and deterministic so every
// client computing the ranking from the same snapshot agrees byte-for-byte.
func (l *ScoreLedger) Ranking() []domain.RankingEntry {
	rows := make([]rankingRow, len(l.rows))
	copy(rows, l.rows)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].entry.Score != rows[j].entry.Score {
			return rows[i].entry.Score > rows[j].entry.Score
		}
		if rows[i].entry.TimeTakenMS != rows[j].entry.TimeTakenMS {
			return rows[i].entry.TimeTakenMS < rows[j].entry.TimeTakenMS
		}
		return rows[i].joinOrder < rows[j].joinOrder
	})
	out := make([]domain.RankingEntry, len(rows))
	for i, row := range rows {
		row.entry.Rank = i + 1
		out[i] = row.entry
	}
	return out
}

// Reset clears all rankings and frozen scores and raises the per-participant
// sequence barrier, so in-flight submissions sequenced before the reset are
// rejected even if they arrive after it on the wire.
func (l *ScoreLedger) Reset() {
	l.rows = nil
	l.frozen = make(map[string]int)
	for userID, seq := range l.lastSeq {
		l.barrier[userID] = seq
	}
}
