package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/state"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdAnswer
	cmdAck
	cmdRefresh
	cmdQuit
)

type command struct {
	kind   commandKind
	option int
}

// parseCommand reads one input line. Options are typed 1-based.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(strings.ToLower(line))
	switch line {
	case "":
		return command{kind: cmdNone}, nil
	case "ack", "ok":
		return command{kind: cmdAck}, nil
	case "refresh", "r":
		return command{kind: cmdRefresh}, nil
	case "quit", "q", "exit":
		return command{kind: cmdQuit}, nil
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > domain.OptionCount {
		return command{}, fmt.Errorf("unknown input %q: type 1-%d, ack, refresh or quit", line, domain.OptionCount)
	}
	return command{kind: cmdAnswer, option: n - 1}, nil
}

// promptClock remembers when each question was first shown, for response times.
type promptClock struct {
	mu    sync.Mutex
	now   func() time.Time
	shown map[string]time.Time
}

func newPromptClock(now func() time.Time) *promptClock {
	return &promptClock{now: now, shown: make(map[string]time.Time)}
}

func (p *promptClock) seen(questionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.shown[questionID]; !ok {
		p.shown[questionID] = p.now()
	}
}

func (p *promptClock) elapsed(questionID string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.shown[questionID]
	if !ok {
		return 0
	}
	return p.now().Sub(at)
}

// activeQuestion is the question the local user would answer now.
func activeQuestion(s state.Snapshot) (*domain.Question, bool) {
	if s.Revival != nil && s.Revival.InProgress && s.Revival.Question != nil {
		return s.Revival.Question, true
	}
	return s.Question, false
}

var countdownMarks = map[int]bool{30: true, 20: true, 10: true, 5: true, 3: true, 2: true, 1: true}

// render writes the differences between two snapshots as console lines.
func render(w io.Writer, prev, cur state.Snapshot) {
	if cur.Connected != prev.Connected {
		if cur.Connected {
			fmt.Fprintln(w, "* connected")
		} else {
			fmt.Fprintln(w, "* disconnected")
		}
	}
	if cur.ConnectionError != "" && cur.ConnectionError != prev.ConnectionError {
		fmt.Fprintf(w, "! connection: %s\n", cur.ConnectionError)
	}
	if cur.Error != "" && cur.Error != prev.Error {
		fmt.Fprintf(w, "! %s\n", cur.Error)
	}

	if cur.Session != nil {
		if prev.Session == nil || prev.Session.Phase != cur.Session.Phase || prev.Session.CurrentRound != cur.Session.CurrentRound {
			fmt.Fprintf(w, "# %s: %s, round %d, %d participants\n",
				titleOr(cur.Session), cur.Session.Phase, cur.Session.CurrentRound, len(cur.Participants))
		}
	} else if prev.Session != nil {
		fmt.Fprintln(w, "# session closed")
	}

	if q, revival := activeQuestion(cur); q != nil {
		pq, _ := activeQuestion(prev)
		if pq == nil || pq.ID != q.ID {
			label := "question"
			if revival {
				label = "revival question"
			}
			fmt.Fprintf(w, "? %s (round %d): %s\n", label, q.Round, q.Text)
			for i, opt := range q.Options {
				fmt.Fprintf(w, "  %d) %s\n", i+1, opt)
			}
		}
	}
	if cur.TimerRunning && cur.TimeRemaining != prev.TimeRemaining && countdownMarks[cur.TimeRemaining] {
		fmt.Fprintf(w, "  %ds left\n", cur.TimeRemaining)
	}
	if cur.Missed && !prev.Missed {
		fmt.Fprintln(w, "  time is up")
	}

	if cur.LastAnswer != nil && (prev.LastAnswer == nil || prev.LastAnswer.QuestionID != cur.LastAnswer.QuestionID) {
		verdict := "wrong"
		if cur.LastAnswer.IsCorrect {
			verdict = "correct"
		}
		fmt.Fprintf(w, "= answer %d was %s\n", cur.LastAnswer.SelectedOption+1, verdict)
	}

	if cur.RoundResult != nil && prev.RoundResult == nil {
		r := cur.RoundResult
		fmt.Fprintf(w, "= round %d: %d survived, %d eliminated (type ack)\n", r.Round, len(r.Survivors), len(r.Eliminated))
	}

	if cur.Revival != nil && cur.Revival.InProgress && (prev.Revival == nil || !prev.Revival.InProgress) {
		if cur.Revival.IsCandidate(cur.SelfID) {
			fmt.Fprintln(w, "+ revival started: you may answer for a second chance")
		} else {
			fmt.Fprintf(w, "+ revival started for %d candidates\n", len(cur.Revival.Candidates))
		}
	}
	if len(cur.Revived) > len(prev.Revived) {
		for _, p := range cur.Revived[len(prev.Revived):] {
			fmt.Fprintf(w, "+ %s revived\n", nameOr(p))
		}
	}

	if self, ok := cur.Self(); ok {
		if before, had := prev.Self(); !had || before.Status != self.Status {
			fmt.Fprintf(w, "@ you are %s (score %d)\n", self.Status, self.Score)
		}
	}
}

func titleOr(s *domain.Session) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

func nameOr(p domain.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}
