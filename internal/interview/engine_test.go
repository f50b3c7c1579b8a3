package interview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"yuzu/interviewer/internal/llm"
	"yuzu/interviewer/internal/store"
	"yuzu/interviewer/internal/turn"
	"yuzu/interviewer/internal/types"
)

type fakeLLM struct {
	reply string
	err   error
	reqs  []llm.Request
	after func()
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.after != nil {
		f.after()
	}
	return f.reply, f.err
}

func newEngine(t *testing.T, f *fakeLLM, maxTurns int) (*Engine, *store.Store) {
	t.Helper()
	st := store.New()
	sess := &types.Session{ID: "s1", MaxTurns: maxTurns, Company: types.CompanyContext{
		Name:           "Acme",
		Languages:      []string{"Go", "Rust"},
		CodingProblems: []string{"LRU Cache"},
	}}
	if err := st.CreateSession(sess); err != nil {
		t.Fatal(err)
	}
	_ = st.AppendOpening("s1", "Hi, I'm John.")
	return New(Config{HistoryChars: 2000}, f, st, zaptest.NewLogger(t)), st
}

func TestReplyRecordsExchange(t *testing.T) {
	f := &fakeLLM{reply: "Great. [INTERVIEW_COMPLETE] Tell me about a hard bug."}
	e, st := newEngine(t, f, 5)

	got, err := e.Reply(context.Background(), turn.Request{SessionID: "s1", TurnID: 1, Transcript: "I build APIs in Go."})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got != "Great.  Tell me about a hard bug." {
		t.Fatalf("reply = %q", got)
	}
	sess := st.GetSession("s1")
	if sess.Turns != 1 || !strings.HasSuffix(sess.Transcript, "Candidate: I build APIs in Go.\n\nInterviewer: "+got) {
		t.Fatalf("session = %+v", sess)
	}

	req := f.reqs[0]
	if !strings.Contains(req.System, "Name: Acme") || !strings.Contains(req.System, "Programming Languages: Go, Rust") {
		t.Fatalf("system prompt missing company profile:\n%s", req.System)
	}
	msg := req.Messages[0].Content
	if !strings.Contains(msg, "[Turn 1]") || !strings.Contains(msg, "PHASE: BEHAVIORAL") || !strings.Contains(msg, "Hi, I'm John.") {
		t.Fatalf("turn message:\n%s", msg)
	}
}

func TestEmptyReplyUsesDefault(t *testing.T) {
	e, _ := newEngine(t, &fakeLLM{reply: "[INTERVIEW_COMPLETE]"}, 5)
	got, err := e.Reply(context.Background(), turn.Request{SessionID: "s1", Transcript: "hm"})
	if err != nil || got != "I see. Tell me more." {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestReplyErrorRecordsNothing(t *testing.T) {
	e, st := newEngine(t, &fakeLLM{err: errors.New("503")}, 5)
	if _, err := e.Reply(context.Background(), turn.Request{SessionID: "s1", Transcript: "hello"}); err == nil {
		t.Fatalf("expected error")
	}
	if st.GetSession("s1").Turns != 0 {
		t.Fatalf("failed reply was recorded")
	}
}

func TestCancelledReplyRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeLLM{reply: "too late", after: cancel}
	e, st := newEngine(t, f, 5)

	_, err := e.Reply(ctx, turn.Request{SessionID: "s1", Transcript: "hello"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if st.GetSession("s1").Turns != 0 {
		t.Fatalf("cancelled reply was recorded")
	}
}

func TestTurnLimitClosesInterview(t *testing.T) {
	f := &fakeLLM{reply: "next question"}
	e, st := newEngine(t, f, 1)

	if _, err := e.Reply(context.Background(), turn.Request{SessionID: "s1", Transcript: "one"}); err != nil {
		t.Fatal(err)
	}
	got, err := e.Reply(context.Background(), turn.Request{SessionID: "s1", Transcript: "two"})
	if err != nil || got != "The interview is now complete. Thank you for your time." {
		t.Fatalf("got %q err=%v", got, err)
	}
	if !st.GetSession("s1").Complete {
		t.Fatalf("session not marked complete")
	}
	got, err = e.Reply(context.Background(), turn.Request{SessionID: "s1", Transcript: "three"})
	if err != nil || got != "" {
		t.Fatalf("after completion got %q err=%v", got, err)
	}
	if len(f.reqs) != 1 {
		t.Fatalf("llm called %d times", len(f.reqs))
	}
}

func TestUnknownSession(t *testing.T) {
	e, _ := newEngine(t, &fakeLLM{}, 5)
	if _, err := e.Reply(context.Background(), turn.Request{SessionID: "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPhaseInstruction(t *testing.T) {
	c := types.CompanyContext{CodingProblems: []string{"Two Sum"}}
	cases := []struct {
		turn int
		want string
	}{
		{1, "PHASE: BEHAVIORAL"},
		{3, "PHASE: BEHAVIORAL"},
		{4, "a coding question about Two Sum"},
		{10, "PHASE: CODING CHALLENGE"},
		{11, "PHASE: SYSTEM DESIGN"},
		{13, "scalable system"},
		{14, "PHASE: CLOSING"},
	}
	for _, tc := range cases {
		if got := PhaseInstruction(tc.turn, c); !strings.Contains(got, tc.want) {
			t.Errorf("turn %d: %q does not contain %q", tc.turn, got, tc.want)
		}
	}
}

func TestRecentKeepsTail(t *testing.T) {
	if got := recent("abcdef", 3); got != "def" {
		t.Fatalf("got %q", got)
	}
	if got := recent("héllo", 4); got != "llo" {
		t.Fatalf("cut inside a rune: %q", got)
	}
	if got := recent("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestOpening(t *testing.T) {
	e := New(Config{}, nil, store.New(), nil)
	if got := e.Opening(types.CompanyContext{Name: "Acme"}); !strings.Contains(got, "senior engineer at Acme") {
		t.Fatalf("opening = %q", got)
	}
	e = New(Config{OpeningLine: "Can you hear me?"}, nil, store.New(), nil)
	if got := e.Opening(types.CompanyContext{}); got != "Can you hear me?" {
		t.Fatalf("opening = %q", got)
	}
}
