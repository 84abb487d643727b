package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tagstream/tagstream/internal/bluesky"
)

// terminalSink renders posts as plain text lines. It implements
// pipeline.Sink; the gap notice is printed once and counts as visible for
// the rest of the session, since a terminal line is never taken back.
type terminalSink struct {
	mu            sync.Mutex
	w             io.Writer
	noticeVisible bool
}

func newTerminalSink(w io.Writer) *terminalSink {
	return &terminalSink{w: w}
}

func (s *terminalSink) RenderPost(post *bluesky.PostView) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := post.Author.Handle
	if post.Author.DisplayName != "" {
		name = fmt.Sprintf("%s (@%s)", post.Author.DisplayName, post.Author.Handle)
	}

	when := post.Record.CreatedAt
	if t, err := time.Parse(time.RFC3339, when); err == nil {
		when = t.Local().Format("15:04")
	}

	fmt.Fprintf(s.w, "[%s] %s\n    %s\n", when, name, post.Record.Text)
	if post.LikeCount > 0 || post.RepostCount > 0 || post.ReplyCount > 0 {
		fmt.Fprintf(s.w, "    %d likes, %d reposts, %d replies\n",
			post.LikeCount, post.RepostCount, post.ReplyCount)
	}
}

func (s *terminalSink) ShowGapNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, "--- reconnected; some posts may be missing ---")
	s.noticeVisible = true
}

func (s *terminalSink) GapNoticeVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noticeVisible
}
