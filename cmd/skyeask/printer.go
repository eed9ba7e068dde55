package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/models"
)

// livePrinter shows a running answer in the terminal. Status texts go to errOut on a single rewritten
// line. In raw mode the bot message is also written to out as it grows.
type livePrinter struct {
	out    io.Writer
	errOut io.Writer
	raw    bool

	mu         sync.Mutex
	printed    string
	statusLine string
}

func newLivePrinter(out, errOut io.Writer, raw bool) *livePrinter {
	return &livePrinter{out: out, errOut: errOut, raw: raw}
}

func (p *livePrinter) PublishMessage(msg models.Message) {
	if !p.raw || msg.Sender != models.SenderBot {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearStatusLocked()
	p.writeLocked(msg.Text)
}

func (p *livePrinter) RemoveMessage(string) {}

func (p *livePrinter) PublishStatus(st chat.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !st.Loading || len(st.Texts) == 0 {
		p.clearStatusLocked()
		return
	}
	// Raw output shares the terminal with the status line, so the line is only shown before the text.
	if p.raw && p.printed != "" {
		return
	}

	line := st.Texts[len(st.Texts)-1]
	if line == p.statusLine {
		return
	}
	p.clearStatusLocked()
	p.statusLine = line
	fmt.Fprintf(p.errOut, "%s", line)
}

// writeLocked brings the printed text up to date with text. Growing text prints the new suffix, anything
// else starts over on a new line.
func (p *livePrinter) writeLocked(text string) {
	switch {
	case strings.HasPrefix(text, p.printed):
		io.WriteString(p.out, text[len(p.printed):])
	case text == "":
		io.WriteString(p.out, "\n")
	default:
		io.WriteString(p.out, "\n"+text)
	}
	p.printed = text
}

func (p *livePrinter) clearStatusLocked() {
	if p.statusLine == "" {
		return
	}
	fmt.Fprintf(p.errOut, "\r%s\r", strings.Repeat(" ", len(p.statusLine)))
	p.statusLine = ""
}

func (p *livePrinter) clearStatus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearStatusLocked()
}

// finish prints whatever the final text adds and ends the output with a newline.
func (p *livePrinter) finish(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeLocked(text)
	if !strings.HasSuffix(text, "\n") {
		io.WriteString(p.out, "\n")
	}
}
