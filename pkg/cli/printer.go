package cli

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/m-mizutani/practiq/pkg/usecase/practice"
)

// printer renders session states to a terminal: a spinner until the first
// text arrives, then only the newly received part of the response
type printer struct {
	out     io.Writer
	spin    *spinner.Spinner
	mu      sync.Mutex
	topic   string
	printed int
}

func newPrinter(out, errOut io.Writer) *printer {
	p := &printer{out: out}

	// no spinner when stderr is redirected
	if f, ok := errOut.(*os.File); ok {
		s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(f))
		s.Color("cyan")
		p.spin = s
	}
	return p
}

func (p *printer) render(s practice.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// a new generation starts over
	if s.Topic != p.topic || len(s.Response) < p.printed {
		p.stopSpinner()
		p.newline()
		p.topic = s.Topic
		p.printed = 0
	}

	if s.Loading && s.Response == "" {
		p.startSpinner("Generating questions for " + s.Topic)
		return
	}

	if len(s.Response) > p.printed {
		p.stopSpinner()
		io.WriteString(p.out, s.Response[p.printed:])
		p.printed = len(s.Response)
	}

	if !s.Loading {
		p.stopSpinner()
	}
}

// finish ends the current output line
func (p *printer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopSpinner()
	p.newline()
	p.printed = 0
	p.topic = ""
}

func (p *printer) newline() {
	if p.printed > 0 {
		io.WriteString(p.out, "\n")
	}
}

func (p *printer) startSpinner(msg string) {
	if p.spin == nil {
		return
	}
	p.spin.Suffix = "  " + msg
	p.spin.Start()
}

func (p *printer) stopSpinner() {
	if p.spin != nil {
		p.spin.Stop()
	}
}

// printResponse writes a stored response with a colored header
func printResponse(w io.Writer, topic, level, response string) {
	cyan := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "%s\n", topic)
	dim.Fprintf(w, "level: %s\n\n", level)
	io.WriteString(w, strings.TrimRight(response, "\n")+"\n")
}
