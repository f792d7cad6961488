package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/wiremaps/snmpbridge/internal/poller"
	"github.com/wiremaps/snmpbridge/internal/varbind"
)

var (
	nameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// printer renders results. Styling only applies when writing to a
// terminal and raw output was not requested.
type printer struct {
	w      io.Writer
	raw    bool
	styled bool
}

func newPrinter(w io.Writer, raw bool) *printer {
	return &printer{w: w, raw: raw, styled: !raw && isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) values(vals *varbind.Values) error {
	var err error
	vals.Range(func(name string, val any) bool {
		_, err = fmt.Fprintf(p.w, "%s = %s\n", p.style(nameStyle, name), p.style(valueStyle, p.format(val)))
		return err == nil
	})
	return err
}

func (p *printer) result(r poller.Result) error {
	if r.Err != nil {
		_, err := fmt.Fprintf(p.w, "%s %s: %v\n", p.style(errStyle, "✗"), r.Target, r.Err)
		return err
	}
	if _, err := fmt.Fprintf(p.w, "%s %s (%d values in %s)\n",
		p.style(okStyle, "✓"), r.Target, r.Values.Len(), r.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	return p.values(r.Values)
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// format renders a decoded value. Outside raw mode large integers are
// digit grouped.
func (p *printer) format(val any) string {
	if p.raw {
		return varbind.FormatValue(val)
	}
	switch x := val.(type) {
	case int64:
		return humanize.Comma(x)
	case uint32:
		return humanize.Comma(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10)
		}
		return humanize.Comma(int64(x))
	case float64:
		return humanize.Commaf(x)
	default:
		return varbind.FormatValue(val)
	}
}
