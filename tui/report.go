package tui

import (
	"fmt"
	"io"
	"strings"
)

// Report prints aligned "key: value" lines, the way upload summaries
// are shown.  Multi-line values continue underneath their first line.
type Report struct {
	values [][2]string
	width  int
}

func NewReport() Report {
	return Report{}
}

func (r *Report) Add(key string, value string) {
	if r.width < len(key) {
		r.width = len(key)
	}

	v := strings.Split(strings.TrimSuffix(value, "\n"), "\n")
	r.values = append(r.values, [2]string{key, v[0]})
	for _, s := range v[1:] {
		r.values = append(r.values, [2]string{"", s})
	}
}

func (r *Report) Addf(key string, format string, args ...interface{}) {
	r.Add(key, fmt.Sprintf(format, args...))
}

// Counts adds a "N new, M reused" line.
func (r *Report) Counts(key string, created, reused int) {
	r.Addf(key, "%d new, %d reused", created, reused)
}

func (r *Report) Break() {
	r.values = append(r.values, [2]string{"", ""})
}

func (r *Report) Output(out io.Writer) {
	keyf := fmt.Sprintf("%%-%ds %%s\n", r.width+1)
	blank := strings.Repeat(" ", r.width+2)

	for _, p := range r.values {
		switch {
		case p[0] != "":
			fmt.Fprintf(out, keyf, p[0]+":", p[1])
		case p[1] != "":
			fmt.Fprintf(out, "%s%s\n", blank, p[1])
		default:
			fmt.Fprintf(out, "\n")
		}
	}
}
