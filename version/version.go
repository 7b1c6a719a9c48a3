package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	versionPattern   = regexp.MustCompile(`^([0-9A-Za-z_.]+)(?:-([0-9A-Za-z_.\-]+))?(?:\+([0-9A-Za-z_.\-]+))?$`)
	componentPattern = regexp.MustCompile(`^[0-9A-Za-z_\-]+$`)
)

type Component struct {
	numeric bool
	n       uint64
	s       string
}

func (c Component) String() string {
	if c.numeric {
		return strconv.FormatUint(c.n, 10)
	}
	return c.s
}

// numbers sort before words; words sort lexically
func (c Component) Compare(o Component) int {
	switch {
	case c.numeric && o.numeric:
		if c.n < o.n {
			return -1
		}
		if c.n > o.n {
			return 1
		}
		return 0
	case c.numeric:
		return -1
	case o.numeric:
		return 1
	default:
		return strings.Compare(c.s, o.s)
	}
}

type Segment []Component

func ParseSegment(s string) (Segment, error) {
	if s == "" {
		return nil, nil
	}
	seg := make(Segment, 0)
	for _, part := range strings.Split(s, ".") {
		if !componentPattern.MatchString(part) {
			return nil, fmt.Errorf("invalid version segment '%s'", s)
		}
		if n, err := strconv.ParseUint(part, 10, 64); err == nil {
			seg = append(seg, Component{numeric: true, n: n})
		} else {
			seg = append(seg, Component{s: part})
		}
	}
	return seg, nil
}

func (s Segment) String() string {
	l := make([]string, len(s))
	for i, c := range s {
		l[i] = c.String()
	}
	return strings.Join(l, ".")
}

func (s Segment) Compare(o Segment) int {
	for i := 0; i < len(s) && i < len(o); i++ {
		if c := s[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(s) < len(o):
		return -1
	case len(s) > len(o):
		return 1
	}
	return 0
}

// Increment bumps the last numeric component of the segment, or appends
// a 1 if the segment has no numeric components.
func (s Segment) Increment() Segment {
	next := append(Segment{}, s...)
	for i := len(next) - 1; i >= 0; i-- {
		if next[i].numeric {
			next[i] = Component{numeric: true, n: next[i].n + 1}
			return next
		}
	}
	return append(next, Component{numeric: true, n: 1})
}

type Version struct {
	Release     Segment
	PreRelease  Segment
	PostRelease Segment
}

func Parse(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Version{}, fmt.Errorf("invalid release version '%s'", s)
	}

	var (
		v   Version
		err error
	)
	if v.Release, err = ParseSegment(m[1]); err != nil {
		return Version{}, fmt.Errorf("invalid release version '%s': %s", s, err)
	}
	if v.PreRelease, err = ParseSegment(m[2]); err != nil {
		return Version{}, fmt.Errorf("invalid release version '%s': %s", s, err)
	}
	if v.PostRelease, err = ParseSegment(m[3]); err != nil {
		return Version{}, fmt.Errorf("invalid release version '%s': %s", s, err)
	}

	/* old-style dev releases were written 12.4-dev, meaning
	   the fourth dev release after final release 12 */
	if m[2] == "dev" && m[3] == "" && len(v.Release) == 2 && v.Release[0].numeric && v.Release[1].numeric {
		v.PostRelease = Segment{Component{s: "dev"}, v.Release[1]}
		v.Release = v.Release[:1]
		v.PreRelease = nil
	}
	return v, nil
}

func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	s := v.Release.String()
	if len(v.PreRelease) > 0 {
		s += "-" + v.PreRelease.String()
	}
	if len(v.PostRelease) > 0 {
		s += "+" + v.PostRelease.String()
	}
	return s
}

// Compare orders versions by release segment, then a missing pre-release
// over a present one, then a present post-release over a missing one.
func (v Version) Compare(o Version) int {
	if c := v.Release.Compare(o.Release); c != 0 {
		return c
	}

	switch {
	case len(v.PreRelease) == 0 && len(o.PreRelease) > 0:
		return 1
	case len(v.PreRelease) > 0 && len(o.PreRelease) == 0:
		return -1
	}
	if c := v.PreRelease.Compare(o.PreRelease); c != 0 {
		return c
	}

	switch {
	case len(v.PostRelease) == 0 && len(o.PostRelease) > 0:
		return -1
	case len(v.PostRelease) > 0 && len(o.PostRelease) == 0:
		return 1
	}
	return v.PostRelease.Compare(o.PostRelease)
}

func (v Version) IsDev() bool {
	return len(v.PostRelease) > 0 && !v.PostRelease[0].numeric && v.PostRelease[0].s == "dev"
}

type List []Version

func ParseList(l []string) (List, error) {
	versions := make(List, 0, len(l))
	for _, s := range l {
		v, err := Parse(s)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (l List) Sort() {
	sort.Slice(l, func(i, j int) bool { return l[i].Compare(l[j]) < 0 })
}

func (l List) Max() (Version, bool) {
	if len(l) == 0 {
		return Version{}, false
	}
	max := l[0]
	for _, v := range l[1:] {
		if v.Compare(max) > 0 {
			max = v
		}
	}
	return max, true
}

// Rebase computes the version a release should be stored under when the
// operator asks for target to be rebased on top of the existing versions.
// A final target becomes the next final release after the highest
// existing one; a dev target becomes the next dev release of it.
func Rebase(existing []string, target string) (Version, error) {
	t, err := Parse(target)
	if err != nil {
		return Version{}, err
	}

	l, err := ParseList(existing)
	if err != nil {
		return Version{}, err
	}
	highest, ok := l.Max()
	if !ok {
		return t, nil
	}

	if !t.IsDev() {
		return Version{Release: highest.Release.Increment()}, nil
	}

	next := Version{Release: highest.Release, PreRelease: highest.PreRelease}
	if highest.IsDev() {
		next.PostRelease = highest.PostRelease.Increment()
	} else {
		next.PostRelease = Segment{Component{s: "dev"}, Component{numeric: true, n: 1}}
	}
	if next.Compare(highest) <= 0 {
		/* other post-releases (3+foo.2) can sort above +dev */
		next = Version{
			Release:     highest.Release.Increment(),
			PostRelease: Segment{Component{s: "dev"}, Component{numeric: true, n: 1}},
		}
	}
	return next, nil
}
