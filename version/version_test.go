package version_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/shieldproject/relstore/version"
)

var _ = Describe("Release Versions", func() {
	It("parses and prints release versions", func() {
		for _, s := range []string{"1", "1.2", "2.0-rc.1", "3+dev.4", "1.0-beta.2+dev.7", "0.1.alpha"} {
			v, err := Parse(s)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(v.String()).Should(Equal(s))
		}
	})

	It("rejects garbage", func() {
		for _, s := range []string{"", "1..2", "+dev.1", "1 2", "1/2"} {
			_, err := Parse(s)
			Ω(err).Should(HaveOccurred(), "version '%s' should not parse", s)
		}
	})

	It("converts old-style dev versions", func() {
		v, err := Parse("12.4-dev")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("12+dev.4"))
		Ω(v.IsDev()).Should(BeTrue())
	})

	It("orders versions", func() {
		ordered := []string{
			"1",
			"1+dev.1",
			"1+dev.2",
			"1+dev.10",
			"1.1-rc.1",
			"1.1",
			"2",
			"10",
			"10.a",
		}
		for i := 1; i < len(ordered); i++ {
			a := MustParse(ordered[i-1])
			b := MustParse(ordered[i])
			Ω(a.Compare(b)).Should(Equal(-1), "%s < %s", a, b)
			Ω(b.Compare(a)).Should(Equal(1), "%s > %s", b, a)
		}
		Ω(MustParse("1.0").Compare(MustParse("1.0"))).Should(Equal(0))
	})

	It("finds the highest version in a list", func() {
		l, err := ParseList([]string{"3", "10", "9+dev.4"})
		Ω(err).ShouldNot(HaveOccurred())
		max, ok := l.Max()
		Ω(ok).Should(BeTrue())
		Ω(max.String()).Should(Equal("10"))

		l.Sort()
		Ω(l[0].String()).Should(Equal("3"))

		_, ok = List{}.Max()
		Ω(ok).Should(BeFalse())
	})
})

var _ = Describe("Rebasing", func() {
	It("uses the target when there are no existing versions", func() {
		v, err := Rebase(nil, "5")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("5"))

		v, err = Rebase([]string{}, "0+dev.3")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("0+dev.3"))
	})

	It("allocates the next final release after the highest existing one", func() {
		existing := []string{"1", "2", "3"}
		v, err := Rebase(existing, "1")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("4"))
		for _, s := range existing {
			Ω(v.Compare(MustParse(s))).Should(Equal(1))
		}
	})

	It("increments the last numeric component of dotted versions", func() {
		v, err := Rebase([]string{"1.2", "1.10", "1.9+dev.3"}, "1.0")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("1.11"))
	})

	It("allocates dev releases on top of the highest version", func() {
		v, err := Rebase([]string{"1", "2", "3"}, "0+dev.1")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("3+dev.1"))

		v, err = Rebase([]string{"1", "3+dev.2", "3"}, "0+dev.1")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("3+dev.3"))
	})

	It("is always strictly greater than every existing version", func() {
		for _, existing := range [][]string{
			{"1"},
			{"7", "7+dev.9", "6.5"},
			{"2-rc.1", "1.9"},
			{"0.1.alpha"},
			{"1", "3+foo.2"},
		} {
			for _, target := range []string{"1", "1+dev.1"} {
				v, err := Rebase(existing, target)
				Ω(err).ShouldNot(HaveOccurred())
				for _, s := range existing {
					Ω(v.Compare(MustParse(s))).Should(Equal(1), "%s should follow %s", v, s)
				}
			}
		}
	})

	It("moves past post-releases that sort above dev", func() {
		v, err := Rebase([]string{"1", "3+foo.2"}, "1+dev.1")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(v.String()).Should(Equal("4+dev.1"))
	})

	It("propagates parse errors", func() {
		_, err := Rebase([]string{"1", "bogus version"}, "2")
		Ω(err).Should(HaveOccurred())

		_, err = Rebase([]string{"1"}, "")
		Ω(err).Should(HaveOccurred())
	})
})
