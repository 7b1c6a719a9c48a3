package bus_test

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/shieldproject/relstore/core/bus"
)

var _ = Describe("Message Bus", func() {
	var b *bus.Bus

	BeforeEach(func() {
		b = bus.New(4, 8)
	})

	It("delivers events to clients registered for the queue", func() {
		ch, _, err := b.Register([]string{"ingest:redis"})
		Ω(err).ShouldNot(HaveOccurred())

		b.Send(bus.IngestStageEvent, "", map[string]interface{}{"stage": "Validating"}, "ingest:redis")
		var ev bus.Event
		Eventually(ch).Should(Receive(&ev))
		Ω(ev.Event).Should(Equal(bus.IngestStageEvent))
		Ω(ev.Queue).Should(Equal("ingest:redis"))
		Ω(ev.Data).Should(Equal(map[string]interface{}{"stage": "Validating"}))

		b.Send(bus.IngestStageEvent, "", nil, "ingest:nginx")
		Consistently(ch).ShouldNot(Receive())
	})

	It("delivers everything to wildcard clients", func() {
		ch, _, err := b.Register([]string{"*"})
		Ω(err).ShouldNot(HaveOccurred())

		b.Send(bus.CreateObjectEvent, "package", struct {
			Name string `json:"name"`
			Size int    `json:"size"`
		}{"nginx", 42}, "releases")

		var ev bus.Event
		Eventually(ch).Should(Receive(&ev))
		Ω(ev.Type).Should(Equal("package"))
		Ω(ev.Data).Should(HaveKeyWithValue("name", "nginx"))
		Ω(ev.Data).Should(HaveKeyWithValue("size", float64(42)))
	})

	It("closes the channel on unregister", func() {
		ch, id, err := b.Register([]string{"releases"})
		Ω(err).ShouldNot(HaveOccurred())

		b.Unregister(id)
		b.Unregister(id)
		Eventually(ch).Should(BeClosed())
		Ω(b.DumpState().Connections.Current).Should(Equal(int64(0)))
	})

	It("limits the number of clients", func() {
		for i := 0; i < 4; i++ {
			_, _, err := b.Register([]string{fmt.Sprintf("q%d", i)})
			Ω(err).ShouldNot(HaveOccurred())
		}
		_, _, err := b.Register([]string{"one-too-many"})
		Ω(err).Should(HaveOccurred())
	})

	It("drops clients that fall too far behind", func() {
		ch, _, err := b.Register([]string{"releases"})
		Ω(err).ShouldNot(HaveOccurred())

		for i := 0; i < 9; i++ {
			b.Send(bus.IngestArtifactEvent, "", i, "releases")
		}

		n := 0
		for range ch {
			n++
		}
		Ω(n).Should(Equal(8))

		state := b.DumpState()
		Ω(state.Connections.Dropped).Should(Equal(int64(1)))
		Ω(state.Events[bus.IngestArtifactEvent]).Should(Equal(int64(9)))
		Ω(state.Messages[bus.IngestArtifactEvent]).Should(Equal(int64(8)))
	})

	It("ignores sends on a nil bus", func() {
		var nobody *bus.Bus
		Ω(func() { nobody.Send(bus.ErrorEvent, "", "oops", "*") }).ShouldNot(Panic())
	})
})
