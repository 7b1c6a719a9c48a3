package db_test

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/shieldproject/relstore/core/bus"
	. "github.com/shieldproject/relstore/db"
)

var _ = Describe("Database", func() {
	Describe("Connecting to the database", func() {
		It("rejects unknown drivers", func() {
			_, err := Connect("oracle", "does-not-matter")
			Ω(err).Should(HaveOccurred())
		})

		It("can connect to an in-memory SQLite database", func() {
			db, err := Connect("sqlite3", ":memory:")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(db.Connected()).Should(BeTrue())
			Ω(db.Disconnect()).Should(Succeed())
			Ω(db.Connected()).Should(BeFalse())
			Ω(db.Disconnect()).Should(Succeed())
			Ω(db.Exec(`SELECT 1`)).ShouldNot(Succeed())
		})
	})

	Describe("Running SQL queries", func() {
		var db *DB

		BeforeEach(func() {
			var err error
			db, err = Database(
				`CREATE TABLE things (type TEXT, number INTEGER)`,
				`INSERT INTO things (type, number) VALUES ('cat', 1), ('cat', 2), ('dog', 3)`,
			)
			Ω(err).ShouldNot(HaveOccurred())
		})

		AfterEach(func() {
			db.Disconnect()
		})

		It("can count rows", func() {
			n, err := db.Count(`SELECT * FROM things WHERE type = ?`, "cat")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(n).Should(Equal(uint(2)))

			yes, err := db.Exists(`SELECT * FROM things WHERE type = ?`, "dog")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(yes).Should(BeTrue())

			yes, err = db.Exists(`SELECT * FROM things WHERE type = ?`, "fish")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(yes).Should(BeFalse())
		})

		It("can run raw queries", func() {
			r, err := db.Query(`SELECT SUM(number) FROM things`)
			Ω(err).ShouldNot(HaveOccurred())
			defer r.Close()

			var sum int
			Ω(r.Next()).Should(BeTrue())
			Ω(r.Scan(&sum)).Should(Succeed())
			Ω(sum).Should(Equal(6))
		})

		It("commits transactions that succeed", func() {
			Ω(db.Transactionally(func(tx *Tx) error {
				return tx.Exec(`INSERT INTO things (type, number) VALUES ('fish', 4)`)
			})).Should(Succeed())

			n, err := db.Count(`SELECT * FROM things`)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(n).Should(Equal(uint(4)))
		})

		It("rolls back transactions that fail", func() {
			err := db.Transactionally(func(tx *Tx) error {
				if err := tx.Exec(`INSERT INTO things (type, number) VALUES ('fish', 4)`); err != nil {
					return err
				}
				return fmt.Errorf("changed my mind")
			})
			Ω(err).Should(MatchError("changed my mind"))

			n, err := db.Count(`SELECT * FROM things`)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(n).Should(Equal(uint(3)))
		})
	})

	Describe("Announcing catalog changes", func() {
		var (
			db *DB
			ch chan bus.Event
		)

		BeforeEach(func() {
			var err error
			db, err = Database()
			Ω(err).ShouldNot(HaveOccurred())

			b := bus.New(2, 32)
			db.Inform(b)
			ch, _, err = b.Register([]string{CatalogQueue})
			Ω(err).ShouldNot(HaveOccurred())
		})

		AfterEach(func() {
			db.Disconnect()
		})

		It("announces objects created in a committed transaction", func() {
			Ω(db.Transactionally(func(tx *Tx) error {
				_, err := tx.EnsureRelease("redis")
				return err
			})).Should(Succeed())

			var ev bus.Event
			Eventually(ch).Should(Receive(&ev))
			Ω(ev.Event).Should(Equal(bus.CreateObjectEvent))
			Ω(ev.Type).Should(Equal("release"))
			Ω(ev.Data).Should(HaveKeyWithValue("name", "redis"))
		})

		It("does not announce objects from a rolled back transaction", func() {
			Ω(db.Transactionally(func(tx *Tx) error {
				if _, err := tx.EnsureRelease("redis"); err != nil {
					return err
				}
				return fmt.Errorf("nope")
			})).ShouldNot(Succeed())

			Consistently(ch).ShouldNot(Receive())
			r, err := db.GetRelease("redis")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(r).Should(BeNil())
		})
	})
})
