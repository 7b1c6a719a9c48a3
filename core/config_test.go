package core_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	. "github.com/shieldproject/relstore/core"
)

var _ = Describe("Configuration", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "relstore-config-")
		Ω(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	write := func(yml string) string {
		path := filepath.Join(dir, "relstore.yml")
		Ω(os.WriteFile(path, []byte(yml), 0644)).Should(Succeed())
		return path
	}

	It("works out of the box", func() {
		c, err := ReadConfig("")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(c.Database.Type).Should(Equal("sqlite3"))
		Ω(c.Database.DSN).Should(Equal(filepath.Join("relstore", "catalog.db")))
		Ω(c.Blobstore.Provider).Should(Equal("local"))
		Ω(c.Blobstore.Properties["path"]).Should(Equal(filepath.Join("relstore", "blobs")))
		Ω(c.Ingest.TempDir).Should(Equal(filepath.Join("relstore", "tmp")))
		Ω(c.Ingest.ShareBlobs).Should(BeTrue())
		Ω(c.Lock.Backend).Should(Equal("local"))
		Ω(c.Lock.Timeout).Should(Equal(300))
	})

	It("reads settings from a YAML file", func() {
		c, err := ReadConfig(write(`---
data-dir: /var/vcap/store/relstore
database:
  type: postgres
  dsn: postgres://relstore@db/relstore
blobstore:
  provider: s3
  properties:
    bucket: releases
    access_key_id: AKI
    secret_access_key: secret
lock:
  backend: etcd
  timeout: 60
  endpoints: [https://etcd-0:2379, https://etcd-1:2379]
ingest:
  workers: 8
  share-blobs: false
scheduler:
  threads: 3
metrics:
  listen: 127.0.0.1:9101
`))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(c.Database.Type).Should(Equal("postgres"))
		Ω(c.Database.DSN).Should(Equal("postgres://relstore@db/relstore"))
		Ω(c.Blobstore.Properties).ShouldNot(HaveKey("path"))
		Ω(c.BlobstoreConfig().Properties["bucket"]).Should(Equal("releases"))
		Ω(c.Lock.Backend).Should(Equal("etcd"))
		Ω(c.Lock.Timeout).Should(Equal(60))
		Ω(c.Lock.Endpoints).Should(HaveLen(2))
		Ω(c.Ingest.Workers).Should(Equal(8))
		Ω(c.Ingest.ShareBlobs).Should(BeFalse())
		Ω(c.Ingest.TempDir).Should(Equal("/var/vcap/store/relstore/tmp"))
		Ω(c.Scheduler.Threads).Should(Equal(3))
		Ω(c.Metrics.Listen).Should(Equal("127.0.0.1:9101"))
	})

	It("lets the environment override the file", func() {
		os.Setenv("RELSTORE_INGEST_WORKERS", "16")
		os.Setenv("RELSTORE_LOCK_BACKEND", "database")
		defer os.Unsetenv("RELSTORE_INGEST_WORKERS")
		defer os.Unsetenv("RELSTORE_LOCK_BACKEND")

		c, err := ReadConfig(write("ingest: {workers: 2}\n"))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(c.Ingest.Workers).Should(Equal(16))
		Ω(c.Lock.Backend).Should(Equal("database"))
	})

	It("fails on unreadable or malformed files", func() {
		_, err := ReadConfig(filepath.Join(dir, "nonexistent.yml"))
		Ω(err).Should(HaveOccurred())

		_, err = ReadConfig(write("database: [this, is, not, a, map\n"))
		Ω(err).Should(HaveOccurred())
	})

	DescribeTable("validation",
		func(yml, msg string) {
			_, err := ReadConfig(write(yml))
			Ω(err).Should(HaveOccurred())
			Ω(err.Error()).Should(ContainSubstring(msg))
		},
		Entry("unknown database", "database: {type: oracle, dsn: x}\n", "database type 'oracle' is invalid"),
		Entry("no dsn", "database: {type: mysql}\n", "database dsn must be set"),
		Entry("unknown blobstore", "blobstore: {provider: ftp}\n", "blobstore provider 'ftp' is invalid"),
		Entry("unknown lock backend", "lock: {backend: zookeeper}\n", "lock backend 'zookeeper' is invalid"),
		Entry("negative lock timeout", "lock: {timeout: -1}\n", "lock timeout value '-1' is invalid"),
		Entry("no workers", "ingest: {workers: 0}\n", "ingest workers value '0' is invalid"),
		Entry("no threads", "scheduler: {threads: -2}\n", "scheduler threads value '-2' is invalid"),
		Entry("no data dir", "data-dir: ''\n", "data-dir must be set"),
	)
})
