package cmd

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/luma/stela/internal/env"
	"github.com/luma/stela/series"
	"github.com/luma/stela/storage"
)

var _ = Describe("applyEndpointConfig", func() {
	var flags *pflag.FlagSet

	BeforeEach(func() {
		// A fresh flag set per spec: registering the flags also resets
		// the package-level values to their defaults.
		flags = pflag.NewFlagSet("start", pflag.ContinueOnError)
		flags.IntVarP(&port, "port", "p", 8282, "")
		flags.StringVar(&httpPort, "http-port", "8181", "")
		flags.StringVarP(&host, "host", "a", "0.0.0.0", "")
	})

	It("falls back to the environment when no flag was set", func() {
		applyEndpointConfig(flags, &env.Config{
			Host:     "10.1.2.3",
			Port:     9282,
			HTTPPort: "9181",
		})

		Expect(host).To(Equal("10.1.2.3"))
		Expect(port).To(Equal(9282))
		Expect(httpPort).To(Equal("9181"))
	})

	It("keeps a flag the user set over the environment", func() {
		Expect(flags.Set("port", "7000")).To(Succeed())

		applyEndpointConfig(flags, &env.Config{
			Host:     "10.1.2.3",
			Port:     9282,
			HTTPPort: "9181",
		})

		Expect(port).To(Equal(7000))
		Expect(host).To(Equal("10.1.2.3"))
		Expect(httpPort).To(Equal("9181"))
	})
})

var _ = Describe("store snapshots", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "stela-snapshot")
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("round-trips the store through a snapshot file", func() {
		path := filepath.Join(dir, "stela.snapshot")

		store := storage.NewMemStore()
		defer store.Close()

		id, err := series.Parse([]byte("cpu.user host=web01"))
		Expect(err).To(Succeed())

		_, err = store.WritePoint(context.Background(), id, 123, 0.5)
		Expect(err).To(Succeed())

		Expect(saveSnapshot(store, path)).To(Succeed())

		restored := storage.NewMemStore()
		defer restored.Close()

		Expect(restoreSnapshot(restored, path)).To(Succeed())
		Expect(restored.SeriesCount()).To(Equal(1))
		Expect(restored.PointCount()).To(Equal(uint64(1)))
	})

	It("treats a missing snapshot file as a first run", func() {
		store := storage.NewMemStore()
		defer store.Close()

		Expect(restoreSnapshot(store, filepath.Join(dir, "absent"))).To(Succeed())
		Expect(store.PointCount()).To(Equal(uint64(0)))
	})

	It("does nothing when no path is configured", func() {
		store := storage.NewMemStore()
		defer store.Close()

		Expect(restoreSnapshot(store, "")).To(Succeed())
		Expect(saveSnapshot(store, "")).To(Succeed())
	})
})
