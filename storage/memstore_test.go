package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/stela/series"
	"github.com/luma/stela/storage"
)

func mustParse(payload string) series.Identifier {
	id, err := series.Parse([]byte(payload))
	Expect(err).To(Succeed())
	return id
}

var _ = Describe("MemStore", func() {
	var store *storage.MemStore

	BeforeEach(func() {
		store = storage.NewMemStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("WritePoint", func() {
		It("assigns increasing sequence numbers", func() {
			id := mustParse("cpu host=a")

			seq, err := store.WritePoint(context.Background(), id, 1, 0.5)
			Expect(err).To(Succeed())
			Expect(seq).To(Equal(uint64(1)))

			seq, err = store.WritePoint(context.Background(), id, 2, 0.6)
			Expect(err).To(Succeed())
			Expect(seq).To(Equal(uint64(2)))
		})

		It("registers one series per canonical identifier", func() {
			_, err := store.WritePoint(context.Background(), mustParse("cpu host=a region=eu"), 1, 0.5)
			Expect(err).To(Succeed())

			// Same series, tags spelled in the other order.
			_, err = store.WritePoint(context.Background(), mustParse("cpu region=eu host=a"), 2, 0.6)
			Expect(err).To(Succeed())

			Expect(store.SeriesCount()).To(Equal(1))
			Expect(store.PointCount()).To(Equal(uint64(2)))
		})

		It("refuses writes after Close", func() {
			Expect(store.Close()).To(Succeed())

			_, err := store.WritePoint(context.Background(), mustParse("cpu host=a"), 1, 0.5)
			Expect(err).To(MatchError(storage.ErrClosed))
		})
	})

	Describe("Close", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})
	})

	Describe("Backup / Restore", func() {
		It("round-trips the store contents", func() {
			_, err := store.WritePoint(context.Background(), mustParse("cpu host=a"), 1, 0.5)
			Expect(err).To(Succeed())
			_, err = store.WritePoint(context.Background(), mustParse("mem host=a"), 2, 1024)
			Expect(err).To(Succeed())

			snapshot, err := store.Backup()
			Expect(err).To(Succeed())

			restored := storage.NewMemStore()
			defer restored.Close()

			Expect(restored.Restore(snapshot)).To(Succeed())
			Expect(restored.SeriesCount()).To(Equal(2))
			Expect(restored.PointCount()).To(Equal(uint64(2)))

			again, err := restored.Backup()
			Expect(err).To(Succeed())
			Expect(string(again)).To(Equal(string(snapshot)))
		})

		It("continues sequence numbers after a restore", func() {
			_, err := store.WritePoint(context.Background(), mustParse("cpu host=a"), 1, 0.5)
			Expect(err).To(Succeed())

			snapshot, err := store.Backup()
			Expect(err).To(Succeed())

			restored := storage.NewMemStore()
			defer restored.Close()
			Expect(restored.Restore(snapshot)).To(Succeed())

			seq, err := restored.WritePoint(context.Background(), mustParse("cpu host=a"), 2, 0.6)
			Expect(err).To(Succeed())
			Expect(seq).To(Equal(uint64(2)))
		})

		It("rejects a snapshot that is not JSON", func() {
			Expect(store.Restore([]byte("not json"))).To(MatchError(storage.ErrBadSnapshot))
		})
	})

	Describe("Reset", func() {
		It("clears all state", func() {
			_, err := store.WritePoint(context.Background(), mustParse("cpu host=a"), 1, 0.5)
			Expect(err).To(Succeed())

			Expect(store.Reset()).To(Succeed())
			Expect(store.SeriesCount()).To(Equal(0))
			Expect(store.PointCount()).To(Equal(uint64(0)))
		})

		It("is idempotent and safe to call before any write", func() {
			Expect(store.Reset()).To(Succeed())
			Expect(store.Reset()).To(Succeed())
			Expect(store.Reset()).To(Succeed())
			Expect(store.SeriesCount()).To(Equal(0))
		})
	})
})
