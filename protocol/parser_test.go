package protocol_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/stela/protocol"
	"github.com/luma/stela/series"
)

var _ = Describe("Parser", func() {
	var parser *protocol.Parser

	BeforeEach(func() {
		parser = protocol.NewParser(0)
	})

	It("emits nothing when a line is incomplete", func() {
		outcomes := parser.Feed([]byte("+cpu.user host=web01"))
		Expect(outcomes).To(BeEmpty())
	})

	It("classifies a bare newline as an error immediately", func() {
		outcomes := parser.Feed([]byte("\n"))
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Point).To(BeNil())
		Expect(errors.Is(outcomes[0].Err, protocol.ErrEmptyFrame)).To(BeTrue())
	})

	It("classifies a bare CRLF as an error immediately", func() {
		outcomes := parser.Feed([]byte("\r\n"))
		Expect(outcomes).To(HaveLen(1))
		Expect(errors.Is(outcomes[0].Err, protocol.ErrEmptyFrame)).To(BeTrue())
	})

	It("commits a full write as a single point", func() {
		outcomes := parser.Feed([]byte("+cpu.user host=web01\r\n:1630000000000000000\r\n+0.75\r\n"))
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Err).To(Succeed())

		point := outcomes[0].Point
		Expect(point).NotTo(BeNil())
		Expect(point.Series.Name).To(Equal("cpu.user"))
		Expect(point.Series.Tags).To(Equal([]series.Tag{{Key: "host", Value: "web01"}}))
		Expect(point.Timestamp).To(Equal(uint64(1630000000000000000)))
		Expect(point.Value).To(Equal(0.75))
	})

	It("commits a write that arrives one byte at a time", func() {
		var outcomes []protocol.Outcome

		for _, b := range []byte("+mem host=a\n:123\n:42\n") {
			outcomes = append(outcomes, parser.Feed([]byte{b})...)
		}

		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Point).NotTo(BeNil())
		Expect(outcomes[0].Point.Timestamp).To(Equal(uint64(123)))
		Expect(outcomes[0].Point.Value).To(Equal(42.0))
	})

	It("commits pipelined writes in wire order", func() {
		outcomes := parser.Feed([]byte("+a t=1\n:1\n:10\n+b t=2\n:2\n:20\n"))
		Expect(outcomes).To(HaveLen(2))
		Expect(outcomes[0].Point.Series.Name).To(Equal("a"))
		Expect(outcomes[1].Point.Series.Name).To(Equal("b"))
	})

	It("accepts an RFC3339 timestamp frame", func() {
		outcomes := parser.Feed([]byte("+disk.io host=db\n+2021-08-31T12:00:00Z\n:7\n"))
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Point).NotTo(BeNil())
		Expect(outcomes[0].Point.Timestamp).To(Equal(uint64(1630411200000000000)))
	})

	Describe("series validation", func() {
		It("rejects a name with zero tags without waiting for the rest of the write", func() {
			outcomes := parser.Feed([]byte("+metric\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, series.ErrNoTags)).To(BeTrue())
		})

		It("emits exactly one error for a malformed write sent whole", func() {
			outcomes := parser.Feed([]byte("+metric\r\n:123\r\n+5.0\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, series.ErrNoTags)).To(BeTrue())
		})

		It("accepts the next independent write after an error", func() {
			outcomes := parser.Feed([]byte("+metric\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].Err).To(HaveOccurred())

			outcomes = parser.Feed([]byte("+metric tag=1\r\n:123\r\n+5.0\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].Err).To(Succeed())
			Expect(outcomes[0].Point.Value).To(Equal(5.0))
		})

		It("commits a valid write pipelined behind a malformed one", func() {
			outcomes := parser.Feed([]byte("+metric\r\n+a t=1\r\n:1\r\n:2\r\n"))
			Expect(outcomes).To(HaveLen(2))
			Expect(errors.Is(outcomes[0].Err, series.ErrNoTags)).To(BeTrue())

			Expect(outcomes[1].Err).To(Succeed())
			Expect(outcomes[1].Point.Series.Name).To(Equal("a"))
			Expect(outcomes[1].Point.Timestamp).To(Equal(uint64(1)))
			Expect(outcomes[1].Point.Value).To(Equal(2.0))
		})

		It("absorbs a failed write's leftover frames without extra errors", func() {
			outcomes := parser.Feed([]byte("+metric\r\n:123\r\n+5.0\r\n+b t=2\r\n:9\r\n:3\r\n"))
			Expect(outcomes).To(HaveLen(2))
			Expect(errors.Is(outcomes[0].Err, series.ErrNoTags)).To(BeTrue())

			Expect(outcomes[1].Err).To(Succeed())
			Expect(outcomes[1].Point.Series.Name).To(Equal("b"))
		})
	})

	Describe("framing errors", func() {
		It("rejects an unterminated line past the length limit", func() {
			parser = protocol.NewParser(16)

			outcomes := parser.Feed([]byte("+" + strings.Repeat("x", 32)))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrFrameTooLong)).To(BeTrue())
		})

		It("resynchronises on the terminator after an oversized line", func() {
			parser = protocol.NewParser(16)

			outcomes := parser.Feed([]byte("+" + strings.Repeat("x", 32)))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrFrameTooLong)).To(BeTrue())

			// More of the same oversized line, still no terminator.
			outcomes = parser.Feed([]byte(strings.Repeat("x", 32)))
			Expect(outcomes).To(BeEmpty())

			outcomes = parser.Feed([]byte("xxx\n+ok t=1\n:1\n:2\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].Point).NotTo(BeNil())
			Expect(outcomes[0].Point.Series.Name).To(Equal("ok"))
		})

		It("rejects a terminated line past the length limit", func() {
			parser = protocol.NewParser(16)

			outcomes := parser.Feed([]byte("+" + strings.Repeat("x", 32) + "\n+ok t=1\n:1\n:2\n"))
			Expect(outcomes).To(HaveLen(2))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrFrameTooLong)).To(BeTrue())

			Expect(outcomes[1].Err).To(Succeed())
			Expect(outcomes[1].Point.Series.Name).To(Equal("ok"))
		})

		It("rejects reserved bulk and array sigils", func() {
			outcomes := parser.Feed([]byte("$5\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrReservedFrame)).To(BeTrue())

			parser = protocol.NewParser(0)
			outcomes = parser.Feed([]byte("*2\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrReservedFrame)).To(BeTrue())
		})

		It("rejects an unknown sigil", func() {
			outcomes := parser.Feed([]byte("!boom\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrBadSigil)).To(BeTrue())
		})

		It("rejects an integer frame where a series name is expected", func() {
			outcomes := parser.Feed([]byte(":123\r\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrExpectedName)).To(BeTrue())
		})

		It("rejects a non-numeric integer frame", func() {
			outcomes := parser.Feed([]byte("+cpu host=a\n:12a4\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrBadInteger)).To(BeTrue())
		})

		It("rejects an integer frame with too many digits", func() {
			outcomes := parser.Feed([]byte("+cpu host=a\n:111111111111111111111111111\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrBadInteger)).To(BeTrue())
		})

		It("rejects a malformed timestamp string", func() {
			outcomes := parser.Feed([]byte("+cpu host=a\n+yesterday\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrBadTimestamp)).To(BeTrue())
		})

		It("rejects a malformed value string", func() {
			outcomes := parser.Feed([]byte("+cpu host=a\n:1\n+fast\n"))
			Expect(outcomes).To(HaveLen(1))
			Expect(errors.Is(outcomes[0].Err, protocol.ErrBadValue)).To(BeTrue())
		})
	})
})

var _ = Describe("Parser.Flush", func() {
	var parser *protocol.Parser

	BeforeEach(func() {
		parser = protocol.NewParser(0)
	})

	It("commits a write whose final line never got a terminator", func() {
		outcomes := parser.Feed([]byte("+metric tag=1\r\n:123\r\n+5.0"))
		Expect(outcomes).To(BeEmpty())

		outcomes = parser.Flush()
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Err).To(Succeed())
		Expect(outcomes[0].Point.Timestamp).To(Equal(uint64(123)))
		Expect(outcomes[0].Point.Value).To(Equal(5.0))
	})

	It("reports a write left incomplete at stream end", func() {
		outcomes := parser.Feed([]byte("+metric tag=1\r\n"))
		Expect(outcomes).To(BeEmpty())

		outcomes = parser.Flush()
		Expect(outcomes).To(HaveLen(1))
		Expect(errors.Is(outcomes[0].Err, protocol.ErrUnexpectedEOF)).To(BeTrue())
	})

	It("emits nothing for an empty stream", func() {
		Expect(parser.Flush()).To(BeEmpty())
	})

	It("emits nothing after a write already failed", func() {
		outcomes := parser.Feed([]byte("+metric\r\n:123\r\n+5.0"))
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].Err).To(HaveOccurred())

		Expect(parser.Flush()).To(BeEmpty())
	})
})

var _ = Describe("RemoveTrailingCR", func() {
	It("does nothing if the data does not end in CR", func() {
		data := []byte("I am awesome data")
		Expect(protocol.RemoveTrailingCR(data)).To(Equal(data))
	})

	It("removes the trailing CR", func() {
		input := []byte("I am awesome data\r")
		output := []byte("I am awesome data")
		Expect(protocol.RemoveTrailingCR(input)).To(Equal(output))
	})
})
