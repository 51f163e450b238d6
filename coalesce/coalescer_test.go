package coalesce_test

import (
	"time"

	"github.com/sdcore/corevault/coalesce"
	"github.com/sdcore/corevault/core"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func ts(ms int) time.Time { return time.Unix(0, int64(ms)*int64(time.Millisecond)) }

var _ = Describe("Coalescer", func() {
	var c *coalesce.Coalescer

	BeforeEach(func() {
		c = coalesce.New(500*time.Millisecond, nil)
	})

	It("collapses Remove(A) then Create(A) within 50ms into a single Modified (S1 atomic save)", func() {
		c.Feed(core.FsEvent{Kind: core.Remove, Paths: []string{"a.txt"}, Inode: 1, TS: ts(0)})
		c.Feed(core.FsEvent{Kind: core.CreateFile, Paths: []string{"a.txt"}, Inode: 1, TS: ts(40)})

		Expect(c.Flush(ts(120))).To(BeEmpty(), "debounce window has not elapsed yet")

		ops := c.Flush(ts(145))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.Modified("a.txt")))
	})

	It("emits nothing for Create(p) then Remove(p) within the window (invariant 2)", func() {
		c.Feed(core.FsEvent{Kind: core.CreateFile, Paths: []string{"p"}, Inode: 2, TS: ts(0)})
		c.Feed(core.FsEvent{Kind: core.Remove, Paths: []string{"p"}, Inode: 2, TS: ts(10)})

		Expect(c.Flush(ts(1000))).To(BeEmpty())
	})

	It("collapses Create then Modify into a single Create", func() {
		c.Feed(core.FsEvent{Kind: core.CreateFile, Paths: []string{"p"}, Inode: 3, TS: ts(0)})
		c.Feed(core.FsEvent{Kind: core.Modify, Paths: []string{"p"}, Inode: 3, TS: ts(20)})

		ops := c.Flush(ts(200))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.CreatedFile("p")))
	})

	It("flushes an already-paired rename on the very next tick, without re-imposing the rename window", func() {
		c.Feed(core.FsEvent{Kind: core.RenameBoth, Paths: []string{"a.txt", "b.txt"}, Inode: 4, TS: ts(0)})

		ops := c.Flush(ts(100))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.Renamed("a.txt", "b.txt")))
	})

	It("pairs a RenameFrom with the matching-inode RenameTo inside the window", func() {
		c.Feed(core.FsEvent{Kind: core.RenameFrom, Paths: []string{"a.txt"}, Inode: 5, TS: ts(0)})
		c.Feed(core.FsEvent{Kind: core.RenameTo, Paths: []string{"b.txt"}, Inode: 5, TS: ts(200)})

		ops := c.Flush(ts(300))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.Renamed("a.txt", "b.txt")))
	})

	It("demotes an unpaired RenameFrom to Removed once the window lapses", func() {
		c.Feed(core.FsEvent{Kind: core.RenameFrom, Paths: []string{"a.txt"}, Inode: 6, TS: ts(0)})

		Expect(c.Flush(ts(300))).To(BeEmpty(), "still waiting for the destination")
		ops := c.Flush(ts(600))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.Removed("a.txt")))
	})

	It("promotes an unpaired RenameTo to CreatedFile once the window lapses", func() {
		c.Feed(core.FsEvent{Kind: core.RenameTo, Paths: []string{"b.txt"}, Inode: 7, TS: ts(0)})

		Expect(c.Flush(ts(300))).To(BeEmpty(), "still waiting for the source")
		ops := c.Flush(ts(600))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.CreatedFile("b.txt")))
	})

	It("drops a rename paired to an ignored destination path", func() {
		c = coalesce.New(500*time.Millisecond, func(path string) bool { return path == "b.txt" })
		c.Feed(core.FsEvent{Kind: core.RenameBoth, Paths: []string{"a.txt", "b.txt"}, Inode: 8, TS: ts(0)})

		Expect(c.Flush(ts(600))).To(BeEmpty())
	})

	It("emits at most one op per inode within a single flush window (invariant 1)", func() {
		c.Feed(core.FsEvent{Kind: core.Modify, Paths: []string{"p"}, Inode: 9, TS: ts(0)})
		c.Feed(core.FsEvent{Kind: core.Modify, Paths: []string{"p"}, Inode: 9, TS: ts(5)})
		c.Feed(core.FsEvent{Kind: core.Modify, Paths: []string{"p"}, Inode: 9, TS: ts(10)})

		ops := c.Flush(ts(200))
		Expect(ops).To(HaveLen(1))
		Expect(ops[0]).To(Equal(core.Modified("p")))
	})
})
