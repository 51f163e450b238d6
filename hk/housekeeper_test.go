package hk_test

import (
	"sync/atomic"
	"time"

	"github.com/sdcore/corevault/hk"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered callback once and stops when it returns a negative interval", func() {
		var fired int32
		hk.Reg("once-then-stop", func() time.Duration {
			atomic.AddInt32(&fired, 1)
			return -1 // stop firing
		}, time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&fired) }, time.Second, 5*time.Millisecond).
			Should(Equal(int32(1)))

		time.Sleep(20 * time.Millisecond)
		Expect(atomic.LoadInt32(&fired)).To(Equal(int32(1)))
	})

	It("reschedules a callback repeatedly until unregistered", func() {
		var count int32
		hk.Reg("repeating", func() time.Duration {
			atomic.AddInt32(&count, 1)
			return 5 * time.Millisecond
		}, time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&count) }, time.Second, 5*time.Millisecond).
			Should(BeNumerically(">=", 3))

		hk.Unreg("repeating")
		seen := atomic.LoadInt32(&count)
		time.Sleep(30 * time.Millisecond)
		Expect(atomic.LoadInt32(&count)).To(BeNumerically("<=", seen+1))
	})

	It("lets a later registration under the same name replace the earlier one", func() {
		var a, b int32
		hk.Reg("replaceable", func() time.Duration {
			atomic.AddInt32(&a, 1)
			return time.Hour
		}, time.Millisecond)
		hk.Reg("replaceable", func() time.Duration {
			atomic.AddInt32(&b, 1)
			return -1
		}, time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&b) }, time.Second, 5*time.Millisecond).
			Should(Equal(int32(1)))
		Expect(atomic.LoadInt32(&a)).To(Equal(int32(0)))
	})
})
