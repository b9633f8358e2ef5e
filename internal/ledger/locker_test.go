package ledger

import (
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Locker", func() {
	It("excludes holders of the same key and forgets released keys", func() {
		l := NewLocker()
		var inside, maxInside int32
		var wg sync.WaitGroup

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := l.Lock("rec-1")
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()

		Expect(maxInside).To(Equal(int32(1)))
		Expect(l.held()).To(Equal(0))
	})

	It("does not block different keys", func() {
		l := NewLocker()
		unlockA := l.Lock("a")
		done := make(chan struct{})
		go func() {
			unlockB := l.Lock("b")
			unlockB()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
		unlockA()
	})
})
