package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/internal/worker"
)

var _ = Describe("Dispatcher", func() {
	var (
		d   *worker.Dispatcher
		buf *lockedBuffer
		ctx context.Context
	)

	BeforeEach(func() {
		buf = &lockedBuffer{}
		slog.SetDefault(slog.New(logger.NewTraceHandler(slog.NewJSONHandler(buf, nil))))
		d = worker.NewDispatcher(worker.Config{MaxConcurrency: 4})
		ctx = context.Background()
	})

	It("returns before the task completes", func() {
		release := make(chan struct{})
		var finished atomic.Bool

		Expect(d.Dispatch(ctx, "slow", func(context.Context) error {
			<-release
			finished.Store(true)
			return nil
		})).To(BeTrue())

		Expect(finished.Load()).To(BeFalse())
		Expect(d.InFlight()).To(Equal(1))

		close(release)
		Eventually(d.InFlight).Should(BeZero())
		Expect(finished.Load()).To(BeTrue())
	})

	It("removes failed tasks and logs the failure", func() {
		d.Dispatch(ctx, "import_repository", func(context.Context) error {
			return errors.New("upstream unavailable")
		})

		Eventually(d.InFlight).Should(BeZero())
		Eventually(func() string { return buf.String() }).Should(ContainSubstring("dispatched task failed"))
		Expect(buf.String()).To(ContainSubstring("upstream unavailable"))
		Expect(buf.String()).To(ContainSubstring(`"task":"import_repository"`))
	})

	It("isolates panics to the panicking task", func() {
		var ran atomic.Bool
		d.Dispatch(ctx, "boom", func(context.Context) error { panic("kaboom") })
		d.Dispatch(ctx, "fine", func(context.Context) error {
			ran.Store(true)
			return nil
		})

		Eventually(d.InFlight).Should(BeZero())
		Expect(ran.Load()).To(BeTrue())
		Eventually(func() string { return buf.String() }).Should(ContainSubstring("panic recovered in dispatched task"))
	})

	It("detaches tasks from the caller's cancellation", func() {
		reqCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		release := make(chan struct{})

		d.Dispatch(reqCtx, "detached", func(taskCtx context.Context) error {
			<-release
			errCh <- taskCtx.Err()
			return nil
		})
		cancel()
		close(release)

		Eventually(errCh).Should(Receive(BeNil()))
	})

	It("bounds concurrency", func() {
		var running, peak atomic.Int32
		release := make(chan struct{})

		for i := 0; i < 10; i++ {
			d.Dispatch(ctx, "bounded", func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
				return nil
			})
		}

		Eventually(running.Load).Should(Equal(int32(4)))
		Consistently(running.Load, 50*time.Millisecond).Should(Equal(int32(4)))
		Expect(d.InFlight()).To(Equal(10))

		close(release)
		Eventually(d.InFlight).Should(BeZero())
		Expect(peak.Load()).To(Equal(int32(4)))
	})

	Describe("Drain", func() {
		It("waits for in-flight tasks and refuses new ones", func() {
			release := make(chan struct{})
			d.Dispatch(ctx, "pending", func(context.Context) error {
				<-release
				return nil
			})

			drained := make(chan int, 1)
			go func() {
				abandoned, _ := d.Drain(context.Background())
				drained <- abandoned
			}()

			Eventually(func() bool {
				return d.Dispatch(ctx, "late", func(context.Context) error { return nil })
			}).Should(BeFalse())
			Consistently(drained, 20*time.Millisecond).ShouldNot(Receive())

			close(release)
			Eventually(drained).Should(Receive(Equal(0)))
		})

		It("reports abandoned tasks when the grace period ends", func() {
			release := make(chan struct{})
			defer close(release)
			d.Dispatch(ctx, "stuck", func(context.Context) error {
				<-release
				return nil
			})

			drainCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			abandoned, err := d.Drain(drainCtx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(abandoned).To(Equal(1))
		})
	})
})
