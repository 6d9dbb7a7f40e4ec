package escrow_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/fatih/color"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/domain/domaintest"
	"swap-escrow/internal/escrow"
	"swap-escrow/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("basket swap", func() {
	var (
		ctx      context.Context
		now      *clock
		ledger   *memory.Ledger
		registry *escrow.Registry

		alice = domaintest.Identity("alice")
		bob   = domaintest.Identity("bob")
		tka   = domaintest.Asset("TKA")
		tkb   = domaintest.Asset("TKB")
	)

	free := func(owner domain.Identity, asset domain.AssetID) string {
		b, err := ledger.Balance(ctx, owner, asset)
		Expect(err).Should(BeNil())
		return b.Free.String()
	}
	held := func(owner domain.Identity, asset domain.AssetID) string {
		b, err := ledger.Balance(ctx, owner, asset)
		Expect(err).Should(BeNil())
		return b.Held.String()
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
		ledger = memory.NewLedger()
		registry = escrow.NewRegistry(ledger, memory.NewSwapStore(memory.NewSwapEventStore()),
			escrow.WithClock(now.Now),
			escrow.WithLogger(zap.NewNop()),
		)

		By("Fund and approve both parties")
		Expect(ledger.Credit(ctx, alice, tka, math.NewInt(1000))).Should(Succeed())
		Expect(ledger.Approve(ctx, alice, tka, math.NewInt(1000))).Should(Succeed())
		Expect(ledger.Credit(ctx, bob, tkb, math.NewInt(1000))).Should(Succeed())
		Expect(ledger.Approve(ctx, bob, tkb, math.NewInt(1000))).Should(Succeed())
	})

	Context("when Alice offers 100 TKA for 50 TKB", func() {
		var swapID string

		BeforeEach(func() {
			var err error
			swapID, err = registry.Create(ctx, alice, escrow.CreateRequest{
				Counterparty: bob,
				Inputs:       domaintest.Basket("TKA", 100),
				Outputs:      domaintest.Basket("TKB", 50),
				Deadline:     now.Now().Add(time.Hour),
			})
			Expect(err).Should(BeNil())
			By(color.GreenString("Swap created = %v", swapID))
		})

		It("should hold the inputs while active", func() {
			view, err := registry.Get(ctx, swapID)
			Expect(err).Should(BeNil())
			Expect(view.Status).Should(Equal(domain.StatusActive))
			Expect(held(alice, tka)).Should(Equal("100"))
			Expect(free(alice, tka)).Should(Equal("900"))
		})

		It("should settle both sides when Bob executes before the deadline", func() {
			view, err := registry.Execute(ctx, bob, swapID)
			Expect(err).Should(BeNil())
			Expect(view.Status).Should(Equal(domain.StatusCompleted))

			Expect(free(alice, tkb)).Should(Equal("50"))
			Expect(free(bob, tka)).Should(Equal("100"))
			Expect(held(alice, tka)).Should(Equal("0"))
		})

		It("should refuse Bob's execute after the deadline", func() {
			now.Advance(time.Hour + time.Second)

			_, err := registry.Execute(ctx, bob, swapID)
			Expect(err).Should(MatchError(escrow.ErrDeadlineExpired))

			view, err := registry.Get(ctx, swapID)
			Expect(err).Should(BeNil())
			Expect(view.Status).Should(Equal(domain.StatusActive))
			Expect(held(alice, tka)).Should(Equal("100"))
			Expect(free(bob, tkb)).Should(Equal("1000"))
		})

		It("should refund Alice when she cancels", func() {
			view, err := registry.Cancel(ctx, alice, swapID)
			Expect(err).Should(BeNil())
			Expect(view.Status).Should(Equal(domain.StatusCancelled))

			Expect(free(alice, tka)).Should(Equal("1000"))
			Expect(held(alice, tka)).Should(Equal("0"))
		})

		It("should report insufficient funds when Bob approved more than he owns", func() {
			Expect(ledger.Approve(ctx, bob, tkb, math.NewInt(5000))).Should(Succeed())
			id, err := registry.Create(ctx, alice, escrow.CreateRequest{
				Counterparty: bob,
				Inputs:       domaintest.Basket("TKA", 100),
				Outputs:      domaintest.Basket("TKB", 2000),
				Deadline:     now.Now().Add(time.Hour),
			})
			Expect(err).Should(BeNil())

			_, err = registry.Execute(ctx, bob, id)
			Expect(err).Should(MatchError(escrow.ErrCustodyFailure))
			var custody *escrow.CustodyError
			Expect(errors.As(err, &custody)).Should(BeTrue())
			Expect(custody.Reason).Should(Equal(escrow.ReasonInsufficientFunds))

			Expect(free(bob, tkb)).Should(Equal("1000"))
			Expect(held(alice, tka)).Should(Equal("200"))
		})

		It("should refuse Bob's cancel before the deadline", func() {
			_, err := registry.Cancel(ctx, bob, swapID)
			Expect(err).Should(MatchError(escrow.ErrDeadlineNotExpired))
		})
	})

	Context("when an input amount is zero", func() {
		It("should fail without taking any hold", func() {
			_, err := registry.Create(ctx, alice, escrow.CreateRequest{
				Counterparty: bob,
				Inputs:       domaintest.Basket("TKA", 100, "TKA", 0),
				Outputs:      domaintest.Basket("TKB", 50),
				Deadline:     now.Now().Add(time.Hour),
			})
			Expect(err).Should(MatchError(escrow.ErrNonPositiveAmount))
			Expect(held(alice, tka)).Should(Equal("0"))
			Expect(free(alice, tka)).Should(Equal("1000"))
		})
	})
})
