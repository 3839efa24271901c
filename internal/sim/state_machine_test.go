package sim_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/sim"
)

var _ = Describe("Engine state machine", func() {
	var e *sim.Engine

	BeforeEach(func() {
		var err error
		e, err = sim.New(sim.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	It("starts idle with a single seed entry", func() {
		Expect(e.State()).To(Equal(sim.Idle))
		Expect(e.History().Len()).To(Equal(1))
		Expect(e.Clock().Step).To(BeZero())
	})

	Describe("start, pause and resume", func() {
		It("moves between running and paused", func() {
			Expect(e.Start()).To(Succeed())
			Expect(e.State()).To(Equal(sim.Running))

			Expect(e.Pause()).To(Succeed())
			Expect(e.State()).To(Equal(sim.Paused))

			res, err := e.Step(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Advanced).To(BeFalse())

			Expect(e.Resume()).To(Succeed())
			Expect(e.State()).To(Equal(sim.Running))
		})

		It("refuses to resume from idle", func() {
			Expect(e.Resume()).To(MatchError(sim.ErrInvalidTransition))
		})

		It("parks in paused after a single step while running", func() {
			Expect(e.Start()).To(Succeed())
			res, err := e.Step(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Advanced).To(BeTrue())
			Expect(res.State).To(Equal(sim.Paused))
		})
	})

	Describe("reset", func() {
		It("returns to idle from any state", func() {
			Expect(e.Start()).To(Succeed())
			for i := 0; i < 10; i++ {
				_, err := e.Step(false)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(e.Reset()).To(Succeed())
			Expect(e.State()).To(Equal(sim.Idle))
			Expect(e.History().Len()).To(Equal(1))
			Expect(e.Metrics().Valid).To(BeFalse())
		})
	})

	Describe("convergence", func() {
		It("auto-pauses a converged free run and resumes on request", func() {
			Expect(e.Run(context.Background())).To(Succeed())
			Expect(e.State()).To(Equal(sim.AutoPaused))

			steps := e.Clock().Step
			Expect(e.Resume()).To(Succeed())
			res, err := e.Step(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Advanced).To(BeTrue())
			Expect(e.Clock().Step).To(Equal(steps + 1))
		})
	})

	Describe("faults", func() {
		BeforeEach(func() {
			cfg := sim.DefaultConfig()
			cfg.Controller.Variant = control.VariantManual
			cfg.Controller.ManualOutput = 100
			cfg.Process.Integrating = true
			cfg.Process.T = 1
			Expect(e.Configure(cfg)).To(Succeed())
			Expect(e.Reset()).To(Succeed())
		})

		It("faults once the process leaves the stability bounds", func() {
			err := e.Run(context.Background())
			Expect(err).To(MatchError(metrics.ErrDiverged))
			Expect(e.State()).To(Equal(sim.Faulted))

			_, err = e.Step(true)
			Expect(err).To(MatchError(sim.ErrFaulted))
			Expect(e.Pause()).To(MatchError(sim.ErrFaulted))
		})

		It("clears the fault on reset", func() {
			Expect(e.Run(context.Background())).NotTo(Succeed())
			Expect(e.Reset()).To(Succeed())
			Expect(e.Fault()).NotTo(HaveOccurred())
			Expect(e.Start()).To(Succeed())
		})
	})

	Describe("completion", func() {
		It("stops at the step limit", func() {
			cfg := sim.DefaultConfig()
			cfg.MaxSteps = 3
			Expect(e.Configure(cfg)).To(Succeed())

			Expect(e.Run(context.Background())).To(Succeed())
			Expect(e.State()).To(Equal(sim.Completed))
			Expect(e.History().Len()).To(Equal(4))
		})
	})
})
