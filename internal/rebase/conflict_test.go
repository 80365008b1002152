package rebase_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/auto-rebase/internal/git"
	"github.com/rancher/auto-rebase/internal/rebase"
)

var _ = Describe("Decide", func() {
	pick := rebase.ConflictSignal{Mode: rebase.ModeCherryPick, Commit: "c1"}
	linear := rebase.ConflictSignal{Mode: rebase.ModeLinear}

	DescribeTable("cherry-pick mode",
		func(strategy rebase.Strategy, want rebase.Action) {
			Expect(rebase.Decide(strategy, pick)).To(Equal(want))
		},
		Entry("pause", rebase.StrategyPause, rebase.Action{Kind: rebase.ActionPause}),
		Entry("skip", rebase.StrategySkip, rebase.Action{Kind: rebase.ActionSkip}),
		Entry("ours", rebase.StrategyOurs, rebase.Action{Kind: rebase.ActionResolve, Side: git.SideOurs}),
		Entry("theirs", rebase.StrategyTheirs, rebase.Action{Kind: rebase.ActionResolve, Side: git.SideTheirs}),
		Entry("fail", rebase.StrategyFail, rebase.Action{Kind: rebase.ActionAbort}),
		Entry("unknown", rebase.Strategy("bogus"), rebase.Action{Kind: rebase.ActionAbort}),
	)

	DescribeTable("linear mode never pauses or skips",
		func(strategy rebase.Strategy, want rebase.Action) {
			Expect(rebase.Decide(strategy, linear)).To(Equal(want))
		},
		Entry("pause", rebase.StrategyPause, rebase.Action{Kind: rebase.ActionAbort}),
		Entry("skip", rebase.StrategySkip, rebase.Action{Kind: rebase.ActionAbort}),
		Entry("ours", rebase.StrategyOurs, rebase.Action{Kind: rebase.ActionResolve, Side: git.SideOurs}),
		Entry("theirs", rebase.StrategyTheirs, rebase.Action{Kind: rebase.ActionResolve, Side: git.SideTheirs}),
		Entry("fail", rebase.StrategyFail, rebase.Action{Kind: rebase.ActionAbort}),
	)

	It("aborts a second resolution attempt for the same step", func() {
		retry := pick
		retry.Attempt = 1
		Expect(rebase.Decide(rebase.StrategyOurs, retry).Kind).To(Equal(rebase.ActionAbort))

		linearRetry := linear
		linearRetry.Attempt = 1
		Expect(rebase.Decide(rebase.StrategyOurs, linearRetry).Kind).To(Equal(rebase.ActionAbort))
	})

	Describe("ParseStrategy", func() {
		DescribeTable("accepts names and aliases",
			func(input string, want rebase.Strategy) {
				Expect(rebase.ParseStrategy(input)).To(Equal(want))
			},
			Entry("empty", "", rebase.StrategyPause),
			Entry("pause", "pause", rebase.StrategyPause),
			Entry("skip", " Skip ", rebase.StrategySkip),
			Entry("ours", "ours", rebase.StrategyOurs),
			Entry("take-ours", "take-ours", rebase.StrategyOurs),
			Entry("theirs", "THEIRS", rebase.StrategyTheirs),
			Entry("take-theirs", "take-theirs", rebase.StrategyTheirs),
		)

		It("rejects unknown values including the internal fail strategy", func() {
			_, err := rebase.ParseStrategy("fail")
			Expect(err).To(HaveOccurred())
			_, err = rebase.ParseStrategy("merge")
			Expect(err).To(MatchError(ContainSubstring("merge")))
		})
	})
})
