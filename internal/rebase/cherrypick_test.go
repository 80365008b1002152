package rebase_test

import (
	"context"
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/auto-rebase/internal/git"
	"github.com/rancher/auto-rebase/internal/rebase"
)

var _ = Describe("CherryPickSession", func() {
	var (
		repo       *fakeRepo
		sink       *recordingSink
		cfg        rebase.Config
		featureTip string
	)

	BeforeEach(func() {
		repo = newFakeRepo()
		sink = &recordingSink{}
		cfg = rebase.Config{Strategy: rebase.StrategyPause, Backup: true}
		featureTip = repo.tip("feature")
	})

	start := func() *rebase.CherryPickSession {
		GinkgoHelper()
		s, err := rebase.NewCherryPickSession(repo, "feature", "main", cfg, testDeps(sink))
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	drive := func(s rebase.Session) rebase.Outcome {
		return rebase.Drive(ctx(), s, nil)
	}

	dispositions := func(s *rebase.CherryPickSession) []rebase.Disposition {
		var out []rebase.Disposition
		for _, r := range s.Results() {
			out = append(out, r.Disposition)
		}
		return out
	}

	It("applies a commit whose subject cannot be read and logs why", func() {
		repo.noSubject = map[string]bool{"c2": true}
		var logs bytes.Buffer
		deps := testDeps(sink)
		deps.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
		s, err := rebase.NewCherryPickSession(repo, "feature", "main", cfg, deps)
		Expect(err).NotTo(HaveOccurred())

		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(s.Results()[1].Subject).To(BeEmpty())
		Expect(s.Results()[1].Disposition).To(Equal(rebase.DispositionApplied))
		Expect(logs.String()).To(ContainSubstring("could not read commit subject"))
		Expect(logs.String()).To(ContainSubstring("bad object"))
	})

	It("replays every commit onto the remote target and moves the branch once", func() {
		s := start()

		outcome := drive(s)
		Expect(outcome.Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(s.State()).To(Equal(rebase.StateSucceeded))

		Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c2", "c3"}))
		Expect(repo.tip("feature")).To(Equal(s.Tip()))
		Expect(repo.head).To(Equal("feature"))
		Expect(repo.scratchBranches()).To(BeEmpty())
		Expect(repo.excludeMerges).To(BeTrue())
		Expect(repo.called("reset ")).To(Equal(1))

		Expect(s.Commits()).To(Equal([]string{"c1", "c2", "c3"}))
		Expect(s.Cursor()).To(Equal(3))
		Expect(s.Results()).To(HaveLen(3))
		for i, r := range s.Results() {
			Expect(r.ID).To(Equal(s.Commits()[i]))
			Expect(r.Subject).To(Equal("subject " + r.ID))
			Expect(r.Disposition).To(Equal(rebase.DispositionApplied))
		}

		Expect(sink.messages()).To(ContainElements(
			"Fetching all branches...",
			"Found 3 commits to apply.",
			"Applying commit 1/3: c1",
			"Applying commit 3/3: c3",
			"Finishing rebase...",
			"Successfully rebased feature onto origin/main!",
		))
	})

	It("uses a scratch branch named after the pid and session token", func() {
		s := start()
		runUntil(s, rebase.StateApplying)

		Expect(s.ScratchBranch()).To(Equal("temp-rebase-4242-abcdef12"))
		Expect(repo.head).To(Equal("temp-rebase-4242-abcdef12"))
		Expect(repo.calls).To(ContainElement("create temp-rebase-4242-abcdef12 origin/main"))
	})

	It("creates the backup tag at the old tip after checking out and before resetting", func() {
		s := start()
		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))

		name := "auto-rebase-backup-feature-1700000000000"
		Expect(s.BackupRef()).To(Equal(name))
		Expect(repo.tags).To(HaveKeyWithValue(name, featureTip))

		checkout := repo.indexOf("checkout feature")
		tag := repo.indexOf("tag " + name)
		reset := repo.indexOf("reset feature")
		Expect(checkout).To(BeNumerically("<", tag))
		Expect(tag).To(BeNumerically("<", reset))
	})

	It("never overwrites an existing backup tag", func() {
		repo.tags["auto-rebase-backup-feature-1700000000000"] = "older"
		s := start()
		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(s.BackupRef()).To(Equal("auto-rebase-backup-feature-1700000000000-1"))
		Expect(repo.tags["auto-rebase-backup-feature-1700000000000"]).To(Equal("older"))
	})

	It("skips the backup when disabled", func() {
		cfg.Backup = false
		s := start()
		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(repo.tags).To(BeEmpty())
		Expect(s.BackupRef()).To(BeEmpty())
	})

	It("fails without touching the branch when the backup cannot be created", func() {
		repo.tagErr = errors.New("tag refused")
		s := start()

		outcome := drive(s)
		Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
		Expect(outcome.Err).To(MatchError(ContainSubstring("tag refused")))
		Expect(repo.tip("feature")).To(Equal(featureTip))
		Expect(repo.called("reset ")).To(BeZero())
		Expect(repo.scratchBranches()).To(BeEmpty())
	})

	It("resets to the target tip when there is nothing to replay", func() {
		repo.rangeCommits = nil
		s := start()

		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2"}))
		Expect(repo.called("apply ")).To(BeZero())
		Expect(s.Results()).To(BeEmpty())
	})

	It("falls back to a local target branch", func() {
		repo.local["release"] = []string{"m1", "r1"}
		s, err := rebase.NewCherryPickSession(repo, "feature", "release", cfg, testDeps(sink))
		Expect(err).NotTo(HaveOccurred())

		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(repo.local["feature"]).To(Equal([]string{"m1", "r1", "c1", "c2", "c3"}))
	})

	It("accepts an origin/ prefixed target", func() {
		s, err := rebase.NewCherryPickSession(repo, "feature", "origin/main", cfg, testDeps(sink))
		Expect(err).NotTo(HaveOccurred())
		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		Expect(s.Target().Rev()).To(Equal("origin/main"))
	})

	Describe("validation", func() {
		It("rejects unsafe names before touching the repository", func() {
			_, err := rebase.NewCherryPickSession(repo, "feature", "../evil", cfg, testDeps(sink))
			var validationErr *rebase.ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())

			_, err = rebase.NewCherryPickSession(repo, "a//b", "main", cfg, testDeps(sink))
			Expect(errors.As(err, &validationErr)).To(BeTrue())
			Expect(repo.calls).To(BeEmpty())
		})

		It("fails with NotFoundError when the target is missing after fetch", func() {
			s, err := rebase.NewCherryPickSession(repo, "feature", "ghost", cfg, testDeps(sink))
			Expect(err).NotTo(HaveOccurred())

			outcome := drive(s)
			Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
			var notFound *rebase.NotFoundError
			Expect(errors.As(outcome.Err, &notFound)).To(BeTrue())
			Expect(repo.called("fetch")).To(Equal(1))
			Expect(repo.called("create ")).To(BeZero())
		})

		It("fails when fetching fails", func() {
			repo.fetchErr = &git.GitError{Args: []string{"fetch", "--all"}, Output: "network down", Err: errors.New("exit status 128")}
			s := start()

			outcome := drive(s)
			Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
			var toolErr *rebase.ToolInvocationError
			Expect(errors.As(outcome.Err, &toolErr)).To(BeTrue())
			Expect(sink.events[len(sink.events)-1].Output).To(Equal("network down"))
		})
	})

	Describe("working tree", func() {
		It("refuses a dirty tree without autostash", func() {
			repo.dirty = true
			s := start()

			outcome := drive(s)
			Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
			Expect(outcome.Err).To(MatchError(rebase.ErrDirtyWorktree))
			Expect(repo.called("fetch")).To(BeZero())
			Expect(repo.called("stash ")).To(BeZero())
		})

		It("shelves and restores changes around a successful session", func() {
			repo.dirty = true
			cfg.Autostash = true
			s := start()

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(repo.calls).To(ContainElement("stash auto-rebase-4242-abcdef12"))
			Expect(repo.calls).To(ContainElement("pop auto-rebase-4242-abcdef12"))
			Expect(repo.indexOf("reset feature")).To(BeNumerically("<", repo.indexOf("pop auto-rebase-4242-abcdef12")))
			Expect(repo.stashes).To(BeEmpty())
			Expect(repo.dirty).To(BeTrue())
		})

		It("restores the shelf when the session fails", func() {
			repo.dirty = true
			cfg.Autostash = true
			s, err := rebase.NewCherryPickSession(repo, "feature", "ghost", cfg, testDeps(sink))
			Expect(err).NotTo(HaveOccurred())

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeFailed))
			Expect(repo.stashes).To(BeEmpty())
			Expect(repo.dirty).To(BeTrue())
		})

		It("keeps the outcome when restoring the shelf fails", func() {
			repo.dirty = true
			repo.restoreErr = errors.New("pop conflict")
			cfg.Autostash = true
			s := start()

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(repo.stashes).To(ConsistOf("auto-rebase-4242-abcdef12"))
			Expect(sink.messages()).To(ContainElement(ContainSubstring("remain in the stash")))
		})
	})

	Describe("empty commits", func() {
		DescribeTable("are skipped automatically whatever the strategy",
			func(strategy rebase.Strategy) {
				repo.empty["c2"] = true
				cfg.Strategy = strategy
				s := start()

				Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
				Expect(dispositions(s)).To(Equal([]rebase.Disposition{
					rebase.DispositionApplied,
					rebase.DispositionSkippedEmpty,
					rebase.DispositionApplied,
				}))
				Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c3"}))
				Expect(sink.messages()).To(ContainElement("Commit c2 is empty, skipping automatically."))
			},
			Entry("pause", rebase.StrategyPause),
			Entry("skip", rebase.StrategySkip),
			Entry("ours", rebase.StrategyOurs),
			Entry("theirs", rebase.StrategyTheirs),
		)
	})

	Describe("conflicts", func() {
		It("skips the one conflicting commit among five", func() {
			repo.rangeCommits = []string{"c1", "c2", "c3", "c4", "c5"}
			repo.local["feature"] = []string{"m1", "c1", "c2", "c3", "c4", "c5"}
			repo.conflicts["c3"] = true
			cfg.Strategy = rebase.StrategySkip
			s := start()

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(s.Cursor()).To(Equal(5))
			Expect(dispositions(s)).To(Equal([]rebase.Disposition{
				rebase.DispositionApplied,
				rebase.DispositionApplied,
				rebase.DispositionSkippedConflict,
				rebase.DispositionApplied,
				rebase.DispositionApplied,
			}))
			Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c2", "c4", "c5"}))
			Expect(sink.messages()).To(ContainElement("Conflict on commit c3, skipping as per config."))
		})

		DescribeTable("resolves with the configured side",
			func(strategy rebase.Strategy, side git.Side, disposition rebase.Disposition) {
				repo.conflicts["c2"] = true
				cfg.Strategy = strategy
				s := start()

				Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
				Expect(repo.resolvedSides).To(Equal([]git.Side{side}))
				Expect(dispositions(s)[1]).To(Equal(disposition))
				Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c2", "c3"}))
			},
			Entry("ours", rebase.StrategyOurs, git.SideOurs, rebase.DispositionResolvedOurs),
			Entry("theirs", rebase.StrategyTheirs, git.SideTheirs, rebase.DispositionResolvedTheirs),
		)

		It("skips a commit that becomes empty after resolution", func() {
			repo.conflicts["c2"] = true
			repo.continueResult = []git.ApplyStatus{git.ApplyEmpty}
			cfg.Strategy = rebase.StrategyOurs
			s := start()

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(dispositions(s)[1]).To(Equal(rebase.DispositionResolvedOurs))
			Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c3"}))
		})

		It("aborts and fails when automatic resolution fails", func() {
			repo.conflicts["c2"] = true
			repo.resolveErr = errors.New("checkout --theirs failed")
			cfg.Strategy = rebase.StrategyTheirs
			s := start()

			outcome := drive(s)
			Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
			var resolution *rebase.ResolutionFailure
			Expect(errors.As(outcome.Err, &resolution)).To(BeTrue())
			Expect(resolution.Commit).To(Equal("c2"))
			Expect(resolution.Side).To(Equal(git.SideTheirs))

			Expect(repo.called("abort")).To(Equal(1))
			Expect(repo.inProgress).To(BeEmpty())
			Expect(repo.tip("feature")).To(Equal(featureTip))
			Expect(repo.head).To(Equal("feature"))
			Expect(repo.scratchBranches()).To(BeEmpty())
		})

		It("fails when the resolved commit still cannot be continued", func() {
			repo.conflicts["c2"] = true
			repo.continueResult = []git.ApplyStatus{git.ApplyConflict}
			cfg.Strategy = rebase.StrategyOurs
			s := start()

			outcome := drive(s)
			var resolution *rebase.ResolutionFailure
			Expect(errors.As(outcome.Err, &resolution)).To(BeTrue())
			Expect(repo.tip("feature")).To(Equal(featureTip))
			Expect(repo.scratchBranches()).To(BeEmpty())
		})

		It("aborts on conflict with the internal fail strategy", func() {
			repo.conflicts["c1"] = true
			cfg.Strategy = rebase.StrategyFail
			s := start()

			outcome := drive(s)
			Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
			Expect(outcome.Err).To(MatchError(ContainSubstring("conflict applying commit c1")))
			Expect(repo.called("abort")).To(Equal(1))
		})
	})

	It("fails fatally on an unclassified apply error", func() {
		repo.broken["c2"] = true
		s := start()

		outcome := drive(s)
		Expect(outcome.Kind).To(Equal(rebase.OutcomeFailed))
		Expect(outcome.Err).To(MatchError(ContainSubstring("apply commit c2")))
		Expect(repo.tip("feature")).To(Equal(featureTip))
		Expect(repo.head).To(Equal("feature"))
		Expect(repo.scratchBranches()).To(BeEmpty())
		Expect(s.Results()).To(HaveLen(1))
	})

	Describe("pause and resume", func() {
		BeforeEach(func() {
			repo.conflicts["c2"] = true
		})

		It("pauses with the cursor on the conflicting commit", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			Expect(s.State()).To(Equal(rebase.StateConflictPause))
			Expect(s.Cursor()).To(Equal(1))
			Expect(repo.inProgress).To(Equal("c2"))

			last := sink.events[len(sink.events)-1]
			Expect(last.Message).To(Equal("Conflict on commit c2. Resolve conflicts in another terminal, then press Enter to continue."))
			Expect(last.State).To(Equal(rebase.StateConflictPause))
			Expect(last.Output).To(ContainSubstring("CONFLICT"))

			e, err := s.Step(ctx())
			Expect(err).NotTo(HaveOccurred())
			Expect(e.State).To(Equal(rebase.StateConflictPause))
			Expect(s.Cursor()).To(Equal(1))
		})

		It("stays paused while the conflict is unresolved", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			e, err := s.Resume(ctx())
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Message).To(HavePrefix("Failed to continue. Make sure conflicts are resolved and staged"))
			Expect(s.State()).To(Equal(rebase.StateConflictPause))
			Expect(s.Cursor()).To(Equal(1))
		})

		It("advances by exactly one after an external resolution", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			repo.staged = true
			_, err := s.Resume(ctx())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Cursor()).To(Equal(2))
			Expect(s.State()).To(Equal(rebase.StateApplying))

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(dispositions(s)).To(Equal([]rebase.Disposition{
				rebase.DispositionApplied,
				rebase.DispositionResolvedManually,
				rebase.DispositionApplied,
			}))
			Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c2", "c3"}))
		})

		It("treats a commit the user emptied as skipped", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			repo.continueResult = []git.ApplyStatus{git.ApplyEmpty}
			_, err := s.Resume(ctx())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Cursor()).To(Equal(2))
			Expect(dispositions(s)[1]).To(Equal(rebase.DispositionSkippedEmpty))
		})

		It("stays paused when the cherry-pick was abandoned outside the session", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			Expect(repo.AbortApply(ctx())).To(Succeed())
			e, err := s.Resume(ctx())
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Message).To(Equal("Commit c2 was not committed and no cherry-pick is in progress. Cherry-pick it again and resolve the conflicts, or cancel."))
			Expect(e.Commit).To(Equal("c2"))
			Expect(s.State()).To(Equal(rebase.StateConflictPause))
			Expect(s.Cursor()).To(Equal(1))
			Expect(s.Results()).To(HaveLen(1))

			s.Cancel(ctx())
			Expect(s.Outcome().Kind).To(Equal(rebase.OutcomeCancelled))
			Expect(repo.tip("feature")).To(Equal(featureTip))
		})

		It("accepts a resolution the user committed themselves", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			repo.inProgress = ""
			repo.local[repo.head] = append(repo.local[repo.head], "c2")
			_, err := s.Resume(ctx())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Cursor()).To(Equal(2))

			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(dispositions(s)[1]).To(Equal(rebase.DispositionResolvedManually))
			Expect(repo.local["feature"]).To(Equal([]string{"m1", "m2", "c1", "c2", "c3"}))
		})

		It("rejects Resume when not paused", func() {
			s := start()
			_, err := s.Resume(ctx())
			Expect(err).To(MatchError(rebase.ErrNotPaused))
		})

		It("aborts the in-flight cherry-pick before switching branches on cancel", func() {
			s := start()
			runUntil(s, rebase.StateConflictPause)

			s.Cancel(ctx())
			Expect(s.Outcome().Kind).To(Equal(rebase.OutcomeCancelled))
			Expect(repo.indexOf("abort")).To(BeNumerically(">=", 0))
			Expect(repo.indexOf("abort")).To(BeNumerically("<", repo.indexOf("checkout feature")))
			Expect(repo.head).To(Equal("feature"))
			Expect(repo.scratchBranches()).To(BeEmpty())
		})
	})

	Describe("cancellation", func() {
		DescribeTable("leaves the branch tip unchanged from any state before finishing",
			func(state rebase.State) {
				repo.conflicts["c2"] = true
				repo.dirty = true
				cfg.Autostash = true
				s := start()
				runUntil(s, state)
				Expect(s.State()).To(Equal(state))

				e := s.Cancel(ctx())
				Expect(e.State).To(Equal(rebase.StateCancelled))
				Expect(s.Outcome()).To(Equal(rebase.Outcome{Kind: rebase.OutcomeCancelled}))
				Expect(repo.tip("feature")).To(Equal(featureTip))
				Expect(repo.head).To(Equal("feature"))
				Expect(repo.scratchBranches()).To(BeEmpty())
				Expect(repo.inProgress).To(BeEmpty())
				Expect(repo.called("reset ")).To(BeZero())
				Expect(repo.stashes).To(BeEmpty())
			},
			Entry("initializing", rebase.StateInitializing),
			Entry("fetching", rebase.StateFetching),
			Entry("computing range", rebase.StateComputingRange),
			Entry("creating scratch branch", rebase.StateCreatingScratchBranch),
			Entry("applying", rebase.StateApplying),
			Entry("conflict pause", rebase.StateConflictPause),
		)

		Describe("when the context ends mid-step", func() {
			var (
				interrupted context.Context
				cancel      context.CancelFunc
			)

			BeforeEach(func() {
				repo.dirty = true
				cfg.Autostash = true
				interrupted, cancel = context.WithCancel(ctx())
				DeferCleanup(cancel)
			})

			expectUntouched := func(outcome rebase.Outcome) {
				GinkgoHelper()
				Expect(outcome.Kind).To(Equal(rebase.OutcomeCancelled))
				Expect(outcome.Err).To(MatchError(context.Canceled))
				Expect(repo.head).To(Equal("feature"))
				Expect(repo.tip("feature")).To(Equal(featureTip))
				Expect(repo.scratchBranches()).To(BeEmpty())
				Expect(repo.inProgress).To(BeEmpty())
				Expect(repo.stashes).To(BeEmpty())
				Expect(repo.dirty).To(BeTrue())
				Expect(sink.messages()).To(ContainElement("Rebase interrupted. feature was not changed."))
			}

			It("restores the shelf when interrupted while fetching", func() {
				repo.hooks["fetch"] = cancel
				expectUntouched(rebase.Drive(interrupted, start(), nil))
			})

			It("aborts, cleans up and restores when interrupted while applying", func() {
				repo.hooks["apply c2"] = cancel
				s := start()

				expectUntouched(rebase.Drive(interrupted, s, nil))
				Expect(repo.indexOf("abort")).To(BeNumerically(">", repo.indexOf("apply c2")))
				Expect(repo.called("delete temp-rebase-")).To(Equal(1))
				Expect(s.State()).To(Equal(rebase.StateCancelled))
			})
		})

		It("is a no-op once the session has finished", func() {
			s := start()
			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))

			s.Cancel(ctx())
			Expect(s.Outcome().Kind).To(Equal(rebase.OutcomeSuccess))
		})
	})

	Describe("Cleanup", func() {
		It("is idempotent", func() {
			s := start()
			runUntil(s, rebase.StateApplying)
			Expect(repo.head).To(Equal(s.ScratchBranch()))

			s.Cleanup(ctx())
			head := repo.head
			branches := fmt.Sprint(repo.local)
			deletes := repo.called("delete ")

			s.Cleanup(ctx())
			Expect(repo.head).To(Equal(head))
			Expect(fmt.Sprint(repo.local)).To(Equal(branches))
			Expect(repo.called("delete ")).To(Equal(deletes))
			Expect(repo.head).To(Equal("feature"))
			Expect(repo.scratchBranches()).To(BeEmpty())
		})

		It("does nothing before the scratch branch exists", func() {
			s := start()
			s.Cleanup(ctx())
			Expect(repo.calls).To(BeEmpty())
		})

		It("swallows delete failures", func() {
			repo.deleteErr = errors.New("locked ref")
			s := start()
			Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
			Expect(repo.scratchBranches()).To(HaveLen(1))
		})
	})

	It("refuses to step a finished session", func() {
		s := start()
		Expect(drive(s).Kind).To(Equal(rebase.OutcomeSuccess))
		_, err := s.Step(ctx())
		Expect(err).To(MatchError(rebase.ErrSessionDone))
	})
})
