package store

import (
	"context"
	"errors"

	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Projects", func() {
	var (
		ctx      context.Context
		commands *testutil.FakeCommands
		p        *Projects
	)

	BeforeEach(func() {
		ctx = context.Background()
		commands = testutil.NewFakeCommands()
		p = NewProjects(commands)
	})

	It("prepends created projects", func() {
		first, err := p.CreateProject(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		second, err := p.CreateProject(ctx, "second")
		Expect(err).NotTo(HaveOccurred())

		state := p.Snapshot()
		Expect(state.Projects).To(HaveLen(2))
		Expect(state.Projects[0].ID).To(Equal(second.ID))
		Expect(state.Projects[1].ID).To(Equal(first.ID))
	})

	It("loads projects from the backend", func() {
		_, err := commands.CreateProject(ctx, "seeded")
		Expect(err).NotTo(HaveOccurred())

		Expect(p.LoadProjects(ctx)).To(Succeed())
		Expect(p.Snapshot().Projects).To(HaveLen(1))
		Expect(p.Snapshot().Loading).To(BeFalse())
	})

	It("keeps the previous list when loading fails", func() {
		_, err := p.CreateProject(ctx, "kept")
		Expect(err).NotTo(HaveOccurred())
		commands.FailOn("ListProjects", errors.New("offline"))

		Expect(p.LoadProjects(ctx)).To(MatchError(ContainSubstring("offline")))
		Expect(p.Snapshot().Projects).To(HaveLen(1))
		Expect(p.Snapshot().Error).To(Equal("offline"))
	})

	It("clears the current project when it is deleted", func() {
		created, err := p.CreateProject(ctx, "doomed")
		Expect(err).NotTo(HaveOccurred())
		p.SelectProject(&created)
		Expect(p.CurrentProjectID()).To(Equal(created.ID))

		Expect(p.DeleteProject(ctx, created.ID)).To(Succeed())

		Expect(p.Snapshot().Projects).To(BeEmpty())
		Expect(p.CurrentProjectID()).To(BeEmpty())
	})

	It("records and returns a delete failure", func() {
		created, err := p.CreateProject(ctx, "sticky")
		Expect(err).NotTo(HaveOccurred())
		commands.FailOn("DeleteProject", errors.New("in use"))

		Expect(p.DeleteProject(ctx, created.ID)).To(MatchError(ContainSubstring("in use")))
		Expect(p.Snapshot().Projects).To(HaveLen(1))
		Expect(p.Snapshot().Error).To(Equal("in use"))
	})

	It("round-trips project settings", func() {
		created, err := p.CreateProject(ctx, "tuned")
		Expect(err).NotTo(HaveOccurred())

		settings, err := p.ProjectSettings(ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings).To(Equal(chat.DefaultProjectSettings()))

		settings.SystemPrompt = "Answer in French."
		settings.MaxTokens = 1024
		Expect(p.UpdateProjectSettings(ctx, created.ID, settings)).To(Succeed())

		updated, err := p.ProjectSettings(ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.SystemPrompt).To(Equal("Answer in French."))
		Expect(updated.MaxTokens).To(Equal(1024))
	})

	It("records a settings failure for an unknown project", func() {
		_, err := p.ProjectSettings(ctx, "missing")
		Expect(err).To(HaveOccurred())
		Expect(p.Snapshot().Error).NotTo(BeEmpty())
	})
})
