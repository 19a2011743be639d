package chat_test

import (
	"github.com/killallgit/converse/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ProjectSettings", func() {
	It("should default empty settings", func() {
		settings, err := chat.ParseProjectSettings("")
		Expect(err).NotTo(HaveOccurred())
		Expect(settings).To(Equal(chat.DefaultProjectSettings()))
	})

	It("should keep defaults for missing fields", func() {
		settings, err := chat.ParseProjectSettings(`{"system_prompt":"Be brief.","temperature":0.2}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.SystemPrompt).To(Equal("Be brief."))
		Expect(settings.Temperature).To(BeNumerically("~", 0.2))
		Expect(settings.Model).To(Equal(chat.DefaultModel))
		Expect(settings.MaxTokens).To(Equal(chat.DefaultMaxTokens))
	})

	It("should replace a non-positive max tokens", func() {
		settings, err := chat.ParseProjectSettings(`{"model":"m","max_tokens":0}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.Model).To(Equal("m"))
		Expect(settings.MaxTokens).To(Equal(chat.DefaultMaxTokens))
	})

	It("should reject malformed JSON", func() {
		_, err := chat.ParseProjectSettings("{not json")
		Expect(err).To(MatchError(ContainSubstring("failed to parse project settings")))
	})

	It("should be readable from a project", func() {
		raw, err := chat.ProjectSettings{Model: "claude-opus", MaxTokens: 1000, Temperature: 0.7}.JSON()
		Expect(err).NotTo(HaveOccurred())

		project := chat.Project{ID: "p1", Name: "work", SettingsJSON: raw}
		settings, err := project.Settings()
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.Model).To(Equal("claude-opus"))
		Expect(settings.MaxTokens).To(Equal(1000))
	})

	It("should clone the project list", func() {
		projects := []chat.Project{{ID: "p1", Name: "one"}}
		cloned := chat.CloneProjects(projects)
		cloned[0].Name = "two"
		Expect(projects[0].Name).To(Equal("one"))
	})
})
