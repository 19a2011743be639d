package chat_test

import (
	"testing"
	"time"

	"github.com/killallgit/converse/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestChat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chat Suite")
}

var _ = Describe("Messages", func() {
	var image chat.Attachment

	BeforeEach(func() {
		image = chat.Attachment{Data: "aGk=", MediaType: "image/png", Name: "pic.png"}
	})

	Describe("NewUserMessage", func() {
		It("should carry the submission options", func() {
			opts := chat.SendOptions{
				Model:            "claude-haiku",
				Images:           []chat.Attachment{image},
				ExtendedThinking: true,
			}
			msg := chat.NewUserMessage("chat-1", "What is this?", opts)

			Expect(msg.Role).To(Equal(chat.RoleUser))
			Expect(msg.ChatID).To(Equal("chat-1"))
			Expect(msg.Content).To(Equal("What is this?"))
			Expect(msg.Model).To(Equal("claude-haiku"))
			Expect(msg.ExtendedThinking).To(BeTrue())
			Expect(msg.Images).To(ConsistOf(image))
			Expect(msg.CreatedAt).To(BeTemporally("~", time.Now(), time.Second))
		})

		It("should get a local id", func() {
			msg := chat.NewUserMessage("chat-1", "hi", chat.SendOptions{})
			Expect(chat.IsLocalID(msg.ID)).To(BeTrue())
		})

		It("should not share attachments with the options", func() {
			opts := chat.SendOptions{Images: []chat.Attachment{image}}
			msg := chat.NewUserMessage("chat-1", "", opts)

			opts.Images[0].Name = "changed.png"
			Expect(msg.Images[0].Name).To(Equal("pic.png"))
		})
	})

	Describe("NewAssistantMessage", func() {
		It("should create an assistant message", func() {
			msg := chat.NewAssistantMessage("chat-1", "Hello there!")

			Expect(msg.Role).To(Equal(chat.RoleAssistant))
			Expect(msg.IsAssistant()).To(BeTrue())
			Expect(msg.IsUser()).To(BeFalse())
			Expect(msg.Content).To(Equal("Hello there!"))
		})
	})

	Describe("IsEmpty", func() {
		DescribeTable("content and attachments",
			func(content string, attachments []chat.Attachment, expected bool) {
				msg := chat.Message{Role: chat.RoleUser, Content: content, Documents: attachments}
				Expect(msg.IsEmpty()).To(Equal(expected))
			},
			Entry("blank text", "  \n\t", nil, true),
			Entry("text", "hello", nil, false),
			Entry("attachment only", "", []chat.Attachment{{Data: "eA==", MediaType: "text/plain"}}, false),
		)
	})

	Describe("SendOptions", func() {
		It("should report attachments", func() {
			Expect(chat.SendOptions{}.HasAttachments()).To(BeFalse())
			Expect(chat.SendOptions{Documents: []chat.Attachment{image}}.HasAttachments()).To(BeTrue())
		})
	})

	Describe("CloneMessages", func() {
		It("should deep copy attachments", func() {
			original := []chat.Message{{Content: "a", Images: []chat.Attachment{image}}}
			cloned := chat.CloneMessages(original)

			cloned[0].Images[0].Name = "other.png"
			cloned[0].Content = "b"
			Expect(original[0].Images[0].Name).To(Equal("pic.png"))
			Expect(original[0].Content).To(Equal("a"))
		})

		It("should return an empty slice for nil", func() {
			cloned := chat.CloneMessages(nil)
			Expect(cloned).NotTo(BeNil())
			Expect(cloned).To(BeEmpty())
		})
	})

	Describe("lookups", func() {
		var history []chat.Message

		BeforeEach(func() {
			history = []chat.Message{
				{ID: "1", Role: chat.RoleUser, Content: "first"},
				{ID: "2", Role: chat.RoleAssistant, Content: "reply one"},
				{ID: "3", Role: chat.RoleUser, Content: "second"},
				{ID: "4", Role: chat.RoleAssistant, Content: "reply two"},
			}
		})

		It("should find the first user message", func() {
			msg, ok := chat.FirstUserMessage(history)
			Expect(ok).To(BeTrue())
			Expect(msg.ID).To(Equal("1"))
		})

		It("should find the last assistant message", func() {
			msg, ok := chat.LastAssistantMessage(history)
			Expect(ok).To(BeTrue())
			Expect(msg.ID).To(Equal("4"))
		})

		It("should report missing roles", func() {
			_, ok := chat.FirstUserMessage(history[1:2])
			Expect(ok).To(BeFalse())
			_, ok = chat.LastAssistantMessage(nil)
			Expect(ok).To(BeFalse())
		})
	})
})
