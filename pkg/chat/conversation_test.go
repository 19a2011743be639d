package chat_test

import (
	"github.com/killallgit/converse/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chat", func() {
	It("should recognise the placeholder title", func() {
		c := chat.Chat{ID: "c1", Title: chat.DefaultTitle}
		Expect(c.HasDefaultTitle()).To(BeTrue())

		renamed := c.WithTitle("Trip Planning")
		Expect(renamed.HasDefaultTitle()).To(BeFalse())
		Expect(c.Title).To(Equal(chat.DefaultTitle))
	})

	Describe("local ids", func() {
		It("should be unique and recognisable", func() {
			a, b := chat.NewLocalID(), chat.NewLocalID()
			Expect(a).NotTo(Equal(b))
			Expect(chat.IsLocalID(a)).To(BeTrue())
		})

		It("should not claim backend ids", func() {
			Expect(chat.IsLocalID("6f1c2a7e-4b1d-4c38-9b2e-1f0a3d5e7c91")).To(BeFalse())
			Expect(chat.IsLocalID("local-")).To(BeFalse())
			Expect(chat.IsLocalID("")).To(BeFalse())
			Expect(chat.IsLocalID("loc")).To(BeFalse())
		})
	})

	Describe("FindChat", func() {
		chats := []chat.Chat{{ID: "a"}, {ID: "b"}}

		It("should return the index", func() {
			Expect(chat.FindChat(chats, "b")).To(Equal(1))
		})

		It("should return -1 when absent", func() {
			Expect(chat.FindChat(chats, "z")).To(Equal(-1))
		})
	})

	It("should clone the chat list", func() {
		chats := []chat.Chat{{ID: "a", Title: "one"}}
		cloned := chat.CloneChats(chats)
		cloned[0].Title = "two"
		Expect(chats[0].Title).To(Equal("one"))
	})
})
