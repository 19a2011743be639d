package store

import (
	"context"
	"errors"
	"strings"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/testutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Streaming reducer", func() {
	var (
		ctx      context.Context
		commands *testutil.FakeCommands
		s        *Store
		current  chat.Chat
	)

	// send submits content and returns the session the store opened for it
	send := func(content string, opts chat.SendOptions) backend.SessionID {
		ExpectWithOffset(1, s.SendMessage(ctx, content, opts)).To(Succeed())
		sends := commands.Sends()
		return sends[len(sends)-1].Session
	}

	chunks := func(session backend.SessionID, deltas ...string) []backend.Chunk {
		out := make([]backend.Chunk, 0, len(deltas)+1)
		for i, d := range deltas {
			out = append(out, backend.Chunk{Session: session, Index: uint64(i), Delta: d})
		}
		return append(out, backend.Chunk{Session: session, Index: uint64(len(deltas)), Done: true})
	}

	feed := func(cs ...backend.Chunk) {
		for _, c := range cs {
			s.HandleChunk(c)
		}
	}

	assistantMessages := func() []chat.Message {
		var out []chat.Message
		for _, m := range s.Snapshot().Messages {
			if m.IsAssistant() {
				out = append(out, m)
			}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		commands = testutil.NewFakeCommands()
		s = New(commands)
		current = commands.AddChat(chat.Chat{ID: "c1"})
		Expect(s.SelectChat(ctx, &current)).To(Succeed())
	})

	AfterEach(func() {
		s.Close()
	})

	Describe("completion", func() {
		DescribeTable("commits exactly one message with the concatenated deltas",
			func(deltas []string) {
				session := send("question", chat.SendOptions{})
				feed(chunks(session, deltas...)...)

				committed := assistantMessages()
				Expect(committed).To(HaveLen(1))
				Expect(committed[0].Content).To(Equal(strings.Join(deltas, "")))
				Expect(committed[0].ChatID).To(Equal("c1"))

				state := s.Snapshot()
				Expect(state.StreamBuffer).To(BeEmpty())
				Expect(state.Sending).To(BeFalse())
				Expect(state.Thinking).To(BeFalse())
			},
			Entry("single delta", []string{"Hello!"}),
			Entry("several deltas", []string{"Hel", "lo", " wor", "ld"}),
			Entry("with empty deltas in between", []string{"a", "", "b", "", "c"}),
			Entry("multibyte text", []string{"héllo ", "wörld ", "🌍"}),
		)

		It("creates no message when the buffer is empty", func() {
			session := send("question", chat.SendOptions{ExtendedThinking: true})
			feed(chunks(session)...)

			Expect(assistantMessages()).To(BeEmpty())
			state := s.Snapshot()
			Expect(state.Messages).To(HaveLen(1))
			Expect(state.Sending).To(BeFalse())
			Expect(state.Thinking).To(BeFalse())
		})

		It("creates no message when only empty deltas arrived", func() {
			session := send("question", chat.SendOptions{})
			feed(chunks(session, "", "")...)

			Expect(assistantMessages()).To(BeEmpty())
			Expect(s.Snapshot().Sending).To(BeFalse())
		})

		It("applies a final delta carried on the done chunk", func() {
			session := send("question", chat.SendOptions{})
			feed(
				backend.Chunk{Session: session, Index: 0, Delta: "Hel"},
				backend.Chunk{Session: session, Index: 1, Delta: "lo!", Done: true},
			)

			committed := assistantMessages()
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].Content).To(Equal("Hello!"))
		})

		It("ignores chunks once the session is closed", func() {
			session := send("question", chat.SendOptions{})
			feed(chunks(session, "done")...)
			feed(
				backend.Chunk{Session: session, Index: 2, Delta: "late"},
				backend.Chunk{Session: session, Index: 3, Done: true},
			)

			Expect(assistantMessages()).To(HaveLen(1))
			Expect(s.Snapshot().StreamBuffer).To(BeEmpty())
		})
	})

	Describe("thinking flag", func() {
		It("is cleared by the first delta even when it is empty", func() {
			session := send("question", chat.SendOptions{ExtendedThinking: true})
			Expect(s.Snapshot().Thinking).To(BeTrue())

			s.HandleChunk(backend.Chunk{Session: session, Index: 0, Delta: ""})

			state := s.Snapshot()
			Expect(state.Thinking).To(BeFalse())
			Expect(state.Sending).To(BeTrue())
		})

		It("accumulates into the stream buffer while streaming", func() {
			session := send("question", chat.SendOptions{})
			feed(
				backend.Chunk{Session: session, Index: 0, Delta: "par"},
				backend.Chunk{Session: session, Index: 1, Delta: "tial"},
			)

			Expect(s.Snapshot().StreamBuffer).To(Equal("partial"))
			Expect(assistantMessages()).To(BeEmpty())
		})
	})

	Describe("ordering", func() {
		It("drops duplicated chunks", func() {
			session := send("question", chat.SendOptions{})
			feed(
				backend.Chunk{Session: session, Index: 0, Delta: "A"},
				backend.Chunk{Session: session, Index: 0, Delta: "A"},
				backend.Chunk{Session: session, Index: 1, Delta: "B"},
				backend.Chunk{Session: session, Index: 1, Delta: "B"},
				backend.Chunk{Session: session, Index: 2, Done: true},
				backend.Chunk{Session: session, Index: 2, Done: true},
			)

			committed := assistantMessages()
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].Content).To(Equal("AB"))
		})

		It("reorders chunks that arrive early", func() {
			session := send("question", chat.SendOptions{})
			feed(
				backend.Chunk{Session: session, Index: 2, Delta: "C"},
				backend.Chunk{Session: session, Index: 3, Done: true},
				backend.Chunk{Session: session, Index: 1, Delta: "B"},
			)
			Expect(s.Snapshot().StreamBuffer).To(BeEmpty())
			Expect(s.Snapshot().Sending).To(BeTrue())

			s.HandleChunk(backend.Chunk{Session: session, Index: 0, Delta: "A"})

			committed := assistantMessages()
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].Content).To(Equal("ABC"))
			Expect(s.Snapshot().Sending).To(BeFalse())
		})
	})

	Describe("session isolation", func() {
		It("never lets an abandoned stream leak into the newly selected chat", func() {
			other := commands.AddChat(chat.Chat{ID: "c2"})
			old := send("question", chat.SendOptions{})
			s.HandleChunk(backend.Chunk{Session: old, Index: 0, Delta: "for c1"})

			Expect(s.SelectChat(ctx, &other)).To(Succeed())
			state := s.Snapshot()
			Expect(state.StreamBuffer).To(BeEmpty())
			Expect(state.Sending).To(BeFalse())

			feed(
				backend.Chunk{Session: old, Index: 1, Delta: " still"},
				backend.Chunk{Session: old, Index: 2, Done: true},
			)

			state = s.Snapshot()
			Expect(state.CurrentChat.ID).To(Equal("c2"))
			Expect(state.Messages).To(BeEmpty())
			Expect(state.StreamBuffer).To(BeEmpty())
		})

		It("ignores an abandoned stream while a new one is open", func() {
			other := commands.AddChat(chat.Chat{ID: "c2"})
			old := send("first", chat.SendOptions{})
			Expect(s.SelectChat(ctx, &other)).To(Succeed())
			fresh := send("second", chat.SendOptions{})

			feed(
				backend.Chunk{Session: old, Index: 0, Delta: "stale "},
				backend.Chunk{Session: fresh, Index: 0, Delta: "fresh"},
				backend.Chunk{Session: old, Index: 1, Done: true},
			)
			Expect(s.Snapshot().StreamBuffer).To(Equal("fresh"))
			Expect(s.Snapshot().Sending).To(BeTrue())

			s.HandleChunk(backend.Chunk{Session: fresh, Index: 1, Done: true})

			committed := assistantMessages()
			Expect(committed).To(HaveLen(1))
			Expect(committed[0].Content).To(Equal("fresh"))
			Expect(committed[0].ChatID).To(Equal("c2"))
		})

		It("ignores chunks when nothing was sent", func() {
			s.HandleChunk(backend.Chunk{Session: backend.SessionID{ChatID: "c1", Seq: 1}, Index: 0, Delta: "ghost", Done: true})

			Expect(s.Snapshot().Messages).To(BeEmpty())
		})

		It("drops the stream when the current chat is deleted", func() {
			session := send("question", chat.SendOptions{})
			Expect(s.DeleteChat(ctx, "c1")).To(Succeed())

			feed(chunks(session, "orphan")...)

			state := s.Snapshot()
			Expect(state.CurrentChat).To(BeNil())
			Expect(state.Messages).To(BeEmpty())
			Expect(state.Sending).To(BeFalse())
		})
	})

	Describe("generation errors", func() {
		It("closes the session without committing and records the reason", func() {
			session := send("question", chat.SendOptions{ExtendedThinking: true})
			feed(
				backend.Chunk{Session: session, Index: 0, Delta: "partial"},
				backend.Chunk{Session: session, Index: 1, Done: true, Err: "overloaded"},
			)

			state := s.Snapshot()
			Expect(state.Error).To(Equal("overloaded"))
			Expect(state.Sending).To(BeFalse())
			Expect(state.Thinking).To(BeFalse())
			Expect(state.StreamBuffer).To(BeEmpty())
			Expect(state.Messages).To(HaveLen(1))
			Expect(commands.TitleCalls()).To(BeEmpty())

			Expect(s.SendMessage(ctx, "retry", chat.SendOptions{})).To(Succeed())
		})
	})

	Describe("title generation", func() {
		It("titles a fresh chat after its first exchange", func() {
			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hel", "lo!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			Expect(s.Snapshot().Messages).To(HaveLen(2))
			Expect(commands.TitleCalls()).To(Equal([]testutil.TitleCall{{User: "Hi", Assistant: "Hello!"}}))

			saved, ok := commands.SavedTitle("c1")
			Expect(ok).To(BeTrue())
			Expect(saved).To(Equal("Generated Title"))
		})

		It("updates both the current chat and the chat list", func() {
			Expect(s.LoadChats(ctx, "")).To(Succeed())
			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hello!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			state := s.Snapshot()
			Expect(state.CurrentChat.Title).To(Equal("Generated Title"))
			idx := chat.FindChat(state.Chats, "c1")
			Expect(idx).To(BeNumerically(">=", 0))
			Expect(state.Chats[idx].Title).To(Equal("Generated Title"))
		})

		It("keeps the generated title when an older chat list arrives afterwards", func() {
			stale := &staleChats{FakeCommands: commands, chats: []chat.Chat{current}}
			st := New(stale)
			defer st.Close()
			Expect(st.SelectChat(ctx, &current)).To(Succeed())

			Expect(st.SendMessage(ctx, "Hi", chat.SendOptions{})).To(Succeed())
			session := commands.Sends()[len(commands.Sends())-1].Session
			st.HandleChunk(backend.Chunk{Session: session, Index: 0, Delta: "Hello!", Done: true})
			Expect(st.WaitTitles(ctx)).To(Succeed())

			Expect(st.LoadChats(ctx, "")).To(Succeed())
			state := st.Snapshot()
			Expect(state.Chats).To(HaveLen(1))
			Expect(state.Chats[0].Title).To(Equal("Generated Title"))
		})

		It("forgets a generated title once the chat is deleted", func() {
			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hello!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())
			Expect(s.DeleteChat(ctx, "c1")).To(Succeed())

			s.mu.Lock()
			_, remembered := s.titled["c1"]
			s.mu.Unlock()
			Expect(remembered).To(BeFalse())
		})

		It("does not fire a second time for the same chat", func() {
			first := send("Hi", chat.SendOptions{})
			feed(chunks(first, "Hello!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			second := send("More", chat.SendOptions{})
			feed(chunks(second, "Sure")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			Expect(commands.TitleCalls()).To(HaveLen(1))
		})

		It("does not fire for a chat that already has a title", func() {
			titled := commands.AddChat(chat.Chat{ID: "named", Title: "Trip planning"})
			Expect(s.SelectChat(ctx, &titled)).To(Succeed())

			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hello!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			Expect(commands.TitleCalls()).To(BeEmpty())
		})

		It("does not fire when the chat already had history", func() {
			withHistory := commands.AddChat(chat.Chat{ID: "old"},
				chat.Message{ID: "m1", Role: chat.RoleUser, Content: "earlier"},
				chat.Message{ID: "m2", Role: chat.RoleAssistant, Content: "reply"},
			)
			Expect(s.SelectChat(ctx, &withHistory)).To(Succeed())

			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hello!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			Expect(commands.TitleCalls()).To(BeEmpty())
		})

		It("does not fire when the reply was empty", func() {
			session := send("Hi", chat.SendOptions{})
			feed(chunks(session)...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			Expect(commands.TitleCalls()).To(BeEmpty())
		})

		DescribeTable("keeps the default title and the error field clean when titling fails",
			func(op string) {
				commands.FailOn(op, errors.New("title backend down"))

				session := send("Hi", chat.SendOptions{})
				feed(chunks(session, "Hello!")...)
				Expect(s.WaitTitles(ctx)).To(Succeed())

				state := s.Snapshot()
				Expect(state.CurrentChat.Title).To(Equal(chat.DefaultTitle))
				Expect(state.Error).To(BeEmpty())
				Expect(state.Messages).To(HaveLen(2))
				Expect(commands.TitleCalls()).To(HaveLen(1))
			},
			Entry("generation fails", "GenerateTitle"),
			Entry("saving fails", "UpdateChatTitle"),
		)

		It("keeps the default title when the generated title is blank", func() {
			commands.SetTitle("   ")

			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hello!")...)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			Expect(s.Snapshot().CurrentChat.Title).To(Equal(chat.DefaultTitle))
			_, saved := commands.SavedTitle("c1")
			Expect(saved).To(BeFalse())
		})

		It("renames the chat in the list even after the user moved on", func() {
			other := commands.AddChat(chat.Chat{ID: "c2"})

			blocking := make(chan struct{})
			s.Close()
			s = New(&gatedTitles{FakeCommands: commands, gate: blocking})
			Expect(s.LoadChats(ctx, "")).To(Succeed())
			Expect(s.SelectChat(ctx, &current)).To(Succeed())

			session := send("Hi", chat.SendOptions{})
			feed(chunks(session, "Hello!")...)
			Expect(s.SelectChat(ctx, &other)).To(Succeed())
			close(blocking)
			Expect(s.WaitTitles(ctx)).To(Succeed())

			state := s.Snapshot()
			Expect(state.CurrentChat.ID).To(Equal("c2"))
			Expect(state.CurrentChat.Title).To(Equal(chat.DefaultTitle))
			Expect(state.Chats[chat.FindChat(state.Chats, "c1")].Title).To(Equal("Generated Title"))
		})
	})
})

// gatedTitles holds GenerateTitle until gate is closed
type gatedTitles struct {
	*testutil.FakeCommands
	gate chan struct{}
}

func (g *gatedTitles) GenerateTitle(ctx context.Context, user, assistant string) (string, error) {
	<-g.gate
	return g.FakeCommands.GenerateTitle(ctx, user, assistant)
}

// staleChats answers ListChats with a list captured before any title was saved
type staleChats struct {
	*testutil.FakeCommands
	chats []chat.Chat
}

func (f *staleChats) ListChats(ctx context.Context, projectID string) ([]chat.Chat, error) {
	return chat.CloneChats(f.chats), nil
}
