package integration

import (
	"context"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/store"
)

var _ = Describe("Streaming from ollama", func() {
	var (
		s      *stack
		ctx    context.Context
		mu     sync.Mutex
		chunks []backend.Chunk
	)

	BeforeEach(func() {
		s = newStack()
		ctx = context.Background()
		chunks = nil
		DeferCleanup(s.chunks.Subscribe(func(chunk backend.Chunk) {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, chunk)
		}))
	})

	received := func() []backend.Chunk {
		mu.Lock()
		defer mu.Unlock()
		return append([]backend.Chunk(nil), chunks...)
	}

	It("delivers contiguous chunks that end with a done chunk", func() {
		_, err := s.store.CreateChat(ctx, "")
		Expect(err).NotTo(HaveOccurred())

		Expect(s.store.SendMessage(ctx, "Count from one to five in words.", chat.SendOptions{})).To(Succeed())
		state := s.waitIdle(2 * time.Minute)
		s.chunks.Flush()

		got := received()
		Expect(len(got)).To(BeNumerically(">", 1))

		var text strings.Builder
		for i, chunk := range got {
			Expect(chunk.Index).To(Equal(uint64(i)))
			Expect(chunk.Err).To(BeEmpty())
			text.WriteString(chunk.Delta)
		}
		Expect(got[len(got)-1].Done).To(BeTrue())
		Expect(state.Messages[len(state.Messages)-1].Content).To(Equal(text.String()))
	})

	It("shows the reply in the stream buffer before it is committed", func() {
		_, err := s.store.CreateChat(ctx, "")
		Expect(err).NotTo(HaveOccurred())

		var (
			seenMu   sync.Mutex
			buffered bool
		)
		remove := s.store.OnChange(func(state store.State) {
			if state.Sending && state.StreamBuffer != "" {
				seenMu.Lock()
				buffered = true
				seenMu.Unlock()
			}
		})
		defer remove()

		Expect(s.store.SendMessage(ctx, "Write two sentences about mountains.", chat.SendOptions{})).To(Succeed())
		s.waitIdle(2 * time.Minute)

		seenMu.Lock()
		defer seenMu.Unlock()
		Expect(buffered).To(BeTrue())
	})
})
