package integration

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/converse/pkg/config"
	"github.com/killallgit/converse/pkg/events"
	"github.com/killallgit/converse/pkg/llm"
	"github.com/killallgit/converse/pkg/service"
	"github.com/killallgit/converse/pkg/store"
	"github.com/killallgit/converse/pkg/tokens"
)

var tokenSummary = regexp.MustCompile(`\[Tokens - Sent:\s*(\d+),\s*Received:\s*(\d+),\s*Total:\s*\d+\]`)

// parseTokenCounts extracts sent and received token counts from the
// headless summary line
func parseTokenCounts(output string) (sent, recv int, ok bool) {
	match := tokenSummary.FindStringSubmatch(output)
	if match == nil {
		return 0, 0, false
	}
	sent, _ = strconv.Atoi(match[1])
	recv, _ = strconv.Atoi(match[2])
	return sent, recv, true
}

func integrationEnabled() bool {
	return os.Getenv("INTEGRATION_TEST") == "true"
}

func ollamaHost() string {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		return host
	}
	return "http://localhost:11434"
}

func ollamaModel() string {
	if model := os.Getenv("OLLAMA_DEFAULT_MODEL"); model != "" {
		return model
	}
	return "qwen3:latest"
}

func ollamaSettings(dir string) *config.Settings {
	settings := &config.Settings{Provider: config.ProviderOllama}
	settings.Ollama.Host = ollamaHost()
	settings.Ollama.Model = ollamaModel()
	settings.Database.Path = filepath.Join(dir, "converse.db")
	settings.Generation.MaxTokens = 256
	settings.Generation.Temperature = 0.2
	settings.Generation.ThinkingMaxTokens = 16000
	settings.Title.MaxTokens = 20
	settings.Title.Temperature = 0.5
	settings.Title.MaxAssistantChars = 500
	return settings
}

// stack is the store wired to a local service talking to ollama
type stack struct {
	db      *service.DB
	tracker *llm.TokenTracker
	bus     *events.EventBus
	chunks  *events.ChunkChannel
	service *service.Service
	store   *store.Store
}

func newStack() *stack {
	if !integrationEnabled() {
		Skip("Integration tests skipped. Set INTEGRATION_TEST=true to run.")
	}

	settings := ollamaSettings(GinkgoT().TempDir())
	model, err := llm.New(settings)
	Expect(err).NotTo(HaveOccurred())

	db, err := service.OpenDB(settings.Database.Path)
	Expect(err).NotTo(HaveOccurred())

	s := &stack{db: db, bus: events.NewEventBus()}
	s.tracker = llm.NewTokenTracker(model, tokens.NewTokenCounter(settings.Ollama.Model))
	s.chunks = events.NewChunkChannel(s.bus, "service")
	s.service = service.New(db, s.tracker, s.chunks, service.OptionsFromSettings(settings))
	s.store = store.New(s.service)
	s.store.Attach(s.chunks)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := model.Call(ctx, "ping"); err != nil {
		s.close()
		Skip("Ollama server not available or model not found: " + err.Error())
	}

	DeferCleanup(s.close)
	return s
}

func (s *stack) close() {
	s.store.Close()
	s.service.Close()
	s.bus.Close()
	s.db.Close()
}

// waitIdle polls until the open exchange has closed
func (s *stack) waitIdle(timeout time.Duration) store.State {
	Eventually(func() bool {
		return !s.store.Snapshot().Sending
	}, timeout, 100*time.Millisecond).Should(BeTrue())
	return s.store.Snapshot()
}
