package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/finqa-go/internal/rag"
)

// modelCall records one Generate invocation.
type modelCall struct {
	messages []*schema.Message
	opts     *model.Options
}

// fakeChatModel is a test double for model.BaseChatModel. respond decides
// the reply for each call; calls are recorded in order.
type fakeChatModel struct {
	mu      sync.Mutex
	calls   []modelCall
	respond func(call int, msgs []*schema.Message) (string, error)
}

func replyWith(texts ...string) *fakeChatModel {
	return &fakeChatModel{respond: func(call int, _ []*schema.Message) (string, error) {
		return texts[call%len(texts)], nil
	}}
}

func failingModel(err error) *fakeChatModel {
	return &fakeChatModel{respond: func(int, []*schema.Message) (string, error) { return "", err }}
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, modelCall{
		messages: input,
		opts:     model.GetCommonOptions(&model.Options{}, opts...),
	})
	f.mu.Unlock()

	text, err := f.respond(n, input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fakeChatModel: Stream not supported")
}

func (f *fakeChatModel) call(i int) modelCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeIndex returns fixed results and records the requested k.
type fakeIndex struct {
	results []rag.RetrievalResult
	err     error
	lastK   int
}

func (f *fakeIndex) Create(context.Context) error { return nil }

func (f *fakeIndex) AddDocuments(context.Context, []string, []rag.Metadata) error { return nil }

func (f *fakeIndex) Search(_ context.Context, _ string, k int) ([]rag.RetrievalResult, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.results[:min(k, len(f.results))], nil
}

func (f *fakeIndex) Len() int { return len(f.results) }

// hits builds retrieval results whose sources are srcs, in order.
func hits(srcs ...string) []rag.RetrievalResult {
	out := make([]rag.RetrievalResult, len(srcs))
	for i, s := range srcs {
		meta := rag.Metadata{"type": "pdf"}
		if s != "" {
			meta["source"] = s
		}
		out[i] = rag.RetrievalResult{Content: "chunk from " + s, Metadata: meta, Distance: float32(i)}
	}
	return out
}
