// Package service wires chunking, embedding, indexing, retrieval and answer
// synthesis into a per-session question answering pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/retriever"
	"docqa/internal/summarizer"
	"docqa/internal/synthesizer"
)

// EmbeddingUnavailableText is the degraded answer given when the question
// could not be embedded.
const EmbeddingUnavailableText = "The question could not be processed because the embedding service is unavailable. Please try again."

// ErrSessionReset fails an ingestion that was still running when the session
// was reset. Nothing from it reaches the index.
var ErrSessionReset = errors.New("session was reset during ingestion")

// DocumentInfo describes an ingested document.
type DocumentInfo struct {
	ID     string               `json:"id"`
	Title  string               `json:"title"`
	State  domain.DocumentState `json:"state"`
	Pages  int                  `json:"pages"`
	Chunks int                  `json:"chunks"`
}

type document struct {
	info   DocumentInfo
	chunks []domain.Chunk
}

// Pipeline is one session: it owns its index, documents and history, and
// releases its components on Close.
type Pipeline struct {
	id         string
	chunker    domain.Chunker
	embedder   domain.Embedder
	index      domain.VectorIndex
	completer  domain.Completer
	retriever  *retriever.Retriever
	synth      *synthesizer.Synthesizer
	summarizer *summarizer.ModelSummarizer
	logger     *zap.Logger
	maxHistory int
	now        func() time.Time

	retrieverOpts  []retriever.Option
	synthOpts      []synthesizer.Option
	summarizerOpts []summarizer.Option

	// commitMu orders index commits against Reset: ingests hold it for
	// reading while they add to the index, Reset holds it exclusively.
	commitMu sync.RWMutex
	mu       sync.RWMutex
	docs     map[string]*document
	order    []string
	history  []domain.Exchange
	queries  int
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxHistory caps the number of exchanges kept. Zero keeps all of them.
func WithMaxHistory(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxHistory = n
		}
	}
}

func WithRetrieverOptions(opts ...retriever.Option) Option {
	return func(p *Pipeline) { p.retrieverOpts = append(p.retrieverOpts, opts...) }
}

func WithSynthesizerOptions(opts ...synthesizer.Option) Option {
	return func(p *Pipeline) { p.synthOpts = append(p.synthOpts, opts...) }
}

func WithSummarizerOptions(opts ...summarizer.Option) Option {
	return func(p *Pipeline) { p.summarizerOpts = append(p.summarizerOpts, opts...) }
}

// WithClock replaces time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPipeline(chunker domain.Chunker, embedder domain.Embedder, index domain.VectorIndex, completer domain.Completer, opts ...Option) *Pipeline {
	p := &Pipeline{
		id:        uuid.NewString(),
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		completer: completer,
		logger:    zap.NewNop(),
		now:       time.Now,
		docs:      make(map[string]*document),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("session", p.id))
	p.retriever = retriever.New(embedder, index,
		append([]retriever.Option{retriever.WithLogger(p.logger)}, p.retrieverOpts...)...)
	p.synth = synthesizer.New(completer,
		append([]synthesizer.Option{synthesizer.WithLogger(p.logger)}, p.synthOpts...)...)
	p.summarizer = summarizer.NewModelSummarizer(completer, nil,
		append([]summarizer.Option{summarizer.WithLogger(p.logger)}, p.summarizerOpts...)...)
	return p
}

// ID identifies the session in logs.
func (p *Pipeline) ID() string { return p.id }

// Ingest chunks, embeds and indexes one document. The document's chunks are
// committed to the index in one batch, so a failure at any stage leaves the
// index untouched and the document Unindexed.
func (p *Pipeline) Ingest(ctx context.Context, documentID string, pages []domain.Page) error {
	return p.IngestDocument(ctx, domain.Document{ID: documentID, Title: documentID, Pages: pages})
}

func (p *Pipeline) IngestDocument(ctx context.Context, doc domain.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return domain.InvalidInputf("document id must not be empty")
	}
	if len(doc.Pages) == 0 {
		return &domain.IngestError{DocumentID: doc.ID, Stage: domain.StateUnindexed, Err: domain.InvalidInputf("document has no pages")}
	}
	d, err := p.begin(doc)
	if err != nil {
		return err
	}
	log := p.logger.With(zap.String("document", doc.ID))
	began := time.Now()

	chunks, err := p.chunker.Chunk(doc)
	if err == nil && len(chunks) == 0 {
		err = domain.InvalidInputf("document has no text")
	}
	if err != nil {
		return p.fail(log, d, domain.StateChunking, err)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(log, d, domain.StateChunking, err)
	}

	p.setState(d, domain.StateEmbedding)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(chunks) {
		err = errors.New("embedder returned a different number of vectors")
	}
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
		return p.fail(log, d, domain.StateEmbedding, err)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(log, d, domain.StateEmbedding, err)
	}

	entries := make([]domain.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.IndexEntry{ChunkID: c.ID, Vector: vectors[i], Chunk: c}
	}
	if err := p.commit(ctx, d, chunks, entries); err != nil {
		return p.fail(log, d, domain.StateEmbedding, err)
	}

	log.Info("document indexed",
		zap.Int("pages", len(doc.Pages)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(began)))
	return nil
}

// commit adds the document's entries to the index and marks it Indexed. It
// refuses when d is no longer the session's record for its id, which happens
// after a Reset.
func (p *Pipeline) commit(ctx context.Context, d *document, chunks []domain.Chunk, entries []domain.IndexEntry) error {
	p.commitMu.RLock()
	defer p.commitMu.RUnlock()
	if !p.tracked(d) {
		return ErrSessionReset
	}
	if err := p.index.Add(ctx, entries); err != nil {
		return err
	}
	p.mu.Lock()
	d.chunks = chunks
	d.info.Chunks = len(chunks)
	d.info.State = domain.StateIndexed
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) tracked(d *document) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.docs[d.info.ID] == d
}

// begin registers the document as Chunking, refusing ids that are already
// indexed or being ingested.
func (p *Pipeline) begin(doc domain.Document) (*document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.docs[doc.ID]; ok && d.info.State != domain.StateUnindexed {
		return nil, &domain.IngestError{
			DocumentID: doc.ID,
			Stage:      d.info.State,
			Err:        domain.InvalidInputf("document %q is already %s", doc.ID, d.info.State),
		}
	}
	title := doc.Title
	if title == "" {
		title = doc.ID
	}
	if _, ok := p.docs[doc.ID]; !ok {
		p.order = append(p.order, doc.ID)
	}
	d := &document{info: DocumentInfo{
		ID:    doc.ID,
		Title: title,
		State: domain.StateChunking,
		Pages: len(doc.Pages),
	}}
	p.docs[doc.ID] = d
	return d, nil
}

// setState is a no-op for records dropped by Reset.
func (p *Pipeline) setState(d *document, state domain.DocumentState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.docs[d.info.ID] == d {
		d.info.State = state
	}
}

func (p *Pipeline) fail(log *zap.Logger, d *document, stage domain.DocumentState, err error) error {
	p.setState(d, domain.StateUnindexed)
	log.Warn("document ingestion failed", zap.String("stage", string(stage)), zap.Error(err))
	return &domain.IngestError{DocumentID: d.info.ID, Stage: stage, Err: err}
}

// DocumentState reports Unindexed for unknown ids.
func (p *Pipeline) DocumentState(id string) domain.DocumentState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if d, ok := p.docs[id]; ok {
		return d.info.State
	}
	return domain.StateUnindexed
}

// Documents lists known documents in the order they were first ingested.
func (p *Pipeline) Documents() []DocumentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]DocumentInfo, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.docs[id].info)
	}
	return out
}

// Query answers question from the indexed documents.
func (p *Pipeline) Query(ctx context.Context, question string, k int, minScore float64) (domain.Answer, error) {
	return p.Ask(ctx, domain.Query{Question: question, TopK: k, MinScore: minScore})
}

// Ask runs retrieval then synthesis. Dependency failures come back as a
// degraded Answer; only invalid input, dimension mismatches and cancellation
// are returned as errors. Canceled queries are not recorded.
func (p *Pipeline) Ask(ctx context.Context, q domain.Query) (domain.Answer, error) {
	if err := retriever.Validate(q); err != nil {
		return domain.Answer{}, err
	}
	log := p.logger.With(zap.String("question", q.Question))
	began := time.Now()

	log.Debug("query stage", zap.String("stage", "retrieving"))
	passages, err := p.retriever.RetrieveQuery(ctx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Answer{}, ctxErr
		}
		if errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, domain.ErrInvalidInput) {
			log.Error("query rejected", zap.Error(err))
			return domain.Answer{}, err
		}
		log.Warn("retrieval failed, answer degraded", zap.Error(err))
		answer := domain.Answer{
			Question:  q.Question,
			Text:      EmbeddingUnavailableText,
			Status:    domain.StatusDegraded,
			Citations: []domain.RetrievedPassage{},
			Passages:  []domain.RetrievedPassage{},
			Err:       err,
			Error:     err.Error(),
		}
		p.record(answer)
		return answer, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.Answer{}, err
	}

	log.Debug("query stage", zap.String("stage", "synthesizing"), zap.Int("passages", len(passages)))
	answer, err := p.synth.Synthesize(ctx, q.Question, passages)
	if err != nil {
		return domain.Answer{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Answer{}, err
	}
	p.record(answer)

	log.Info("query answered",
		zap.String("status", string(answer.Status)),
		zap.Float64("confidence", answer.Confidence),
		zap.Int("passages", len(passages)),
		zap.Duration("took", time.Since(began)))
	return answer, nil
}

func (p *Pipeline) record(answer domain.Answer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	p.history = append(p.history, domain.Exchange{Question: answer.Question, Answer: answer, AskedAt: p.now()})
	if p.maxHistory > 0 && len(p.history) > p.maxHistory {
		p.history = append([]domain.Exchange(nil), p.history[len(p.history)-p.maxHistory:]...)
	}
}

// History returns a copy of the session's exchanges, oldest first.
func (p *Pipeline) History() []domain.Exchange {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Exchange, len(p.history))
	copy(out, p.history)
	return out
}

func (p *Pipeline) SessionStats() domain.SessionStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := domain.SessionStats{QueryCount: p.queries}
	for _, d := range p.docs {
		if d.info.State == domain.StateIndexed {
			stats.DocumentCount++
			stats.ChunkCount += len(d.chunks)
		}
	}
	return stats
}

// IndexStats describes what has been indexed in this session.
func (p *Pipeline) IndexStats() domain.IndexStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := domain.IndexStats{
		Backend:   p.index.Backend(),
		Entries:   p.index.Size(),
		Dimension: p.index.Dimension(),
	}
	words, chunks := 0, 0
	for _, d := range p.docs {
		if d.info.State != domain.StateIndexed {
			continue
		}
		stats.Documents++
		pages := make(map[int]struct{})
		for _, c := range d.chunks {
			words += c.WordCount
			chunks++
			for _, pg := range c.Pages {
				pages[pg] = struct{}{}
			}
		}
		stats.Pages += len(pages)
	}
	if chunks > 0 {
		stats.AvgWords = float64(words) / float64(chunks)
	}
	return stats
}

// ChunksByPage returns the chunks of a document that touch page, in order.
func (p *Pipeline) ChunksByPage(documentID string, page int) []domain.Chunk {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.docs[documentID]
	if !ok {
		return []domain.Chunk{}
	}
	out := []domain.Chunk{}
	for _, c := range d.chunks {
		if c.OnPage(page) {
			out = append(out, c)
		}
	}
	return out
}

// Similar finds passages close to an indexed chunk.
func (p *Pipeline) Similar(ctx context.Context, chunkID string, k int) ([]domain.RetrievedPassage, error) {
	return p.retriever.Similar(ctx, chunkID, k)
}

// FollowUps suggests up to three next questions for an answer.
func (p *Pipeline) FollowUps(ctx context.Context, question, answer string) []string {
	return p.synth.FollowUps(ctx, question, answer)
}

// Summary summarises an indexed document from its leading chunks.
func (p *Pipeline) Summary(ctx context.Context, documentID string) (string, error) {
	p.mu.RLock()
	d, ok := p.docs[documentID]
	var chunks []domain.Chunk
	if ok && d.info.State == domain.StateIndexed {
		chunks = append(chunks, d.chunks...)
	}
	p.mu.RUnlock()
	if len(chunks) == 0 {
		return "", domain.InvalidInputf("document %q is not indexed", documentID)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return p.summarizer.SummarizeChunks(ctx, chunks)
}

// SummaryAll summarises every indexed document together, leading chunks
// first in ingestion order.
func (p *Pipeline) SummaryAll(ctx context.Context) (string, error) {
	p.mu.RLock()
	var chunks []domain.Chunk
	for _, id := range p.order {
		d := p.docs[id]
		if d.info.State != domain.StateIndexed {
			continue
		}
		sorted := append([]domain.Chunk(nil), d.chunks...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
		chunks = append(chunks, sorted...)
	}
	p.mu.RUnlock()
	if len(chunks) == 0 {
		return "", domain.InvalidInputf("no documents are indexed")
	}
	return p.summarizer.SummarizeChunks(ctx, chunks)
}

// Coverage retrieves passages for q without calling the model and reports
// which pages they come from. Coverage is the found share of the k requested.
func (p *Pipeline) Coverage(ctx context.Context, q domain.Query) (domain.Coverage, error) {
	passages, err := p.retriever.RetrieveQuery(ctx, q)
	if err != nil {
		return domain.Coverage{}, err
	}
	k := q.TopK
	if k == 0 {
		k = p.retriever.DefaultTopK()
	}
	cov := domain.Coverage{Pages: []int{}, Chunks: len(passages)}
	if len(passages) == 0 {
		return cov, nil
	}
	cov.Coverage = math.Min(float64(len(passages))/float64(k), 1)
	seen := make(map[int]struct{})
	words := 0
	for _, ps := range passages {
		words += ps.Chunk.WordCount
		for _, pg := range ps.Chunk.Pages {
			if _, ok := seen[pg]; !ok {
				seen[pg] = struct{}{}
				cov.Pages = append(cov.Pages, pg)
			}
		}
	}
	sort.Ints(cov.Pages)
	cov.AvgWords = float64(words) / float64(len(passages))
	return cov, nil
}

// Reset clears the index, documents and history.
// Ingestions still running are failed with ErrSessionReset.
func (p *Pipeline) Reset(ctx context.Context) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.index.Clear(ctx); err != nil {
		return err
	}
	p.docs = make(map[string]*document)
	p.order = nil
	p.history = nil
	p.queries = 0
	p.logger.Info("session reset")
	return nil
}

// Close releases the index, embedder and model client when they hold
// resources.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range []any{p.index, p.embedder, p.completer} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
