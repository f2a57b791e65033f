package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"docqa/internal/middleware"
	"docqa/internal/models"
	"docqa/internal/retry"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: GROUNDED ANSWERS WITH CITATIONS

The model sees the passages numbered [S1]..[Sn] and is told to cite the
markers. Afterwards each marker is swapped for the page it came from, and
the pages actually cited (not every passage we sent) become the sources.
A model that ignores the instruction simply yields an answer with no
sources; it never yields a source it did not use.
*/

// InsufficientAnswer is returned, with no sources, whenever the document
// holds nothing relevant to the question
const InsufficientAnswer = "I don't have enough information in this document to answer that question."

const systemPrompt = `You answer questions about a single document using only the numbered passages provided.
Rules:
- Use only facts stated in the passages. Do not use outside knowledge.
- After every sentence that uses a passage, cite it with its marker, for example [S1] or [S2].
- If the passages do not contain the answer, reply exactly: ` + InsufficientAnswer

var markerPattern = regexp.MustCompile(`\[\s*S\d+(?:\s*,\s*S\d+)*\s*\]`)
var markerNumber = regexp.MustCompile(`S(\d+)`)

type SynthesizerOptions struct {
	Timeout     time.Duration // per attempt
	Retry       retry.Policy
	IsPermanent func(error) bool
}

// Synthesizer turns retrieved passages into a cited answer
type Synthesizer struct {
	generator Generator
	opts      SynthesizerOptions
}

func NewSynthesizer(generator Generator, opts SynthesizerOptions) *Synthesizer {
	if opts.IsPermanent == nil {
		opts.IsPermanent = func(error) bool { return false }
	}
	return &Synthesizer{generator: generator, opts: opts}
}

// Synthesize answers from the retrieval result. NoRelevantContext never
// reaches the model.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, result RetrievalResult) (*models.Answer, error) {
	relevant, ok := result.(RelevantContext)
	if !ok || len(relevant.Chunks) == 0 {
		return insufficient(), nil
	}

	ctx, span := middleware.StartSpan(ctx, "Synthesizer.Synthesize",
		attribute.Int("passages", len(relevant.Chunks)),
	)
	defer span.End()

	messages := BuildPrompt(question, relevant.Chunks)

	var reply string
	err := s.opts.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		callCtx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}

		text, err := s.generator.Generate(callCtx, messages)
		if err != nil {
			if s.opts.IsPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("empty completion")
		}
		reply = text
		return nil
	})
	if err != nil {
		middleware.AddSpanError(ctx, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationServiceUnavailable, err)
	}

	answer := Cite(reply, relevant.Chunks)
	middleware.AddSpanEvent(ctx, "answer_synthesized",
		attribute.Int("sources", len(answer.Sources)),
		attribute.Int("answer_length", len(answer.Text)),
	)
	return answer, nil
}

func insufficient() *models.Answer {
	return &models.Answer{Text: InsufficientAnswer, Sources: []string{}}
}

// BuildPrompt numbers the passages and asks the question
func BuildPrompt(question string, chunks []models.ScoredChunk) []models.Message {
	var b strings.Builder
	b.WriteString("Passages:\n\n")
	for i, sc := range chunks {
		fmt.Fprintf(&b, "[S%d] (%s)\n%s\n\n", i+1, sc.Chunk.SourceLabel(), strings.TrimSpace(sc.Chunk.Text))
	}
	fmt.Fprintf(&b, "Question: %s\n\nAnswer using only the passages above and cite them.", strings.TrimSpace(question))

	return []models.Message{
		{Role: models.RoleSystem, Content: systemPrompt},
		{Role: models.RoleUser, Content: b.String()},
	}
}

// Cite rewrites [Sn] markers to page labels and collects the cited labels
// in order of first citation. Markers pointing at no passage are dropped.
func Cite(reply string, chunks []models.ScoredChunk) *models.Answer {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, InsufficientAnswer) {
		return insufficient()
	}

	sources := []string{}
	seen := make(map[string]bool)

	text := markerPattern.ReplaceAllStringFunc(reply, func(marker string) string {
		var labels []string
		local := make(map[string]bool)
		for _, m := range markerNumber.FindAllStringSubmatch(marker, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 || n > len(chunks) {
				continue
			}
			label := chunks[n-1].Chunk.SourceLabel()
			if !local[label] {
				local[label] = true
				labels = append(labels, label)
			}
			if !seen[label] {
				seen[label] = true
				sources = append(sources, label)
			}
		}
		if len(labels) == 0 {
			return ""
		}
		return "[" + strings.Join(labels, ", ") + "]"
	})

	return &models.Answer{Text: tidy(text), Sources: sources}
}

var spaceBeforePunct = regexp.MustCompile(` +([.,;:!?])`)
var repeatedSpaces = regexp.MustCompile(`[ \t]{2,}`)

// tidy removes the gaps left by dropped markers
func tidy(s string) string {
	s = repeatedSpaces.ReplaceAllString(s, " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
