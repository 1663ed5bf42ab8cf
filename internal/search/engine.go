// Package search runs ranked full-text queries over the message corpus and
// keeps per-user query suggestions.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Backend supplies candidate messages matching any term. Relevance is scored
// here, so the contract holds whether the backend is an index or a plain
// table scan.
type Backend interface {
	SearchCandidates(ctx context.Context, roomIDs []string, terms []string, limit int) ([]models.Message, error)
}

// Overlay exposes the live edit/delete state of the message cache so results
// cannot show stale content for messages the client already saw change.
type Overlay interface {
	Lookup(roomID, messageID string) (models.Message, bool)
}

// Options scope one search.
type Options struct {
	RoomIDs []string
	Limit   int
	Offset  int
	// SortByDate orders by recency instead of relevance.
	SortByDate bool
}

// Result is one ranked hit.
type Result struct {
	Message     models.Message `json:"message"`
	RoomID      string         `json:"room_id"`
	SenderID    string         `json:"sender_id"`
	Score       float64        `json:"score"`
	Highlighted string         `json:"highlighted"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Stats reports result count, wall-clock latency and distinct rooms touched.
type Stats struct {
	Total      int           `json:"total"`
	Latency    time.Duration `json:"latency"`
	RoomsFound int           `json:"rooms_found"`
}

// Results is a paginated, relevance-ordered result set.
type Results struct {
	Results []Result `json:"results"`
	Stats   Stats    `json:"stats"`
	HasMore bool     `json:"has_more"`
}

// Engine executes searches and records successful queries for suggestions.
type Engine struct {
	backend    Backend
	overlay    Overlay
	maxHistory int

	mu     sync.Mutex
	recent map[string][]string
}

// NewEngine builds an engine. overlay may be nil when no live cache exists.
func NewEngine(backend Backend, overlay Overlay, maxHistory int) *Engine {
	if maxHistory <= 0 {
		maxHistory = 25
	}
	return &Engine{
		backend:    backend,
		overlay:    overlay,
		maxHistory: maxHistory,
		recent:     make(map[string][]string),
	}
}

// Search runs one ranked query for userID. Ranking is text relevance
// normalized to [0,1]; recency only breaks ties. Cancel via ctx.
func (e *Engine) Search(ctx context.Context, userID, query string, opts Options) (Results, error) {
	ctx, span := otel.Tracer("chat-sync/search").Start(ctx, "search.query")
	defer span.End()

	start := time.Now()
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	terms := Terms(query)
	if len(terms) == 0 {
		return Results{Stats: Stats{Latency: time.Since(start)}}, nil
	}

	candidates, err := e.backend.SearchCandidates(ctx, opts.RoomIDs, terms, candidateLimit(opts))
	if err != nil {
		return Results{}, err
	}
	if ctx.Err() != nil {
		return Results{}, ctx.Err()
	}

	scored := make([]Result, 0, len(candidates))
	rooms := map[string]bool{}
	for _, msg := range candidates {
		if e.overlay != nil {
			if live, cached := e.overlay.Lookup(msg.RoomID, msg.ID); cached {
				if live.Deleted {
					// Deleted since the backend served it.
					continue
				}
				msg = live
			}
		}
		score := Score(msg.Content, terms)
		if score <= 0 {
			continue
		}
		rooms[msg.RoomID] = true
		scored = append(scored, Result{
			Message:     msg,
			RoomID:      msg.RoomID,
			SenderID:    msg.SenderID,
			Score:       score,
			Highlighted: Highlight(msg.Content, terms),
			CreatedAt:   msg.CreatedAt,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if opts.SortByDate || scored[i].Score == scored[j].Score {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].Score > scored[j].Score
	})

	total := len(scored)
	from := opts.Offset
	if from > total {
		from = total
	}
	to := from + opts.Limit
	if to > total {
		to = total
	}

	latency := time.Since(start)
	observability.ObserveSearchDuration(latency)
	if total > 0 {
		e.remember(userID, query)
	}

	return Results{
		Results: scored[from:to],
		HasMore: to < total,
		Stats: Stats{
			Total:      total,
			Latency:    latency,
			RoomsFound: len(rooms),
		},
	}, nil
}

// Suggest returns the user's recent successful queries matching the partial
// input, most recent first.
func (e *Engine) Suggest(userID, partial string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(partial))
	var out []string
	for _, q := range e.recent[userID] {
		if needle == "" || strings.Contains(strings.ToLower(q), needle) {
			out = append(out, q)
		}
	}
	return out
}

// remember pushes a successful query to the front, deduplicated by exact
// text and capped.
func (e *Engine) remember(userID, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	history := e.recent[userID]
	next := make([]string, 0, len(history)+1)
	next = append(next, query)
	for _, q := range history {
		if q != query {
			next = append(next, q)
		}
	}
	if len(next) > e.maxHistory {
		next = next[:e.maxHistory]
	}
	e.recent[userID] = next
}

// Terms splits a query into lowercase whitespace-separated terms, dropping
// single characters.
func Terms(query string) []string {
	var terms []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		if len(field) > 1 {
			terms = append(terms, field)
		}
	}
	return terms
}

// Score rates content against terms, normalized to [0,1]. Each term
// contributes by occurrence count with diminishing weight; a term absent
// from the content contributes nothing.
func Score(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	var total float64
	for _, term := range terms {
		count := strings.Count(lower, term)
		if count > 3 {
			count = 3
		}
		total += float64(count) / 3
	}
	return total / float64(len(terms))
}

const (
	highlightOpen  = "<mark>"
	highlightClose = "</mark>"
)

// Highlight wraps every case-insensitive occurrence of every term.
// Overlapping matches from different terms merge into a single wrapped
// region instead of nesting; adjacent matches stay separate.
func Highlight(content string, terms []string) string {
	lower := strings.ToLower(content)

	type span struct{ start, end int }
	var spans []span
	for _, term := range terms {
		from := 0
		for {
			idx := strings.Index(lower[from:], term)
			if idx == -1 {
				break
			}
			start := from + idx
			spans = append(spans, span{start, start + len(term)})
			from = start + len(term)
		}
	}
	if len(spans) == 0 {
		return content
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start < last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	var out strings.Builder
	prev := 0
	for _, s := range merged {
		out.WriteString(content[prev:s.start])
		out.WriteString(highlightOpen)
		out.WriteString(content[s.start:s.end])
		out.WriteString(highlightClose)
		prev = s.end
	}
	out.WriteString(content[prev:])
	return out.String()
}

func candidateLimit(opts Options) int {
	// Over-fetch so in-engine filtering and pagination still fill the page.
	limit := (opts.Offset + opts.Limit) * 5
	if limit < 200 {
		limit = 200
	}
	return limit
}
