// Package mentions parses @token spans in message drafts, ranks room
// participants against the token and rewrites accepted spans into durable
// user references.
package mentions

import (
	"sort"
	"strings"
	"unicode"

	"chat-sync/internal/models"
)

// Scoring for RankCandidates. Candidates without even an in-order
// subsequence match are excluded entirely, not scored low.
const (
	scoreExact     = 100
	scorePrefix    = 80
	scoreSubstring = 60
	scorePerChar   = 10
)

// Span is a half-open [Start, End) byte range within a draft.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ActiveMention is the @token the cursor is currently inside.
type ActiveMention struct {
	Query string `json:"query"`
	Span  Span   `json:"span"`
}

// Mention is one resolved (or deliberately unresolved) span in a draft.
// Spans never overlap; resolving the same input twice yields the same set.
type Mention struct {
	Span   Span    `json:"span"`
	Query  string  `json:"query"`
	UserID *string `json:"user_id"`
	// Ambiguous is set when several candidates ranked equal and the first
	// in roster order was chosen.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Resolution is the outcome of resolving a full draft.
type Resolution struct {
	FinalText string    `json:"final_text"`
	Mentions  []Mention `json:"mentions"`
	// UserIDs lists the distinct resolved users, in span order, for the
	// notification dispatcher.
	UserIDs []string `json:"user_ids"`
}

// Candidate pairs a participant with its ranking score.
type Candidate struct {
	Participant models.Participant
	Score       int
}

// FindActiveMention locates the @token containing the cursor, or nil. A
// mention starts with '@' preceded by start-of-text or whitespace and runs
// over word characters up to the first break or the cursor.
func FindActiveMention(text string, cursor int) *ActiveMention {
	if cursor < 0 || cursor > len(text) {
		return nil
	}

	at := -1
	for i := cursor - 1; i >= 0; i-- {
		c := text[i]
		if c == '@' {
			if i == 0 || isSpace(text[i-1]) {
				at = i
			}
			break
		}
		if !isWordByte(c) {
			break
		}
	}
	if at == -1 {
		return nil
	}

	end := cursor
	for end < len(text) && isWordByte(text[end]) {
		end++
	}
	return &ActiveMention{
		Query: text[at+1 : end],
		Span:  Span{Start: at, End: end},
	}
}

// RankCandidates orders participants by relevance to the query: exact name
// match, then prefix, then substring, then in-order subsequence scored per
// matched character. Non-matching participants are excluded. Ties keep
// roster order, which makes ambiguity resolution deterministic.
func RankCandidates(query string, participants []models.Participant) []Candidate {
	q := strings.ToLower(query)
	ranked := make([]Candidate, 0, len(participants))
	for _, participant := range participants {
		score, ok := scoreName(q, strings.ToLower(participant.DisplayName))
		if !ok {
			continue
		}
		ranked = append(ranked, Candidate{Participant: participant, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Resolve rewrites each mention span to the canonical @name of its top
// candidate and collects resolved user ids. Unresolved spans stay as plain
// text. Resolving unchanged input twice yields identical output.
func Resolve(draft string, participants []models.Participant) Resolution {
	spans := findAllMentions(draft)
	res := Resolution{FinalText: draft}
	if len(spans) == 0 {
		return res
	}

	var out strings.Builder
	prev := 0
	seen := map[string]bool{}
	for _, active := range spans {
		out.WriteString(draft[prev:active.Span.Start])

		mention := Mention{Span: active.Span, Query: active.Query}
		ranked := RankCandidates(active.Query, participants)
		if active.Query != "" && len(ranked) > 0 {
			top := ranked[0]
			userID := top.Participant.UserID
			mention.UserID = &userID
			mention.Ambiguous = len(ranked) > 1 && ranked[1].Score == top.Score
			canonical := "@" + canonicalName(top.Participant)
			mention.Span = Span{Start: out.Len(), End: out.Len() + len(canonical)}
			out.WriteString(canonical)
			if !seen[userID] {
				seen[userID] = true
				res.UserIDs = append(res.UserIDs, userID)
			}
		} else {
			// Keep the raw token; dropping user text silently is worse than
			// an unresolved mention.
			raw := draft[active.Span.Start:active.Span.End]
			mention.Span = Span{Start: out.Len(), End: out.Len() + len(raw)}
			out.WriteString(raw)
		}
		res.Mentions = append(res.Mentions, mention)
		prev = active.Span.End
	}
	out.WriteString(draft[prev:])
	res.FinalText = out.String()
	return res
}

// findAllMentions scans the whole draft for @token spans, left to right.
// Scanning resumes past each span, so spans cannot overlap.
func findAllMentions(text string) []ActiveMention {
	var spans []ActiveMention
	for i := 0; i < len(text); i++ {
		if text[i] != '@' {
			continue
		}
		if i > 0 && !isSpace(text[i-1]) {
			continue
		}
		end := i + 1
		for end < len(text) && isWordByte(text[end]) {
			end++
		}
		if end == i+1 {
			continue
		}
		spans = append(spans, ActiveMention{
			Query: text[i+1 : end],
			Span:  Span{Start: i, End: end},
		})
		i = end - 1
	}
	return spans
}

// scoreName scores a lowercased name against a lowercased query, reporting
// whether the name matches at all.
func scoreName(query, name string) (int, bool) {
	if query == "" {
		return 0, false
	}
	if name == query {
		return scoreExact, true
	}
	if strings.HasPrefix(name, query) {
		return scorePrefix, true
	}
	if strings.Contains(name, query) {
		return scoreSubstring, true
	}
	// Subsequence: every query character must appear in order.
	matched := 0
	for i := 0; i < len(name) && matched < len(query); i++ {
		if name[i] == query[matched] {
			matched++
		}
	}
	if matched == len(query) {
		return matched * scorePerChar, true
	}
	return 0, false
}

// canonicalName is the name written back into the draft: the display name
// with inner whitespace collapsed out, since a space would end the token.
func canonicalName(p models.Participant) string {
	fields := strings.Fields(p.DisplayName)
	if len(fields) == 0 {
		return p.UserID
	}
	return strings.Join(fields, "")
}

func isSpace(c byte) bool {
	return unicode.IsSpace(rune(c))
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
