package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mahaj/groupchat/pkg/api"
)

const maxSuggestions = 3

// cannedReplies stands in for a reply model: it matches the inbound text
// against a few intents and offers short stock answers.
var cannedReplies = []struct {
	match   func(string) bool
	replies []string
}{
	{containsAny("thank", "thx", "ty"), []string{"You're welcome!", "Anytime", "No problem"}},
	{firstWordIs("hi", "hey", "hello", "yo"), []string{"Hey!", "Hi, how are you?", "Hello!"}},
	{containsAny("lunch", "dinner", "coffee", "drinks"), []string{"I'm in!", "Can't today, sorry", "What time?"}},
}

func containsAny(words ...string) func(string) bool {
	return func(s string) bool {
		for _, w := range strings.Fields(s) {
			w = strings.Trim(w, ".,!?")
			for _, want := range words {
				if strings.HasPrefix(w, want) {
					return true
				}
			}
		}
		return false
	}
}

func firstWordIs(words ...string) func(string) bool {
	return func(s string) bool {
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return false
		}
		first := strings.Trim(fields[0], ".,!?")
		for _, w := range words {
			if first == w {
				return true
			}
		}
		return false
	}
}

// Suggest returns at most three replies for text.
func Suggest(text string) []string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil
	}
	for _, c := range cannedReplies {
		if c.match(s) {
			return c.replies[:min(len(c.replies), maxSuggestions)]
		}
	}
	if strings.HasSuffix(s, "?") {
		return []string{"Yes", "No", "Let me check"}
	}
	return []string{"Sounds good", "Got it", "👍"}
}

func SuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	var req api.SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	out := Suggest(req.Text)
	if out == nil {
		out = []string{}
	}
	writeJSON(w, api.SuggestResponse{Suggestions: out})
}
