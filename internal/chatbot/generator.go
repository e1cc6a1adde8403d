// Package chatbot implements the deterministic mock assistant. Responses are
// a pure function of the session id and prompt, so repeated sends within a
// session reproduce the same text while different sessions diverge.
package chatbot

import "strings"

var greetings = []string{
	"Hello! I'm ready to help you explore your PDF. Ask me anything about it.",
	"Hello there! Upload a PDF and I can answer questions about its contents.",
	"Hello! What would you like to know about your document?",
}

const (
	summaryResponse = "Here's a summary of the document: it covers the key topics across its " +
		"sections, opening with the core problem statement, developing the main argument " +
		"through supporting evidence, and closing with practical conclusions."

	capabilityResponse = "I can answer questions about the PDF attached to this session: " +
		"summarize sections, explain terminology, locate specific passages, and compare " +
		"claims made in different parts of the document."
)

var openers = []string{
	"Based on the document, ",
	"Looking at the attached PDF, ",
	"From what the document describes, ",
	"According to the text, ",
	"The document addresses this directly: ",
}

var topics = []string{
	"the main argument builds on the evidence presented in the earlier sections",
	"this point is covered in detail around the middle of the document",
	"the author approaches the question from several complementary angles",
	"the key findings are summarized before the concluding remarks",
	"there are a few related passages that provide additional context",
	"the terminology is defined where the concept is first introduced",
}

var closers = []string{
	" Let me know if you'd like me to go deeper into any part of it.",
	" I can point you to the relevant section if that helps.",
	" Feel free to ask a follow-up question.",
	" Would you like a summary of that section?",
	"",
}

// Generate produces the mock assistant reply for a prompt. It is a pure
// function of its inputs: identical (sessionID, prompt) pairs always yield
// identical text.
func Generate(sessionID, prompt string) string {
	lower := strings.ToLower(prompt)

	switch {
	case containsAny(lower, "summarize", "summary", "summarise"):
		return summaryResponse
	case isGreeting(lower):
		return greetings[charSum(sessionID)%uint64(len(greetings))]
	case strings.Contains(lower, "what") && strings.Contains(lower, "pdf"):
		return capabilityResponse
	}

	rng := newRand(charSum(sessionID) + charSum(prompt))

	var sb strings.Builder
	sb.WriteString(openers[rng.intn(len(openers))])
	sb.WriteString(topics[rng.intn(len(topics))])
	sb.WriteString(".")
	sb.WriteString(closers[rng.intn(len(closers))])
	return sb.String()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isGreeting(lower string) bool {
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".,!?")
		if w == "hello" || w == "hi" {
			return true
		}
	}
	return false
}

func charSum(s string) uint64 {
	var sum uint64
	for _, r := range s {
		sum += uint64(r)
	}
	return sum
}

// rand is a xorshift64 generator. It only needs to be deterministic and
// uniform enough to spread template picks across sessions.
type rand struct {
	state uint64
}

func newRand(seed uint64) *rand {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	return &rand{state: seed}
}

func (r *rand) next() uint64 {
	r.state ^= r.state << 13
	r.state ^= r.state >> 7
	r.state ^= r.state << 17
	return r.state
}

func (r *rand) intn(n int) int {
	return int(r.next() % uint64(n))
}
