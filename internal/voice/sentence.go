package voice

import "strings"

// sentenceSplitter accumulates streamed LLM tokens and cuts them into
// sentence-sized chunks for synthesis. A chunk closes on terminal
// punctuation or when the buffer reaches maxLen, whichever comes first.
type sentenceSplitter struct {
	maxLen int
	buffer string
}

func newSentenceSplitter(maxLen int) *sentenceSplitter {
	if maxLen <= 0 {
		maxLen = 240
	}
	return &sentenceSplitter{maxLen: maxLen}
}

// Push feeds a token and returns any sentences it completed.
func (s *sentenceSplitter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buffer += token

	var out []string
	for {
		sentence, rest, ok := cutSentence(s.buffer, s.maxLen)
		if !ok {
			break
		}
		s.buffer = rest
		if sentence = normalizeSentence(sentence); sentence != "" {
			out = append(out, sentence)
		}
	}
	return out
}

// Finalize flushes whatever remains after the token stream ends.
func (s *sentenceSplitter) Finalize() []string {
	rest := normalizeSentence(s.buffer)
	s.buffer = ""
	if rest == "" {
		return nil
	}
	return []string{rest}
}

func cutSentence(input string, maxLen int) (sentence, rest string, ok bool) {
	for i := 0; i < len(input); i++ {
		if !isTerminal(input[i]) {
			continue
		}
		// Swallow runs like "?!" or "..." into one sentence.
		end := i + 1
		for end < len(input) && isTerminal(input[end]) {
			end++
		}
		return input[:end], input[end:], true
	}
	if len(input) < maxLen {
		return "", input, false
	}
	cut := lastSpaceBefore(input, maxLen)
	if cut <= 0 {
		cut = maxLen
	}
	return input[:cut], input[cut:], true
}

func isTerminal(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func lastSpaceBefore(input string, limit int) int {
	if limit > len(input) {
		limit = len(input)
	}
	for i := limit - 1; i > 0; i-- {
		if input[i] == ' ' || input[i] == '\t' || input[i] == '\n' {
			return i
		}
	}
	return -1
}

func normalizeSentence(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
