package qa

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/thatsimo/yet-another-chatbot/internal/rag"
)

const systemPrompt = `You are an assistant tasked with answering questions based on the retrieved documents.

Context information is below:
%s

Given the context information and not prior knowledge, answer the question.
If the context does not contain the answer, say that the uploaded documents do not cover it.`

// BuildMessages composes the prompt: a system message holding the
// instructions and the numbered passages, then the question verbatim.
func BuildMessages(question string, passages []rag.Passage) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPrompt, formatContext(passages))),
		schema.UserMessage(question),
	}
}

func formatContext(passages []rag.Passage) string {
	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s", i+1, p.Source, p.Text)
	}
	return sb.String()
}
