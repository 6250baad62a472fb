package generator

import (
	"github.com/hyperjump/kotae/pkg/utils"
)

// SystemInstruction is the grounding constraint sent with every remote request.
const SystemInstruction = "You are a careful assistant answering questions about a document collection. " +
	"Answer strictly and only from the supplied context. " +
	"If the context does not contain enough information to answer, say so explicitly. " +
	"Do not introduce facts, figures or recommendations that are not in the context. " +
	"Be concise and clear."

// TruncateContext cuts context to at most maxChars runes. Truncating twice with the same
// budget yields the same string. maxChars <= 0 leaves context unchanged.
func TruncateContext(context string, maxChars int) string {
	if maxChars <= 0 {
		return context
	}
	return utils.TruncateRunes(context, maxChars)
}

// BuildMessages returns the system and user messages for query over context.
func BuildMessages(query, context string, maxChars int) []Message {
	return []Message{
		{Role: RoleSystem, Content: SystemInstruction},
		{Role: RoleUser, Content: "Context:\n" + TruncateContext(context, maxChars) + "\n\nQuestion: " + query},
	}
}
