package engine

// Prompts for the LLM collaborators. All of them demand plain-text replies
// so parsing stays trivial.

const answerSystemPrompt = `You are a research assistant answering questions about %s.
Answer strictly from the context below. If the context does not contain the
answer, say so briefly instead of guessing. Be concise and factual.

Context:
%s`

const routeSystemPrompt = `You route questions about %s to retrieval pipelines.
For each pipeline below, rate from 0 to 10 how likely it is to hold the
information needed to answer the user's question.

Pipelines:
%s

Reply with one line per pipeline, formatted exactly as:
name;score

No other text.`

const reformulateSystemPrompt = `You rewrite follow-up questions as standalone questions.
Given the conversation so far, rewrite the user's last question so it can be
understood without the conversation. Reply with the rewritten question only.`

const gradeSystemPrompt = `You grade how well a candidate answer addresses a question about %s.
Reply with a single number from 0 to 10 and nothing else.`

const reportSystemPrompt = `You are an analyst writing the final answer to a question about %s.
Merge the research notes below into one coherent, concise answer. Use only
information present in the notes.

Research notes:
%s`
