package analysis

import "fmt"

// framePrompt drives single-frame extraction: pull out the question and
// answer it, nothing about the image itself.
const framePrompt = `Analyze this image and extract the QUESTION or PROBLEM from it, then provide the ANSWER or SOLUTION.

Format your response as follows:

**Question/Problem:**
[Extract and state the question or problem clearly]

**Answer/Solution:**
[Provide the complete answer or solution]

If the problem requires code, write clean code inside Markdown code blocks.
If it is a math problem, show the step-by-step solution.
If it is a general question, provide a clear, direct answer.

Do NOT describe the image, the screenshot, or any UI elements. Focus ONLY on
extracting the question/problem and providing the solution/answer.`

// chatContextPreamble introduces the frame a chat question refers to.
const chatContextPreamble = `This is the image we are discussing. Please refer to it when answering questions.`

// batchPrompt asks for every unique question across a set of sequential
// screenshots in the fixed report format the reconciler understands. The
// format lines here are a contract: internal/reconcile parses exactly this
// shape.
func batchPrompt(frameCount int) string {
	return fmt.Sprintf(`You are analyzing %d sequential screenshots that collectively contain multiple-choice questions.

IMPORTANT NOTES:
- A single question may appear partially across multiple images (split across screenshots)
- Some questions may appear more than once (duplicate screenshots)
- Options (A, B, C, D, etc.) may appear on different images than the question text

YOUR TASK:
1. Analyze ALL images together as one cohesive set to get full context
2. Identify ALL unique questions: merge partial or split question text,
   collect ALL options across images, and remove duplicate questions
3. For each unique question, write the COMPLETE question text, ALL options,
   and the answer. Determine the answer by reasoning if it is not marked.
   Only use "not visible" if the question or ALL options are unreadable.
   Do NOT explain answers.

OUTPUT FORMAT (EXACTLY as shown):
total number of questions : X

Question 1: [Complete question text here]
Options:
A) [Option A text]
B) [Option B text]
C) [Option C text]
D) [Option D text]
Answer: a

Question 2: [Complete question text here]
Options:
A) [Option A text]
B) [Option B text]
Answer: a and b

CRITICAL RULES:
- Start with "total number of questions : X"
- Use the ACTUAL question number from the images if visible; only number
  sequentially from 1 when no number is visible. Do NOT renumber.
- For multiple answers write "Answer: a and b" (use "and", not commas)
- NO explanations, NO image descriptions, NO code blocks, NO duplicates
- Add no other text before or after the list

Return ONLY the output in the exact format specified above.`, frameCount)
}
