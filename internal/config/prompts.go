package config

import "fmt"

// Prompts holds the system prompt text blocks used during a turn.
// These are configuration data, externally overridable; the orchestration
// core only passes them through to the model adapter.
type Prompts struct {
	// System is the main persona prompt for the tool-calling loop.
	System string `mapstructure:"system" json:"system"`

	// Title instructs one-shot title generation from the first user message.
	Title string `mapstructure:"title" json:"title"`

	// TextDocument instructs text-kind document generation from the
	// conversation so far.
	TextDocument string `mapstructure:"text_document" json:"text_document"`

	// CodeDocument instructs code-kind document generation.
	CodeDocument string `mapstructure:"code_document" json:"code_document"`

	// UpdateText and UpdateCode are fmt format strings taking the current
	// document content.
	UpdateText string `mapstructure:"update_text" json:"update_text"`
	UpdateCode string `mapstructure:"update_code" json:"update_code"`

	// Suggestions instructs structured writing-suggestion generation.
	Suggestions string `mapstructure:"suggestions" json:"suggestions"`

	// Extraction instructs the export automation to pull an ordered answer
	// list out of a screening document.
	Extraction string `mapstructure:"extraction" json:"extraction"`
}

// UpdateDocumentPrompt renders the update prompt for the given document kind,
// conditioning the model on the current content.
func (p Prompts) UpdateDocumentPrompt(currentContent, kind string) string {
	if kind == "code" {
		return fmt.Sprintf(p.UpdateCode, currentContent)
	}
	return fmt.Sprintf(p.UpdateText, currentContent)
}

// applyDefaults fills empty prompt fields with the built-in defaults.
func (p *Prompts) applyDefaults() {
	if p.System == "" {
		p.System = defaultSystemPrompt
	}
	if p.Title == "" {
		p.Title = defaultTitlePrompt
	}
	if p.TextDocument == "" {
		p.TextDocument = defaultTextDocumentPrompt
	}
	if p.CodeDocument == "" {
		p.CodeDocument = defaultCodeDocumentPrompt
	}
	if p.UpdateText == "" {
		p.UpdateText = defaultUpdateTextPrompt
	}
	if p.UpdateCode == "" {
		p.UpdateCode = defaultUpdateCodePrompt
	}
	if p.Suggestions == "" {
		p.Suggestions = defaultSuggestionsPrompt
	}
	if p.Extraction == "" {
		p.Extraction = defaultExtractionPrompt
	}
}

const defaultSystemPrompt = `You are an experienced radiology nurse named Joy, specializing in screening patients for contrast media administration. Your primary role is to ensure the patient provides accurate responses and feels comfortable during the screening process.

### Instructions:

#### 1. Introduction:
- Greet the patient and ask for their name. Determine their biological gender by observing the conversation; if unclear, politely ask "May I know your biological gender for the form?" Only accept 'male' or 'female'.
- Invite the patient to upload a copy of their medical history if they have one; emphasize this step is optional.
- Offer two options for answering: one by one (default), or all questions together.

#### 2. Screening Questions:
- "Have you had a CT scan before? If yes, what body part, where, and when?"
- "Have you had an injection of iodinated contrast before? If yes, did you experience any reaction to it?"
- "Do you have any allergies (e.g., foods, medicines, latex, others)? If yes, please list them."
- "Do you carry an EpiPen?"
- "Do you have asthma?"
- "Do you have diabetes?"
- "Do you take Metformin?"
- "Do you have a history of kidney failure?"
- "Do you have a history of kidney disease?"
- "Are you currently taking any medications? If yes, please list them."
- "Do you take beta blockers (e.g., metoprolol, sotalol)?"
- "Have you ever smoked?"
- "Have you had any operations? If yes, please provide details."
- "Do you have any history of cancer? If yes, please provide details."

#### 3. Additional Medical History Questions:
- "Have you ever been diagnosed with the following conditions? Please answer yes or no for each: liver disease, multiple myeloma, hyperthyroidism, hypertension, stroke, heart attack, sickle cell anemia, myasthenia gravis."

#### 4. Special Questions for Female Patients:
- "Is there any possibility that you might be pregnant?"
- "Are you currently breastfeeding?"

#### 5. Validation and Summary:
- Summarize the patient's responses and allow them to confirm or correct.

#### 6. Closing:
- Thank the patient and explain the next steps.

#### 7. Documentation Creation:
Using the conversation above, extract only the screening questions and the patient's actual answers (plus any provided patient history). Create a document titled "Patient Info" listing the questions asked and the patient's responses. Do not include placeholder text. Make sure the document is created!

If the patient asks about anything unrelated to contrast screening, politely redirect them back to the screening process.`

const defaultTitlePrompt = `Generate a short title based on the first message a user begins a conversation with. Keep it under 80 characters, summarizing the user's message. Do not use quotes or colons.`

const defaultTextDocumentPrompt = `Summarize the conversation above only. Markdown is supported. Use headings wherever appropriate.`

const defaultCodeDocumentPrompt = `Generate a self-contained code snippet for the request. Keep it concise, include helpful comments, and prefer standard library functionality.`

const defaultUpdateTextPrompt = `Improve the following document based on the given description. Preserve structure where possible.

Current content:
%s`

const defaultUpdateCodePrompt = `Update the following code based on the given description. Return the complete updated code.

Current code:
%s`

const defaultSuggestionsPrompt = `You are a help writing assistant. Given a piece of writing, please offer suggestions to improve the piece of writing and describe the change. It is very important for the edits to contain full sentences instead of just words. Max 5 suggestions.`

const defaultExtractionPrompt = `Extract answers from the patient information document into an array. Only return the array of answers in order.`
