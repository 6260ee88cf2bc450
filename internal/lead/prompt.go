package lead

const researchSystemPrompt = `You are a sales research analyst. Using the intake form submission and any web search results provided, write a concise research brief (at most 200 words) about the person and their company: what the company does, its approximate size, and why they might be reaching out. Say so plainly when information is missing. Do not invent facts.`

const researchUserPrompt = `Form submission:
Name: %s
Email: %s
Company: %s
Message: %s

Web search results:
%s`

const qualifySystemPrompt = `Classify an inbound lead into exactly one of these categories:
QUALIFIED - a prospective customer with a plausible business need.
FOLLOW_UP - possibly interested but needs more information before qualifying.
SUPPORT - an existing customer asking for help.
UNQUALIFIED - spam, job seekers, vendors, or no business need.
Respond with a valid JSON object only: {"category": "<CATEGORY>", "reason": "<one sentence>"}`

const qualifyUserPrompt = `Lead:
Name: %s
Email: %s
Company: %s
Message: %s

Research:
%s`

const emailSystemPrompt = `You write short, friendly first-touch sales emails. Write plain text with a greeting, two or three short paragraphs that reference the lead's message and what we learned about their company, and a clear call to action to book a call. Do not include a subject line or placeholders.`

const emailUserPrompt = `Lead: %s <%s> at %s
Category: %s (%s)
Their message: %s

Research:
%s`
