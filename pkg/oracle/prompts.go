package oracle

import "fmt"

// ActionSystemPrompt instructs the action oracle on its output format and action space.
const ActionSystemPrompt = `You are a GUI agent. You are given a task and your action history, with screenshots. You need to perform the next action to complete the task.
## Output Format
'''
Thought: ... (you need to reason carefully about which button, possibly which icon, is most valid, if it's icon-based)
Action: ...
'''
## Action Space

click(point='<point>x1 y1</point>')
long_press(point='<point>x1 y1</point>')
type(content='') #If you want to submit your input, use "\n" at the end of 'content'.
scroll(point='<point>x1 y1</point>', direction='down or up or right or left')
drag(start_point='<point>x1 y1</point>', end_point='<point>x2 y2</point>')
press_home()
press_back()
finished(content='xxx') # Use escape characters \', \", and \n in content part to ensure we can parse the content in normal python string format. Write in English.

## Note
- Use English in 'Thought' part.
- Very imporant to follow the output format for each action from the action space you propose; if you don't follow the format, the entire system will crash
- Do not hallucinate elements that are not available on the latest screenshot yet
- Write a small plan and finally summarize your next action (with its target element) in two sentences in 'Thought' part.`

// VerdictSystemPrompt instructs the verdict oracle to emit one verdict call.
const VerdictSystemPrompt = "You are a skilled GUI testing monitor, monitoring someone else's testing of a GUI.\n" +
	"You are to raise exceptions or proceed according to the following rules:\n\n" +
	"exception_loading() # Use when you see a loading indicator on the main content area (by your own discretion)\n" +
	"exception_blank_area() # Use when the main content area is \"unnaturally\" blank (i.e. it should have content but is blank)\n" +
	"exception_consistency(reason='reason') # Use when there is a clear inconsistency in the app state between past states (e.g. added an item to cart, but it's not visible in the cart)\n" +
	"exception_crashed(reason='reason') # When the app seems to have crashed to home screen, or you cannot proceed because a UI element is blocked\n" +
	"pass() # Use when none of the above are satisfied, meaning UI is OK.\n\n" +
	"You must do a thorough analysis of the current steps taken and screenshots and the latest screenshot to infer the expected state and whether there are issues.\n" +
	"You must output your choice in code fences (three backticks)."

// AdvisoryPrompt asks the advisory model for text overflow issues.
const AdvisoryPrompt = "Is there text overflow in this UI? Exclude scrolling areas and if not sure say no.\n" +
	"Do not hallucinate or come up with non-existent issues.\n" +
	"Text *truncation* does not count. \n\n" +
	"Follow the structured response prompt."

// Instruction returns the turn framing a test's natural-language goal for the action oracle.
func Instruction(instruction string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{Text(fmt.Sprintf("## User Instruction\n\n%s\nStop when done.", instruction))}}
}

// ActionTurns prefixes the instruction turn to history
func ActionTurns(instruction string, history []Turn) []Turn {
	out := make([]Turn, 0, len(history)+1)
	out = append(out, Instruction(instruction))
	return append(out, history...)
}
