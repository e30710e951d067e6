package protocol

import (
	"fmt"
	"regexp"
)

var (
	codeBlockPattern = regexp.MustCompile("(?s)```(\\w+)\\n(.*?)```")
	stepTagPattern   = regexp.MustCompile(`(?s)<step_\d+>(.*?)</step_\d+>`)
)

// StepTags returns the start and stop tags of step n.
func StepTags(n int) (start, stop string) {
	return fmt.Sprintf("<step_%d>", n), fmt.Sprintf("</step_%d>", n)
}

// StripStepTags removes step tag pairs, keeping their content.
func StripStepTags(text string) string {
	return stepTagPattern.ReplaceAllString(text, "$1")
}

// ExtractCode returns the language and body of the first fenced code block.
func ExtractCode(text string) (language, code string, err error) {
	match := codeBlockPattern.FindStringSubmatch(text)
	if match == nil {
		return "", "", ErrNoCodeBlock
	}
	return match[1], match[2], nil
}
