package voice

import "strings"

// CommandKind identifies a recognized voice command.
type CommandKind string

const (
	CmdNext     CommandKind = "next"
	CmdPrevious CommandKind = "previous"
	CmdSubmit   CommandKind = "submit"
	CmdRepeat   CommandKind = "repeat"
	CmdStop     CommandKind = "stop"
)

// command binds a kind to its trigger phrases. Longer phrases are listed
// before their short forms so logging reports the most specific match.
type command struct {
	Kind    CommandKind
	Phrases []string
}

// defaultGrammar is the dictation command set. Declaration order is the
// tie-break: when an utterance could match several commands, the first
// declared one wins.
func defaultGrammar() []command {
	return []command{
		{Kind: CmdNext, Phrases: []string{"next question", "next"}},
		{Kind: CmdPrevious, Phrases: []string{"previous question", "back", "previous"}},
		{Kind: CmdSubmit, Phrases: []string{"submit exam", "submit"}},
		{Kind: CmdRepeat, Phrases: []string{"repeat question", "repeat"}},
		{Kind: CmdStop, Phrases: []string{"stop recording", "stop answering"}},
	}
}

// defaultWakePhrases activate dictation from wakeword mode.
func defaultWakePhrases() []string {
	return []string{"start answering", "start recording"}
}

// matchCommand checks text against the grammar. Matching is substring
// based and case-insensitive.
func matchCommand(grammar []command, text string) (CommandKind, bool) {
	lower := strings.ToLower(text)
	for _, cmd := range grammar {
		if includesAny(lower, cmd.Phrases) {
			return cmd.Kind, true
		}
	}
	return "", false
}

// includesAny reports whether s contains any of the given phrases.
// Phrases are assumed to be lowercase already.
func includesAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
