package voice

// Synthesizer abstracts text-to-speech output. Implementations must treat
// Speak as cancel-and-replace: a new utterance always interrupts the one
// in progress, never queues behind it.
type Synthesizer interface {
	Speak(text string)
	// Stop cancels the current utterance, if any.
	Stop()
}

// NopSynthesizer discards all utterances. Used when no audio output is
// available.
type NopSynthesizer struct{}

func (NopSynthesizer) Speak(string) {}
func (NopSynthesizer) Stop()        {}
