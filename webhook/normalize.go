package webhook

import "encoding/json"

// FallbackAnswer is returned when the workflow reply matches none of the
// known shapes.
const FallbackAnswer = "No response."

type Result struct {
	Answer  string
	Sources []string
}

// envelope covers the reply shapes the workflow engine has been observed to
// produce: an object (or single-element array of objects) with either a
// structured "output" value, a bare "output" string, or legacy "reply"/"text"
// fields.
type envelope struct {
	Output json.RawMessage `json:"output"`
	Reply  string          `json:"reply"`
	Text   string          `json:"text"`
}

type outputObject struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// ParseResponse normalizes a workflow reply into a Result. It never fails:
// unrecognized or malformed payloads yield FallbackAnswer, and Sources is
// always non-nil.
func ParseResponse(data []byte) Result {
	result := Result{Answer: FallbackAnswer, Sources: []string{}}

	var env envelope
	fromArray := false
	var list []envelope
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return result
		}
		env = list[0]
		fromArray = true
	} else if err := json.Unmarshal(data, &env); err != nil {
		return result
	}

	if len(env.Output) > 0 {
		var structured outputObject
		if err := json.Unmarshal(env.Output, &structured); err == nil && structured.Answer != "" {
			result.Answer = structured.Answer
			if structured.Sources != nil {
				result.Sources = structured.Sources
			}
			return result
		}

		// The array shape matches on output being a string, even an empty
		// one; the object shape only takes a non-empty string and otherwise
		// falls through to the legacy fields.
		if env.Output[0] == '"' {
			var text string
			if err := json.Unmarshal(env.Output, &text); err == nil && (fromArray || text != "") {
				result.Answer = text
				return result
			}
		}
	}

	// reply/text are only recognized on a bare object payload, not on the
	// first element of an array.
	if fromArray {
		return result
	}

	switch {
	case env.Reply != "":
		result.Answer = env.Reply
	case env.Text != "":
		result.Answer = env.Text
	}

	return result
}
