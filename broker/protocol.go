package broker

import "strings"

// verb identifies a decoded command.
type verb string

const (
	verbName   verb = "name"
	verbSub    verb = "sub"
	verbUnsub  verb = "unsub"
	verbPub    verb = "pub"
	invalidReply    = ":invalid\n"
)

// command is a decoded protocol line: a verb plus its argument tail, already
// split where the shape of the verb requires it (pub splits tail again into
// topic and payload). topic holds the name argument for a `name` command,
// since both are a single valid string occupying the same position.
type command struct {
	verb    verb
	topic   string
	payload string
}

// isValidString reports whether s is non-empty and contains none of the
// three restricted characters: space, colon, newline.
func isValidString(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " :\n")
}

// decode parses one line, with its trailing newline already stripped, into
// a command. It rejects unknown verbs and malformed argument shapes
// regardless of subscriber state; the Connection Handler applies the
// naming-state rules (silent drop vs :invalid) before calling decode.
func decode(line string) (command, bool) {
	head, tail, hasTail := strings.Cut(line, " ")

	switch verb(head) {
	case verbName:
		if !hasTail || !isValidString(tail) {
			return command{}, false
		}
		return command{verb: verbName, topic: tail}, true

	case verbSub, verbUnsub:
		if !hasTail || !isValidString(tail) {
			return command{}, false
		}
		return command{verb: verb(head), topic: tail}, true

	case verbPub:
		if !hasTail {
			return command{}, false
		}
		topic, payload, hasPayload := strings.Cut(tail, " ")
		if !isValidString(topic) || !hasPayload || payload == "" || strings.Contains(payload, "\n") {
			return command{}, false
		}
		return command{verb: verbPub, topic: topic, payload: payload}, true

	default:
		return command{}, false
	}
}
