package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command verbs. The protocol is tiny and string-based on purpose: the
// observatory field system drives it over a plain socket.
const (
	cmdUnknown = iota
	cmdRecordOn
	cmdRecordOff
	cmdRecordSet
)

// stopCommand is the canned stop the control loop synthesizes when a timed
// recording window closes or the daemon shuts down mid-recording.
const stopCommand = "record=off"

// tokenize splits "record=on:a:b:c" into {"record", "on", "a", "b", "c"}.
// The '=' split must yield exactly two non-empty fields; the right-hand
// side is then split on ':' keeping empty fields, so malformed arguments
// stay visible to the verb table instead of collapsing silently. A nil
// return means the string is not even command-shaped.
func tokenize(command string) []string {
	fields := make([]string, 0, 2)
	for _, part := range strings.Split(command, "=") {
		if part != "" {
			fields = append(fields, part)
		}
	}
	if len(fields) != 2 {
		return nil
	}
	tokens := append([]string{fields[0]}, strings.Split(fields[1], ":")...)
	return tokens
}

// lookupCommand maps a token vector to a verb. Token counts are exact; any
// mismatch is unknown and gets dropped by the caller.
func lookupCommand(tokens []string) int {
	if len(tokens) < 2 || tokens[0] != "record" {
		return cmdUnknown
	}
	switch {
	case tokens[1] == "on" && len(tokens) == 5:
		return cmdRecordOn
	case tokens[1] == "off" && len(tokens) == 2:
		return cmdRecordOff
	case tokens[1] == "set" && len(tokens) == 7:
		return cmdRecordSet
	}
	return cmdUnknown
}

// verbName labels a verb for logs and metrics.
func verbName(verb int) string {
	switch verb {
	case cmdRecordOn:
		return "on"
	case cmdRecordOff:
		return "off"
	case cmdRecordSet:
		return "set"
	}
	return "unknown"
}

// parseStartTime accepts an absolute epoch second or the token "now".
func parseStartTime(token string, now time.Time) (uint64, error) {
	if token == "now" {
		return uint64(now.Unix()), nil
	}
	epoch, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad start time %q: %w", token, err)
	}
	return epoch, nil
}

// parseDurationSeconds accepts a plain second count.
func parseDurationSeconds(token string) (uint64, error) {
	dur, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", token, err)
	}
	return dur, nil
}
