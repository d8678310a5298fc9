package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeWellFormed(t *testing.T) {
	assert.Equal(t, []string{"record", "on", "ExpA", "Cygnus", "scan1"},
		tokenize("record=on:ExpA:Cygnus:scan1"))
	assert.Equal(t, []string{"record", "off"}, tokenize("record=off"))
}

func TestTokenizeKeepsEmptyColonFields(t *testing.T) {
	assert.Equal(t, []string{"record", "on", "", "", ""}, tokenize("record=on:::"))
}

func TestTokenizeMalformed(t *testing.T) {
	assert.Nil(t, tokenize("recordon"), "no equals sign")
	assert.Nil(t, tokenize("record="), "empty right hand side")
	assert.Nil(t, tokenize("=off"), "empty left hand side")
	assert.Nil(t, tokenize("a=b=c"), "too many fields")
	assert.Nil(t, tokenize(""), "empty string")
	assert.Nil(t, tokenize("==="), "only separators")
}

func TestLookupCommandExactTokenCounts(t *testing.T) {
	assert.Equal(t, cmdRecordOn, lookupCommand(tokenize("record=on:e:s:n")))
	assert.Equal(t, cmdRecordOff, lookupCommand(tokenize("record=off")))
	assert.Equal(t, cmdRecordSet, lookupCommand(tokenize("record=set:e:s:n:1700000000:60")))

	assert.Equal(t, cmdUnknown, lookupCommand(tokenize("record=on:e:s")), "on with too few args")
	assert.Equal(t, cmdUnknown, lookupCommand(tokenize("record=on:e:s:n:x")), "on with too many args")
	assert.Equal(t, cmdUnknown, lookupCommand(tokenize("record=off:now")), "off takes no args")
	assert.Equal(t, cmdUnknown, lookupCommand(tokenize("record=set:onlyonearg")))
	assert.Equal(t, cmdUnknown, lookupCommand(tokenize("playback=on:e:s:n")), "wrong subject")
	assert.Equal(t, cmdUnknown, lookupCommand(nil))
}

func TestParseStartTime(t *testing.T) {
	now := time.Unix(1700000000, 0)

	got, err := parseStartTime("now", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), got)

	got, err = parseStartTime("1800000000", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1800000000), got)

	_, err = parseStartTime("yesterday", now)
	assert.Error(t, err)
	_, err = parseStartTime("-5", now)
	assert.Error(t, err)
}

func TestParseDurationSeconds(t *testing.T) {
	got, err := parseDurationSeconds("60")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), got)

	_, err = parseDurationSeconds("1m")
	assert.Error(t, err)
}
