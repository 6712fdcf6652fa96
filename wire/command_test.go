package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeUnescape(t *testing.T) {
	cases := []string{
		"plain",
		"pipe|inside",
		"comma,inside",
		"back\\slash",
		"line\nbreak\rreturn",
		"|||",
		"",
	}
	for _, c := range cases {
		assert.Equal(t, c, Unescape(Escape(c)), "case %q", c)
	}
}

func TestSplitCommandHonorsEscapes(t *testing.T) {
	line := JoinCommand("SEND_MESSAGE", "7", "a|b", "c,d")
	fields := SplitCommand(line)
	require.Len(t, fields, 4)
	assert.Equal(t, "a|b", fields[2])
	assert.Equal(t, "c,d", fields[3])
}

func TestSplitCommandEmptyFields(t *testing.T) {
	fields := SplitCommand("A||B")
	require.Len(t, fields, 3)
	assert.Equal(t, "", fields[1])
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, SplitList("1,2,3"))
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"solo"}, SplitList("solo"))
}

func TestJoinListRoundTripsThroughCommand(t *testing.T) {
	list := JoinList([]string{"4", "5", "6"})
	fields := SplitCommand(JoinCommand("CREATE_GROUP", "1", "team", list))
	require.Len(t, fields, 4)
	assert.Equal(t, []string{"4", "5", "6"}, SplitList(fields[3]))
}
