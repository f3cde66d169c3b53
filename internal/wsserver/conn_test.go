package wsserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeConn_NotePingTracksMissedStreak(t *testing.T) {
	c := &safeConn{}

	require.EqualValues(t, 1, c.notePing())
	require.EqualValues(t, 2, c.notePing())
	require.EqualValues(t, 3, c.notePing())
}

func TestSafeConn_NotePongResetsStreak(t *testing.T) {
	c := &safeConn{}

	c.notePing()
	c.notePing()
	c.notePong()

	require.EqualValues(t, 1, c.notePing())
}
