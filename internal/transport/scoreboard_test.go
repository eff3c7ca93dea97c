package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ScoreboardTracksInFlightThenAck(t *testing.T) {
	sb := NewScoreboard(1000)
	sb.MarkInFlight(1000, 1100)
	assert.Equal(t, StateInFlight, sb.State(1050))

	sb.MarkAcked(1000, 1100)
	assert.Equal(t, StateUnsent, sb.State(1050), "acked bytes leave the scoreboard entirely")
}

func Test_ScoreboardMarkSackedSplitsInFlightRun(t *testing.T) {
	sb := NewScoreboard(1000)
	sb.MarkInFlight(1000, 1200)
	sb.MarkSacked([][2]uint32{{1100, 1200}})

	assert.Equal(t, StateInFlight, sb.State(1050))
	assert.Equal(t, StateSacked, sb.State(1150))
}

func Test_ScoreboardDetectLostFlagsRunsWellBehindHighestSack(t *testing.T) {
	sb := NewScoreboard(1000)
	sb.MarkInFlight(1000, 1100)
	sb.MarkInFlight(1100, 1200)
	sb.MarkSacked([][2]uint32{{4000, 4100}})

	lost := sb.DetectLost(1000)
	assert.Equal(t, [][2]uint32{{1000, 1200}}, lost, "adjacent in-flight runs merge into one range")
	assert.Equal(t, StateLost, sb.State(1050))
}

func Test_ScoreboardDetectLostIgnoresRecentInFlightRuns(t *testing.T) {
	sb := NewScoreboard(1000)
	sb.MarkInFlight(1000, 1100)
	sb.MarkSacked([][2]uint32{{1100, 1200}})

	lost := sb.DetectLost(1000)
	assert.Empty(t, lost, "a run within the reordering window must not be flagged lost yet")
}

func Test_ScoreboardMarkRetransmittedUpdatesState(t *testing.T) {
	sb := NewScoreboard(1000)
	sb.MarkInFlight(1000, 1100)
	sb.MarkRetransmitted(1000, 1100)
	assert.Equal(t, StateRetransmitted, sb.State(1050))
}
