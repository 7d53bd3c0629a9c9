package announcement

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"colorcodely-go/internal/types"
)

var (
	testDate   = time.Date(2026, time.October, 14, 6, 5, 0, 0, time.UTC)
	testCenter = types.TestingCenter{
		ID:            "huntsville",
		Name:          "City of Huntsville Municipal Court Probation Office",
		AnnouncePhone: "(256) 555-0100",
	}
)

func TestFormatColorDay(t *testing.T) {
	t.Parallel()

	msg := Format(testDate, testCenter, []string{"AMBER", "TEAL", "ROSE"})
	require.False(t, msg.NoColors)
	require.Equal(t, "ColorCodely Notification for City of Huntsville Municipal Court Probation Office", msg.Subject)
	require.Contains(t, msg.Body, "📅 DATE: WEDNESDAY, October 14, 2026")
	require.Contains(t, msg.Body, "📞 ANNOUNCEMENT PHONE: (256) 555-0100")
	require.Contains(t, msg.Body, "Amber, Teal, Rose")
	for _, c := range []string{"Amber", "Teal", "Rose"} {
		require.Equal(t, 1, strings.Count(msg.Body, c), c)
	}
}

func TestFormatNoColorDay(t *testing.T) {
	t.Parallel()

	msg := Format(testDate, testCenter, nil)
	require.True(t, msg.NoColors)
	require.Equal(t, noColorDaySubject, msg.Subject)
	require.Contains(t, msg.Body, "No color codes were announced today.")
	require.Contains(t, msg.Body, "WEDNESDAY")
	require.NotContains(t, msg.Body, "closed")
}

func TestFormatMissingPhoneAndName(t *testing.T) {
	t.Parallel()

	msg := Format(testDate, types.TestingCenter{ID: "madison"}, []string{"lime green"})
	require.Contains(t, msg.Body, "ANNOUNCEMENT PHONE: Not available")
	require.Contains(t, msg.Body, "TESTING CENTER: madison")
	require.Contains(t, msg.Body, "Lime Green")
}

func TestFormatIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Format(testDate, testCenter, []string{"PLUM"})
	b := Format(testDate, testCenter, []string{"PLUM"})
	require.Equal(t, a, b)
}

func TestJoinColorsSkipsBlanksAndKeepsNonASCII(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Amber, Rosé", JoinColors([]string{"AMBER", " ", "rosé"}))
	require.Empty(t, JoinColors(nil))
}
