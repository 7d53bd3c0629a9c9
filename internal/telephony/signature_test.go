package telephony

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignatureMatchesProviderExample(t *testing.T) {
	t.Parallel()

	// Published example from the provider's security documentation.
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	const full = "https://mycompany.com/myapp.php?foo=1&bar=2"
	require.Equal(t, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=", Sign("12345", full, params))
	require.True(t, ValidSignature("12345", full, params, "0/KCTR6DLpKmkAf8muzZqo1nDgQ="))
}

func TestValidSignatureRejectsTampering(t *testing.T) {
	t.Parallel()

	params := url.Values{"RecordingSid": {"RE1"}, "CallSid": {"CA1"}}
	const full = "https://colorcodely.example/webhooks/recording/huntsville"
	sig := Sign("secret", full, params)

	require.True(t, ValidSignature("secret", full, params, sig))
	require.False(t, ValidSignature("other", full, params, sig))
	require.False(t, ValidSignature("secret", full, url.Values{"RecordingSid": {"RE2"}, "CallSid": {"CA1"}}, sig))
	require.False(t, ValidSignature("secret", full, params, ""))
}

func TestListenTwiML(t *testing.T) {
	t.Parallel()

	out, err := ListenTwiML(0)
	require.NoError(t, err)
	require.Equal(t, "<Response><Hangup></Hangup></Response>", out)

	out, err = ListenTwiML(2 * time.Minute)
	require.NoError(t, err)
	require.Equal(t, `<Response><Pause length="120"></Pause><Hangup></Hangup></Response>`, out)
}
