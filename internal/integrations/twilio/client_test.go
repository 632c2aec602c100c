package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClient_ValidatesCredentials(t *testing.T) {
	_, err := NewClient("", "token", "whatsapp:+14155238886")
	require.Error(t, err)
	_, err = NewClient("AC123", "", "whatsapp:+14155238886")
	require.Error(t, err)
	_, err = NewClient("AC123", "token", "")
	require.Error(t, err)
}

func TestSendReply_HappyPath(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"From": r.PostFormValue("From"),
			"To":   r.PostFormValue("To"),
			"Body": r.PostFormValue("Body"),
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "secret", "whatsapp:+14155238886", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.SendReply(context.Background(), "whatsapp:+551199990000", "Seu pedido está a caminho!")
	require.NoError(t, err)

	require.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
	require.Equal(t, "AC123", gotUser)
	require.Equal(t, "secret", gotPass)
	require.Equal(t, map[string]string{
		"From": "whatsapp:+14155238886",
		"To":   "whatsapp:+551199990000",
		"Body": "Seu pedido está a caminho!",
	}, gotForm)
}

func TestSendReply_EmptyRecipient(t *testing.T) {
	c, err := NewClient("AC123", "secret", "whatsapp:+14155238886")
	require.NoError(t, err)
	err = c.SendReply(context.Background(), "  ", "oi")
	require.Error(t, err)
}

func TestSendReply_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":20003,"message":"authenticate"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "wrong", "whatsapp:+14155238886", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.SendReply(context.Background(), "whatsapp:+5511999", "oi")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestSendReply_MissingSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "secret", "whatsapp:+14155238886", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.SendReply(context.Background(), "whatsapp:+5511999", "oi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing message sid")
}
