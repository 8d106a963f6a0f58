package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gwi.com/calendar-assistant/internal/apperr"
)

func newOpenAITestClient(t *testing.T, handler http.HandlerFunc, opts Options) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient("test-key", srv.URL+"/v1", opts)
}

func TestOpenAIChooseFunctionParsesToolCall(t *testing.T) {
	var captured map[string]any
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_user_schedule","arguments":"{\"startDate\":\"today\"}"}}]}}]}`))
	}, Options{})

	decl := FunctionDeclaration{
		Name:        "get_user_schedule",
		Description: "Get schedule",
		Parameters: &Schema{Type: TypeObject, Properties: map[string]*Schema{
			"startDate": {Type: TypeString, Description: "start"},
		}},
	}
	d, err := c.ChooseFunction(context.Background(), "system", "What's on my calendar today?", []FunctionDeclaration{decl})
	require.NoError(t, err)
	require.True(t, d.IsFunctionCall())
	require.Equal(t, "get_user_schedule", d.FunctionName)
	require.Equal(t, "today", d.Args["startDate"])

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	require.Equal(t, "get_user_schedule", fn["name"])
	params := fn["parameters"].(map[string]any)
	require.Equal(t, "object", params["type"])
}

func TestOpenAIChooseFunctionTextReply(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Which day do you mean?"}}]}`))
	}, Options{})

	d, err := c.ChooseFunction(context.Background(), "", "meeting", nil)
	require.NoError(t, err)
	require.False(t, d.IsFunctionCall())
	require.Equal(t, "Which day do you mean?", d.Text)
}

func TestOpenAIChooseFunctionMalformedArguments(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_calendar_event","arguments":"{\"title\": \"Standup"}}]}}]}`))
	}, Options{})

	d, err := c.ChooseFunction(context.Background(), "", "book a standup", nil)
	require.NoError(t, err)
	require.True(t, d.IsFunctionCall())
	require.Equal(t, "create_calendar_event", d.FunctionName)
	require.True(t, apperr.IsKind(d.ArgsErr, apperr.KindValidation))
}

func TestOpenAIEmbedChecksDimensions(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.EqualValues(t, 3, req["dimensions"])
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}, Options{Dimensions: 3})

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	c.opts.Dimensions = 4
	_, err = c.Embed(context.Background(), "hello")
	require.True(t, apperr.IsKind(err, apperr.KindExternalService))
}

func TestOpenAITimeoutIsRetryable(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, Options{Timeout: 20 * time.Millisecond})

	_, err := c.Complete(context.Background(), "hi")
	require.True(t, apperr.IsKind(err, apperr.KindExternalService))
	require.True(t, apperr.IsRetryable(err))
}

func TestOpenAIGenerateTitleCleansOutput(t *testing.T) {
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"\"Weekly Planning.\"\n"}}]}`))
	}, Options{})

	title, err := c.GenerateTitle(context.Background(), "let's plan the week")
	require.NoError(t, err)
	require.Equal(t, "Weekly Planning", title)
}
