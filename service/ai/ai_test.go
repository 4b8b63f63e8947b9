package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"storyscene-server/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) {
	s.delays = append(s.delays, d)
}

func TestStyleSuffixFallsBackToFirstEntry(t *testing.T) {
	assert.Equal(t, ", anime style, vibrant colors, cel shading", StyleSuffix("anime"))
	assert.Equal(t, StyleSuffix("realistic"), StyleSuffix("no-such-style"))
	assert.True(t, KnownStyle("oil_painting"))
	assert.False(t, KnownStyle(""))
	assert.Len(t, Styles(), 10)
	assert.Equal(t, "generate video from image"+StyleSuffix("sketch"), videoPrompt("  ", "sketch"))
}

func TestImageClient_RetriesWithLinearBackoff(t *testing.T) {
	png := []byte("\x89PNG fake")
	var calls int32
	var gotReq imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := NewImageClient(ImageConfig{APIKey: "key", BaseURL: srv.URL}, WithSleeper(rec.sleep))
	data, err := client.Generate(context.Background(), "a fox in snow", "anime")
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)

	assert.Equal(t, "a fox in snow, anime style, vibrant colors, cel shading", gotReq.Prompt)
	assert.Equal(t, DefaultImageModel, gotReq.Model)
	assert.Equal(t, DefaultImageSize, gotReq.Size)
	assert.Equal(t, "b64_json", gotReq.ResponseFormat)
}

func TestImageClient_TerminalFailureIsUpstream(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := NewImageClient(ImageConfig{APIKey: "key", BaseURL: srv.URL}, WithSleeper(rec.sleep))
	_, err := client.Generate(context.Background(), "x", "realistic")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUpstream))
	assert.Contains(t, err.Error(), "http 500")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Len(t, rec.delays, 2)
}

func TestImageClient_EmptyDataIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := NewImageClient(ImageConfig{APIKey: "key", BaseURL: srv.URL}, WithSleeper(func(context.Context, time.Duration) {}))
	_, err := client.Generate(context.Background(), "x", "realistic")
	assert.True(t, models.IsKind(err, models.KindUpstream))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClientsWithoutKeyAreUnavailable(t *testing.T) {
	ctx := context.Background()
	_, err := NewImageClient(ImageConfig{}).Generate(ctx, "x", "anime")
	assert.True(t, models.IsKind(err, models.KindServiceUnavailable))

	video := NewVideoClient(VideoConfig{})
	_, err = video.CreateTask(ctx, "https://img", "x", "anime")
	assert.True(t, models.IsKind(err, models.KindServiceUnavailable))
	_, err = video.GetStatus(ctx, "task")
	assert.True(t, models.IsKind(err, models.KindServiceUnavailable))

	d, err := NewDecomposer(ctx, DecomposerConfig{})
	require.NoError(t, err)
	_, err = d.Decompose(ctx, "story", "anime")
	assert.True(t, models.IsKind(err, models.KindServiceUnavailable))
}

func TestVideoClient_CreateTaskAndStatus(t *testing.T) {
	var created createTaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/contents/generations/tasks":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			_, _ = w.Write([]byte(`{"id":"cgt-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/contents/generations/tasks/cgt-1":
			_, _ = w.Write([]byte(`{"id":"cgt-1","status":"succeeded","content":{"video_url":"https://cdn/v.mp4"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/contents/generations/tasks/cgt-2":
			_, _ = w.Write([]byte(`{"id":"cgt-2","status":"failed","error":{"code":"InputImageSensitive","message":"rejected"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewVideoClient(VideoConfig{APIKey: "key", BaseURL: srv.URL})
	ctx := context.Background()

	id, err := client.CreateTask(ctx, "https://signed/image.png", "two cats", "cinematic")
	require.NoError(t, err)
	assert.Equal(t, "cgt-1", id)
	require.Len(t, created.Content, 2)
	assert.Equal(t, "image_url", created.Content[0].Type)
	assert.Equal(t, "https://signed/image.png", created.Content[0].ImageURL.URL)
	assert.Equal(t, "two cats"+StyleSuffix("cinematic"), created.Content[1].Text)

	st, err := client.GetStatus(ctx, "cgt-1")
	require.NoError(t, err)
	assert.Equal(t, TaskSucceeded, st.State)
	assert.Equal(t, "https://cdn/v.mp4", st.VideoURL)

	st, err = client.GetStatus(ctx, "cgt-2")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, st.State)
	assert.Equal(t, "InputImageSensitive: rejected", st.Error)
}

func TestVideoClient_WaitForTask(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			_, _ = w.Write([]byte(`{"status":"queued"}`))
		case 2:
			_, _ = w.Write([]byte(`{"status":"running"}`))
		default:
			_, _ = w.Write([]byte(`{"status":"succeeded","content":{"video_url":"https://cdn/v.mp4"}}`))
		}
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := NewVideoClient(VideoConfig{APIKey: "key", BaseURL: srv.URL}, WithSleeper(rec.sleep))
	st, err := client.WaitForTask(context.Background(), "cgt-1", WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskSucceeded, st.State)
	assert.Equal(t, []time.Duration{DefaultWaitInterval, DefaultWaitInterval}, rec.delays)
}

func TestVideoClient_WaitForTaskGivesUp(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		_, _ = w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	client := NewVideoClient(VideoConfig{APIKey: "key", BaseURL: srv.URL}, WithSleeper(func(context.Context, time.Duration) {}))
	st, err := client.WaitForTask(context.Background(), "cgt-1", WaitOptions{Interval: time.Second, MaxWait: 3 * time.Second})
	assert.True(t, models.IsKind(err, models.KindUpstream))
	require.NotNil(t, st)
	assert.Equal(t, TaskRunning, st.State)
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestVideoClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	client := NewVideoClient(VideoConfig{APIKey: "key"})
	data, err := client.Download(context.Background(), srv.URL+"/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)
}

type fakeChat struct {
	replies []string
	errs    []error
	calls   int
	last    []*schema.Message
}

func (f *fakeChat) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	i := f.calls
	f.calls++
	f.last = input
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	} else if len(f.replies) > 0 {
		reply = f.replies[len(f.replies)-1]
	}
	return schema.AssistantMessage(reply, nil), nil
}

func TestDecomposer_ParsesReplyAndDefaultsIndices(t *testing.T) {
	chat := &fakeChat{replies: []string{"好的，结果如下：\n```json\n" +
		`{"scenes":[{"description":"清晨的村庄"},{"description":"少年出发"},{"order_index":7,"description":"山顶"}]}` +
		"\n```"}}
	d := NewDecomposerWithModel(chat)

	drafts, err := d.Decompose(context.Background(), "一个少年离开村庄去登山。", "anime")
	require.NoError(t, err)
	assert.Equal(t, []models.SceneDraft{
		{OrderIndex: 1, Description: "清晨的村庄"},
		{OrderIndex: 2, Description: "少年出发"},
		{OrderIndex: 7, Description: "山顶"},
	}, drafts)
	require.Len(t, chat.last, 2)
	assert.Equal(t, schema.System, chat.last[0].Role)
	assert.Contains(t, chat.last[1].Content, "一个少年离开村庄去登山。")
	assert.Contains(t, chat.last[1].Content, "anime")
}

func TestDecomposer_RetriesTransportButNotParseErrors(t *testing.T) {
	rec := &sleepRecorder{}
	chat := &fakeChat{
		errs:    []error{errors.New("reset"), errors.New("reset")},
		replies: []string{"", "", `{"scenes":[{"order_index":1,"description":"a"}]}`},
	}
	drafts, err := NewDecomposerWithModel(chat, WithSleeper(rec.sleep)).Decompose(context.Background(), "s", "anime")
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
	assert.Equal(t, 3, chat.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	chat = &fakeChat{replies: []string{"sorry, I cannot help"}}
	_, err = NewDecomposerWithModel(chat, WithSleeper(rec.sleep)).Decompose(context.Background(), "s", "anime")
	assert.True(t, models.IsKind(err, models.KindUpstream))
	assert.Equal(t, 1, chat.calls)
}

func TestDecomposer_RegenerateIncludesFeedback(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"scenes":[{"order_index":1,"description":"a"}]}`}}
	_, err := NewDecomposerWithModel(chat).Regenerate(context.Background(), "story", "anime", "多一些特写")
	require.NoError(t, err)
	assert.True(t, strings.Contains(chat.last[1].Content, "多一些特写"))
}

func TestParseScenesRejectsMalformedReplies(t *testing.T) {
	cases := map[string]string{
		"no json":           "nothing here",
		"broken json":       `{"scenes": [}`,
		"missing array":     `{"items": []}`,
		"empty array":       `{"scenes": []}`,
		"duplicate index":   `{"scenes":[{"order_index":1,"description":"a"},{"order_index":1,"description":"b"}]}`,
		"blank description": `{"scenes":[{"order_index":1,"description":"  "}]}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseScenes(reply)
			assert.Error(t, err)
		})
	}
}
