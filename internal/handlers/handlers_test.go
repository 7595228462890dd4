package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangrove/internal/database"
	"mangrove/internal/engine"
	"mangrove/internal/middleware"
	"mangrove/internal/models"
	"mangrove/internal/utils"
	"mangrove/internal/websocket"
)

type testEnv struct {
	server *httptest.Server
	store  *database.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := utils.NewMetricsCollector()
	store := database.NewMemoryStore()
	hub := websocket.NewHub(logger, metrics)
	go hub.Run()

	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, store, store, hub, metrics, logger)
	auth := middleware.NewAuthenticator("test-secret")

	srv := NewServer(system, eng, store, hub, auth, metrics, logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: store}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Middleware rejections are plain text; everything else is enveloped.
	var env envelope
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}

func (e *testEnv) register(t *testing.T, username string) (userID, token string) {
	t.Helper()
	status, env := e.do(t, http.MethodPost, "/users", "", map[string]string{"username": username})
	require.Equal(t, http.StatusCreated, status)
	var data struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.User.ID, data.Token
}

func (e *testEnv) createPost(t *testing.T, token, title string) string {
	t.Helper()
	status, env := e.do(t, http.MethodPost, "/posts", token, map[string]any{
		"title":   title,
		"content": "body",
		"tags":    []string{"swamp"},
	})
	require.Equal(t, http.StatusCreated, status)
	var post struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &post))
	return post.ID
}

func TestCreateAndGetPost(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "gator")
	postID := e.createPost(t, token, "Swamp maintenance tips")

	status, env := e.do(t, http.MethodGet, "/posts/"+postID, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	var post struct {
		Title     string   `json:"title"`
		Slug      string   `json:"slug"`
		Tags      []string `json:"tags"`
		ViewCount int      `json:"viewCount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &post))
	assert.Equal(t, "Swamp maintenance tips", post.Title)
	assert.Contains(t, post.Slug, "swamp-maintenance-tips")
	assert.Equal(t, []string{"swamp"}, post.Tags)
	assert.Equal(t, 1, post.ViewCount)

	// Each read counts a view.
	_, env = e.do(t, http.MethodGet, "/posts/"+postID, "", nil)
	require.NoError(t, json.Unmarshal(env.Data, &post))
	assert.Equal(t, 2, post.ViewCount)
}

func TestListPostsMeta(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "gator")
	for i := 0; i < 3; i++ {
		e.createPost(t, token, fmt.Sprintf("Post %d", i))
	}

	status, env := e.do(t, http.MethodGet, "/posts?page=1&limit=2", "", nil)
	require.Equal(t, http.StatusOK, status)

	var posts []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &posts))
	assert.Len(t, posts, 2)

	var meta struct {
		Page       int `json:"page"`
		Limit      int `json:"limit"`
		Total      int `json:"total"`
		TotalPages int `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	assert.Equal(t, 3, meta.Total)
	assert.Equal(t, 2, meta.TotalPages)
}

func TestUnknownSortModeRejected(t *testing.T) {
	e := newTestEnv(t)
	status, env := e.do(t, http.MethodGet, "/posts?sortBy=HOTTEST", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, utils.ErrValidation, env.Error.Code)
}

func TestWriteEndpointsRequireAuth(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, http.MethodPost, "/posts", "", map[string]string{"title": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCommentVoteToggle(t *testing.T) {
	e := newTestEnv(t)
	_, authorToken := e.register(t, "gator")
	_, voterToken := e.register(t, "heron")
	postID := e.createPost(t, authorToken, "Vote on my comment")

	status, env := e.do(t, http.MethodPost, "/comments", authorToken, map[string]string{
		"rootId":  postID,
		"content": "vote me up",
	})
	require.Equal(t, http.StatusCreated, status)
	var comment struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &comment))

	votePath := "/comments/" + comment.ID + "/vote"
	status, env = e.do(t, http.MethodPost, votePath, voterToken, map[string]int{"voteType": 1})
	require.Equal(t, http.StatusOK, status)
	var result struct {
		State     string `json:"state"`
		VoteScore int    `json:"voteScore"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "up", result.State)
	assert.Equal(t, 1, result.VoteScore)

	// Same direction again retracts.
	status, env = e.do(t, http.MethodPost, votePath, voterToken, map[string]int{"voteType": 1})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "none", result.State)
	assert.Equal(t, 0, result.VoteScore)
}

func TestInvalidVoteTypeRejected(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "gator")
	postID := e.createPost(t, token, "Bad vote")

	status, env := e.do(t, http.MethodPost, "/posts/"+postID+"/vote", token, map[string]int{"voteType": 3})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, utils.ErrValidation, env.Error.Code)
}

func TestThreadEndpoint(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "gator")
	postID := e.createPost(t, token, "Threaded discussion")

	status, env := e.do(t, http.MethodPost, "/comments", token, map[string]string{
		"rootId":  postID,
		"content": "top-level",
	})
	require.Equal(t, http.StatusCreated, status)
	var top struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &top))

	status, _ = e.do(t, http.MethodPost, "/comments", token, map[string]string{
		"rootId":   postID,
		"parentId": top.ID,
		"content":  "nested",
	})
	require.Equal(t, http.StatusCreated, status)

	status, env = e.do(t, http.MethodGet, "/posts/"+postID+"/comments", "", nil)
	require.Equal(t, http.StatusOK, status)

	var forest struct {
		Roots []string                   `json:"roots"`
		Nodes map[string]json.RawMessage `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &forest))
	require.Len(t, forest.Roots, 1)
	assert.Equal(t, top.ID, forest.Roots[0])
	assert.Len(t, forest.Nodes, 2)
}

func TestNotificationFlow(t *testing.T) {
	e := newTestEnv(t)
	_, authorToken := e.register(t, "gator")
	_, replierToken := e.register(t, "heron")
	postID := e.createPost(t, authorToken, "Reply to me")

	status, env := e.do(t, http.MethodPost, "/comments", authorToken, map[string]string{
		"rootId":  postID,
		"content": "waiting for replies",
	})
	require.Equal(t, http.StatusCreated, status)
	var top struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &top))

	status, _ = e.do(t, http.MethodPost, "/comments", replierToken, map[string]string{
		"rootId":   postID,
		"parentId": top.ID,
		"content":  "here you go",
	})
	require.Equal(t, http.StatusCreated, status)

	// Notification dispatch is asynchronous relative to the comment write.
	require.Eventually(t, func() bool {
		_, env := e.do(t, http.MethodGet, "/notifications/unread-count", authorToken, nil)
		var count struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(env.Data, &count); err != nil {
			return false
		}
		return count.Count == 1
	}, 2*time.Second, 20*time.Millisecond)

	status, env = e.do(t, http.MethodGet, "/notifications?skip=0&take=10", authorToken, nil)
	require.Equal(t, http.StatusOK, status)
	var notifications []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, "REPLY", notifications[0].Type)

	status, _ = e.do(t, http.MethodPost, "/notifications/"+notifications[0].ID+"/read", authorToken, nil)
	require.Equal(t, http.StatusOK, status)

	_, env = e.do(t, http.MethodGet, "/notifications/unread-count", authorToken, nil)
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 0, count.Count)
}

func TestDeletedCommentStaysInThreadRedacted(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "gator")
	postID := e.createPost(t, token, "Deletions")

	status, env := e.do(t, http.MethodPost, "/comments", token, map[string]string{
		"rootId":  postID,
		"content": "parent",
	})
	require.Equal(t, http.StatusCreated, status)
	var parent struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parent))

	status, _ = e.do(t, http.MethodPost, "/comments", token, map[string]string{
		"rootId":   postID,
		"parentId": parent.ID,
		"content":  "child",
	})
	require.Equal(t, http.StatusCreated, status)

	status, _ = e.do(t, http.MethodDelete, "/comments/"+parent.ID, token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = e.do(t, http.MethodGet, "/posts/"+postID+"/comments", "", nil)
	require.Equal(t, http.StatusOK, status)

	var forest struct {
		Roots []string `json:"roots"`
		Nodes map[string]struct {
			Comment struct {
				Content   string `json:"content"`
				IsDeleted bool   `json:"isDeleted"`
			} `json:"comment"`
			Replies []string `json:"replies"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &forest))
	require.Len(t, forest.Roots, 1)
	node := forest.Nodes[parent.ID]
	assert.True(t, node.Comment.IsDeleted)
	assert.Equal(t, "[deleted]", node.Comment.Content)
	assert.Len(t, node.Replies, 1)
}

func TestPatchVerbs(t *testing.T) {
	e := newTestEnv(t)
	userID, token := e.register(t, "gator")
	postID := e.createPost(t, token, "Original title")

	status, env := e.do(t, http.MethodPatch, "/posts/"+postID, token, map[string]string{
		"title": "Patched title",
	})
	require.Equal(t, http.StatusOK, status)
	var post struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &post))
	assert.Equal(t, "Patched title", post.Title)

	recipient, err := uuid.Parse(userID)
	require.NoError(t, err)
	first := &models.Notification{ID: uuid.New(), RecipientID: recipient, Type: models.NotificationSystem}
	second := &models.Notification{ID: uuid.New(), RecipientID: recipient, Type: models.NotificationSystem}
	require.NoError(t, e.store.SaveNotification(context.Background(), first))
	require.NoError(t, e.store.SaveNotification(context.Background(), second))

	status, _ = e.do(t, http.MethodPatch, "/notifications/"+first.ID.String()+"/read", token, nil)
	require.Equal(t, http.StatusOK, status)

	_, env = e.do(t, http.MethodGet, "/notifications/unread-count", token, nil)
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &count))
	require.Equal(t, 1, count.Count)

	status, _ = e.do(t, http.MethodPatch, "/notifications/read-all", token, nil)
	require.Equal(t, http.StatusOK, status)

	_, env = e.do(t, http.MethodGet, "/notifications/unread-count", token, nil)
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 0, count.Count)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)
	status, env := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}
