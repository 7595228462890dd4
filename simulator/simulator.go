// Package simulator drives a running engine with synthetic load: it
// registers users, writes posts and comment threads, casts votes, and
// keeps one sync facade per user fed from a live websocket, the way a
// real client population would.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mangrove/internal/client"
	hubws "mangrove/internal/websocket"
)

// SimConfig tunes the synthetic load.
type SimConfig struct {
	NumUsers         int
	NumPosts         int
	SimulationTime   time.Duration
	CommentFrequency float64 // comments/user/minute
	VoteFrequency    float64 // votes/user/minute
	DisconnectRate   float64 // chance per tick a user drops its socket
	EngineURL        string
}

// Metrics is a running tally of what the simulation produced.
type Metrics struct {
	TotalUsers    int64
	TotalPosts    int64
	TotalComments int64
	TotalVotes    int64
	EventsApplied int64
	ErrorCount    int64
}

type simUser struct {
	id    string
	token string
	sync  *client.Sync
	conn  *websocket.Conn
	mu    sync.Mutex
}

// Simulator owns the simulated user population.
type Simulator struct {
	cfg     SimConfig
	logger  *slog.Logger
	http    *http.Client
	users   []*simUser
	posts   []string
	postsMu sync.Mutex
	metrics Metrics
}

func New(cfg SimConfig, logger *slog.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Simulator) GetMetrics() *Metrics {
	return &s.metrics
}

// Run executes the simulation until the context expires.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}
	defer s.teardown()

	var wg sync.WaitGroup
	for _, u := range s.users {
		wg.Add(1)
		go func(u *simUser) {
			defer wg.Done()
			s.runUser(ctx, u)
		}(u)
	}
	wg.Wait()
	return nil
}

func (s *Simulator) setup(ctx context.Context) error {
	for i := 0; i < s.cfg.NumUsers; i++ {
		u, err := s.register(ctx, fmt.Sprintf("sim_user_%d_%d", i, time.Now().UnixNano()%100000))
		if err != nil {
			return fmt.Errorf("failed to register user %d: %w", i, err)
		}
		s.users = append(s.users, u)
		atomic.AddInt64(&s.metrics.TotalUsers, 1)
	}

	for i := 0; i < s.cfg.NumPosts; i++ {
		author := s.users[rand.Intn(len(s.users))]
		postID, err := s.createPost(ctx, author, fmt.Sprintf("Simulated discussion %d", i))
		if err != nil {
			atomic.AddInt64(&s.metrics.ErrorCount, 1)
			continue
		}
		s.postsMu.Lock()
		s.posts = append(s.posts, postID)
		s.postsMu.Unlock()
		atomic.AddInt64(&s.metrics.TotalPosts, 1)
	}
	if len(s.posts) == 0 {
		return fmt.Errorf("no posts created, cannot simulate")
	}

	for _, u := range s.users {
		s.connect(u)
	}
	return nil
}

func (s *Simulator) teardown() {
	for _, u := range s.users {
		s.disconnect(u)
	}
}

// runUser loops one user's behavior: comment and vote at the configured
// rates, occasionally drop the socket and reconnect.
func (s *Simulator) runUser(ctx context.Context, u *simUser) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	commentChance := s.cfg.CommentFrequency / 60.0
	voteChance := s.cfg.VoteFrequency / 60.0

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		switch {
		case rand.Float64() < s.cfg.DisconnectRate:
			if u.sync.State() == client.Connected {
				s.disconnect(u)
			} else {
				s.connect(u)
			}
		case rand.Float64() < voteChance:
			if err := s.castVote(ctx, u); err != nil {
				atomic.AddInt64(&s.metrics.ErrorCount, 1)
			} else {
				atomic.AddInt64(&s.metrics.TotalVotes, 1)
			}
		case rand.Float64() < commentChance:
			if err := s.createComment(ctx, u); err != nil {
				atomic.AddInt64(&s.metrics.ErrorCount, 1)
			} else {
				atomic.AddInt64(&s.metrics.TotalComments, 1)
			}
		}
	}
}

// --- REST calls ---

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.EngineURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if !env.Success {
		code := "UNKNOWN"
		if env.Error != nil {
			code = env.Error.Code
		}
		return nil, fmt.Errorf("api error: %s", code)
	}
	return env.Data, nil
}

func (s *Simulator) register(ctx context.Context, username string) (*simUser, error) {
	data, err := s.call(ctx, http.MethodPost, "/users", "", map[string]string{"username": username})
	if err != nil {
		return nil, err
	}
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &simUser{id: out.User.ID, token: out.Token, sync: client.NewSync()}, nil
}

func (s *Simulator) createPost(ctx context.Context, u *simUser, title string) (string, error) {
	data, err := s.call(ctx, http.MethodPost, "/posts", u.token, map[string]any{
		"title":   title,
		"content": "Synthetic load content.",
		"tags":    []string{"simulation"},
	})
	if err != nil {
		return "", err
	}
	var post struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &post); err != nil {
		return "", err
	}
	return post.ID, nil
}

func (s *Simulator) createComment(ctx context.Context, u *simUser) error {
	_, err := s.call(ctx, http.MethodPost, "/comments", u.token, map[string]string{
		"rootId":  s.randomPost(),
		"content": fmt.Sprintf("Synthetic comment at %s", time.Now().Format(time.RFC3339Nano)),
	})
	return err
}

func (s *Simulator) castVote(ctx context.Context, u *simUser) error {
	voteType := 1
	if rand.Float64() < 0.25 {
		voteType = -1
	}
	postID := s.randomPost()

	seq := u.sync.NextSeq()
	data, err := s.call(ctx, http.MethodPost, "/posts/"+postID+"/vote", u.token, map[string]int{"voteType": voteType})
	if err != nil {
		return err
	}
	var result struct {
		Upvotes   int `json:"upvoteCount"`
		Downvotes int `json:"downvoteCount"`
		VoteScore int `json:"voteScore"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}

	// Fold the response into the facade; a stale one is silently dropped.
	if id, err := uuid.Parse(postID); err == nil {
		u.sync.AcceptResponse(seq, client.SubjectView{
			ID:        id,
			Upvotes:   result.Upvotes,
			Downvotes: result.Downvotes,
			VoteScore: result.VoteScore,
		})
	}
	return nil
}

func (s *Simulator) randomPost() string {
	s.postsMu.Lock()
	defer s.postsMu.Unlock()
	return s.posts[rand.Intn(len(s.posts))]
}

// --- websocket lifecycle ---

func (s *Simulator) connect(u *simUser) {
	u.sync.SetState(client.Connecting)

	wsURL := strings.Replace(s.cfg.EngineURL, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(u.token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		s.logger.Warn("websocket dial failed", "user", u.id, "error", err)
		u.sync.SetState(client.Disconnected)
		atomic.AddInt64(&s.metrics.ErrorCount, 1)
		return
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	u.sync.SetState(client.Connected)

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				u.sync.SetState(client.Disconnected)
				return
			}
			// The hub batches queued events into one frame.
			for _, event := range hubws.SplitFrame(raw) {
				if err := u.sync.ApplyEvent(event); err == nil {
					atomic.AddInt64(&s.metrics.EventsApplied, 1)
				}
			}
		}
	}()
}

// disconnect tears the socket down before any reconnect attempt so two
// live connections never race on one facade.
func (s *Simulator) disconnect(u *simUser) {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	u.sync.SetState(client.Disconnected)
}
