package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/buzz"
	"trivia-board-service/internal/domain"
)

// TimestampSource decides which clock orders buzzes.
type TimestampSource string

const (
	// TimestampClient orders by the press time reported by the participant's device.
	TimestampClient TimestampSource = "client"
	// TimestampServer orders by the time the server accepted the buzz.
	TimestampServer TimestampSource = "server"
)

// ParseTimestampSource accepts the configured source; empty means client.
func ParseTimestampSource(raw string) (TimestampSource, error) {
	switch TimestampSource(raw) {
	case "", TimestampClient:
		return TimestampClient, nil
	case TimestampServer:
		return TimestampServer, nil
	}
	return "", fmt.Errorf("unknown buzz timestamp source %q", raw)
}

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	GameID string
	// InstanceID identifies this process on the broadcast channel. Events whose origin
	// matches it were produced here and are persisted here.
	InstanceID     string
	Board          domain.Board
	Teams          []domain.Team
	Channel        *broadcast.Channel
	Ledger         Ledger
	Store          GameStore
	Reconciler     *Reconciler
	Wager          WagerPolicy
	Timestamps     TimestampSource
	Retry          RetryPolicy
	Clock          clockwork.Clock
	PersistTimeout time.Duration
}

// Session is the local projection of one live game. All mutations go through named
// actions, which publish events, and the channel handlers, which apply them.
type Session struct {
	id             string
	instanceID     string
	board          domain.Board
	channel        *broadcast.Channel
	ledger         Ledger
	store          GameStore
	reconciler     *Reconciler
	wager          WagerPolicy
	timestamps     TimestampSource
	retry          RetryPolicy
	clock          clockwork.Clock
	persistTimeout time.Duration
	createdAt      time.Time

	startMu sync.Mutex
	started bool

	inflight sync.WaitGroup
	wake     chan struct{}
	done     chan struct{}

	mu           sync.Mutex
	closed       bool
	detached     bool
	sub          *broadcast.Subscription
	participants map[string]domain.Participant
	subscribers  map[chan domain.GameView]domain.Role
	jobs         []persistJob

	teams          map[string]*domain.Team
	used           map[string]bool
	active         *domain.ActiveQuestionState
	queue          *buzz.Queue
	lockedOut      map[string]bool
	explicitChoice bool
	finalOpen      bool
	lastResolution *domain.Resolution

	applied       map[domain.ScoreKey]bool
	settled       map[domain.ScoreKey]bool
	unsettled     map[domain.ScoreKey]int
	pendingHosts  map[domain.ScoreKey]string
	pendingScores map[string]int

	stale       bool
	warning     string
	reconciling int
	buffered    []broadcast.Event
}

type persistJob struct {
	op string
	fn func(ctx context.Context) error
}

// NewSession builds an idle session. Call Start to attach it to the broadcast channel.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.Wager.Kind == "" {
		cfg.Wager = DefaultWagerPolicy()
	}
	if cfg.Timestamps == "" {
		cfg.Timestamps = TimestampClient
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialInterval == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	s := &Session{
		id:             cfg.GameID,
		instanceID:     cfg.InstanceID,
		board:          cfg.Board,
		channel:        cfg.Channel,
		ledger:         cfg.Ledger,
		store:          cfg.Store,
		reconciler:     cfg.Reconciler,
		wager:          cfg.Wager,
		timestamps:     cfg.Timestamps,
		retry:          cfg.Retry,
		clock:          cfg.Clock,
		persistTimeout: cfg.PersistTimeout,
		createdAt:      cfg.Clock.Now(),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		participants:   make(map[string]domain.Participant),
		subscribers:    make(map[chan domain.GameView]domain.Role),
		teams:          make(map[string]*domain.Team),
		used:           make(map[string]bool),
		queue:          buzz.NewQueue(),
		lockedOut:      make(map[string]bool),
		applied:        make(map[domain.ScoreKey]bool),
		settled:        make(map[domain.ScoreKey]bool),
		unsettled:      make(map[domain.ScoreKey]int),
		pendingHosts:   make(map[domain.ScoreKey]string),
		pendingScores:  make(map[string]int),
	}
	for _, t := range cfg.Teams {
		team := t
		s.teams[t.ID] = &team
	}
	go s.runPersistence()
	return s
}

// ID is the game id.
func (s *Session) ID() string { return s.id }

// Start subscribes to the game topic and reconciles with the backend. A failed
// reconciliation leaves the session usable with a stale view.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return nil
	}
	if err := s.attach(); err != nil {
		return err
	}
	s.started = true

	if s.reconciler != nil {
		if _, err := s.Reconcile(ctx); err != nil {
			log.Warn().Err(err).Str("game_id", s.id).Msg("initial reconciliation failed, serving last-known state")
		}
	}
	return nil
}

// attach registers the session's handlers on the game topic.
func (s *Session) attach() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.mu.Unlock()

	sub, err := s.channel.Subscribe(s.id, s.instanceID, s.handlers())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = sub.Close()
		return domain.ErrSessionClosed
	}
	s.sub = sub
	return nil
}

// Close detaches the session. In-flight backend mutations still run to completion but
// their results are no longer applied.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	sub := s.sub
	s.sub = nil
	close(s.done)
	lifetime := s.clock.Since(s.createdAt)
	s.mu.Unlock()

	log.Debug().Str("game_id", s.id).Dur("lifetime", lifetime).Msg("game session detached")

	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("game_id", s.id).Msg("closing game subscription")
		}
	}
}

// Wait blocks until queued persistence and in-flight ledger calls have finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) handlers() broadcast.Handlers {
	recv := func(env broadcast.Envelope, body broadcast.Payload) {
		s.receive(broadcast.Event{Envelope: env, Body: body})
	}
	return broadcast.Handlers{
		OnQuestionSelected: func(e broadcast.Envelope, p broadcast.QuestionSelected) { recv(e, p) },
		OnBuzz:             func(e broadcast.Envelope, p broadcast.Buzz) { recv(e, p) },
		OnClear:            func(e broadcast.Envelope, p broadcast.BuzzersCleared) { recv(e, p) },
		OnTeamChosen:       func(e broadcast.Envelope, p broadcast.TeamChosen) { recv(e, p) },
		OnWager:            func(e broadcast.Envelope, p broadcast.WagerSubmitted) { recv(e, p) },
		OnJudged:           func(e broadcast.Envelope, p broadcast.AnswerJudged) { recv(e, p) },
		OnQuestionClosed:   func(e broadcast.Envelope, p broadcast.QuestionClosed) { recv(e, p) },
		OnFinalOpened:      func(e broadcast.Envelope, p broadcast.FinalOpened) { recv(e, p) },
		OnFinalWager:       func(e broadcast.Envelope, p broadcast.FinalWager) { recv(e, p) },
		OnFinalAnswer:      func(e broadcast.Envelope, p broadcast.FinalAnswer) { recv(e, p) },
		OnFinalJudged:      func(e broadcast.Envelope, p broadcast.FinalJudged) { recv(e, p) },
	}
}

// receive applies an inbound event, or buffers it while a reconciliation fetch is pending.
func (s *Session) receive(ev broadcast.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.reconciling > 0 {
		s.buffered = append(s.buffered, ev)
		return
	}
	if s.applyLocked(ev) {
		s.broadcastLocked()
	}
}

func (s *Session) local(env broadcast.Envelope) bool {
	return env.Origin == s.instanceID
}

func (s *Session) join(p domain.Participant) (domain.GameView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.detached {
		return domain.GameView{}, domain.ErrSessionClosed
	}
	s.participants[p.ClientID] = p
	return s.snapshotLocked(p.Role), nil
}

func (s *Session) leave(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, clientID)
}

// Detach marks a session without participants as leaving its repository and reports whether
// it did. Joins on a detached session fail with ErrSessionClosed.
func (s *Session) Detach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.participants) > 0 {
		return false
	}
	s.detached = true
	return true
}

func (s *Session) hasTeam(teamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.teams[teamID]
	return ok
}

// View returns the current snapshot as seen by role.
func (s *Session) View(role domain.Role) domain.GameView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(role)
}

// DismissWarning clears the surfaced backend warning.
func (s *Session) DismissWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warning != "" {
		s.warning = ""
		s.broadcastLocked()
	}
}

func (s *Session) subscribe(role domain.Role) (<-chan domain.GameView, func()) {
	ch := make(chan domain.GameView, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = role
	initial := s.snapshotLocked(role)
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() {
	hostView := s.snapshotLocked(domain.RoleHost)
	publicView := s.snapshotLocked(domain.RolePlayer)
	for ch, role := range s.subscribers {
		view := publicView
		if role == domain.RoleHost {
			view = hostView
		}
		select {
		case ch <- view:
		default:
			// Slow readers only need the latest snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

func (s *Session) snapshotLocked(role domain.Role) domain.GameView {
	view := domain.GameView{
		GameID:        s.id,
		Phase:         domain.PhaseIdle,
		Queue:         s.queue.Entries(),
		UsedQuestions: make([]string, 0, len(s.used)),
		Teams:         make([]domain.TeamStanding, 0, len(s.teams)),
		FinalOpen:     s.finalOpen,
		Stale:         s.stale,
		Warning:       s.warning,
		UpdatedAt:     s.clock.Now(),
	}
	if s.active != nil {
		active := *s.active
		view.Active = &active
		view.Phase = active.Phase
		if q, ok := s.board.Question(active.QuestionID); ok {
			if role != domain.RoleHost {
				q.Answer = ""
			}
			view.Question = &q
		}
	}
	if s.lastResolution != nil {
		r := *s.lastResolution
		view.LastResolution = &r
	}
	for id := range s.used {
		view.UsedQuestions = append(view.UsedQuestions, id)
	}
	sort.Strings(view.UsedQuestions)

	for _, team := range s.teams {
		standing := domain.TeamStanding{TeamID: team.ID, Name: team.Name, Score: team.Score}
		if s.finalOpen {
			final := copyFinal(team.Final)
			if role != domain.RoleHost {
				// Wagers and answers stay private until judged.
				if final.Judgment == "" {
					final.Wager = nil
					final.Answer = ""
				}
			}
			standing.Final = &final
		}
		view.Teams = append(view.Teams, standing)
	}
	sort.Slice(view.Teams, func(i, j int) bool {
		if view.Teams[i].Score != view.Teams[j].Score {
			return view.Teams[i].Score > view.Teams[j].Score
		}
		return view.Teams[i].Name < view.Teams[j].Name
	})
	return view
}

// enqueuePersistLocked schedules a store write. Writes run one at a time in enqueue order so
// a later marker update can never be overtaken by an earlier one.
func (s *Session) enqueuePersistLocked(op string, fn func(ctx context.Context) error) {
	if s.store == nil {
		return
	}
	s.inflight.Add(1)
	s.jobs = append(s.jobs, persistJob{op: op, fn: fn})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) runPersistence() {
	for {
		s.mu.Lock()
		jobs := s.jobs
		s.jobs = nil
		closed := s.closed
		s.mu.Unlock()

		for _, job := range jobs {
			s.runJob(job)
		}
		if len(jobs) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-s.wake:
		case <-s.done:
		}
	}
}

func (s *Session) runJob(job persistJob) {
	defer s.inflight.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	err := s.retry.retry(ctx, job.op, func() error { return job.fn(ctx) })
	if err == nil {
		return
	}
	log.Error().Err(err).Str("game_id", s.id).Str("op", job.op).Msg("persisting game state failed")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.warning = fmt.Sprintf("%s failed: %v", job.op, err)
	s.broadcastLocked()
}

// persistScoreLocked sends a delta to the ledger without blocking the session. The local
// projection already carries the optimistic delta; the ledger result replaces it once no
// other delta for the team is still in flight.
func (s *Session) persistScoreLocked(delta domain.ScoreDelta) {
	if s.ledger == nil {
		return
	}
	s.inflight.Add(1)
	s.pendingScores[delta.TeamID]++

	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()

		result, err := s.ledger.ApplyScoreDelta(ctx, delta)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.pendingScores[delta.TeamID]--
		if s.closed {
			log.Debug().Str("game_id", s.id).Str("key", delta.Key.String()).Msg("score result arrived after session closed")
			return
		}
		if err != nil {
			log.Error().Err(err).
				Str("game_id", s.id).
				Str("team_id", delta.TeamID).
				Str("key", delta.Key.String()).
				Int("delta", delta.Delta).
				Msg("score update failed")
			s.warning = fmt.Sprintf("score update for team %s failed: %v", delta.TeamID, err)
			s.broadcastLocked()
			return
		}
		if !result.Applied {
			log.Info().Str("game_id", s.id).Str("key", delta.Key.String()).Msg("score delta already applied")
		}
		if team, ok := s.teams[delta.TeamID]; ok && s.pendingScores[delta.TeamID] == 0 {
			team.Score = result.NewScore
		}
		s.broadcastLocked()
	}()
}
