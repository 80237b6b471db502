package service

import (
	"context"
	"sync"
	"testing"

	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/queue"
	"github.com/iliyamo/gear-rental/internal/repository"
	"github.com/iliyamo/gear-rental/internal/testfixtures"
)

type testEnv struct {
	db       *database.DB
	clock    *testfixtures.Clock
	events   *recordingPublisher
	cache    *countingInvalidator
	sessions *SessionStore
	users    *UserService
	gear     *GearService
	requests *RequestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testfixtures.NewSQLite(t)
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	events := &recordingPublisher{}
	cache := &countingInvalidator{}

	userRepo := repository.NewUserRepo(db)
	gearRepo := repository.NewGearRepo(db)
	sessions := NewSessionStore(repository.NewSessionRepo(db), userRepo, 0, clock.Now, nil)
	return &testEnv{
		db:       db,
		clock:    clock,
		events:   events,
		cache:    cache,
		sessions: sessions,
		users:    NewUserService(db, userRepo, sessions, 4, clock.Now, nil),
		gear:     NewGearService(gearRepo, events, cache, clock.Now, nil),
		requests: NewRequestService(db, repository.NewRequestRepo(db), gearRepo, events, cache, clock.Now, nil),
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []queue.RequestStatusChanged
	images   []queue.GearImageReleased
}

func (p *recordingPublisher) PublishRequestStatusChanged(_ context.Context, ev queue.RequestStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev)
	return nil
}

func (p *recordingPublisher) PublishGearImageReleased(_ context.Context, ev queue.GearImageReleased) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, ev)
	return nil
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) InvalidateGear(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
