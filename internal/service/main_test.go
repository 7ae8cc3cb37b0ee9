package service

import (
	"os"
	"sync"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/parlorhq/parlor/internal/entity"
	"github.com/parlorhq/parlor/internal/repository"
)

// Service tests exercise the real store underneath. Point
// PARLOR_TEST_MYSQL_DSN at a throwaway database to enable them.
const testDsnEnv = "PARLOR_TEST_MYSQL_DSN"

var testTables = []string{
	"users", "channels", "channel_members",
	"dm_threads", "dm_thread_members",
	"messages", "reactions", "pins", "read_pointers",
}

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()

	dsn := os.Getenv(testDsnEnv)
	if dsn == "" {
		t.Skipf("set %s to run service tests against MySQL", testDsnEnv)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}

	err = db.AutoMigrate(
		&entity.User{},
		&entity.Channel{},
		&entity.ChannelMember{},
		&entity.DmThread{},
		&entity.DmThreadMember{},
		&entity.Message{},
		&entity.Reaction{},
		&entity.Pin{},
		&entity.ReadPointer{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range testTables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}

	return &repository.Repositories{
		DB:           db,
		User:         repository.NewUserRepo(db),
		Conversation: repository.NewConversationRepo(db),
		Message:      repository.NewMessageRepo(db),
		Reaction:     repository.NewReactionRepo(db),
		Read:         repository.NewReadRepo(db),
	}
}

// spyPublisher records published deltas in place of the realtime server
type spyPublisher struct {
	mu     sync.Mutex
	events []spyEvent
}

type spyEvent struct {
	roomKey string
	event   string
	data    interface{}
}

func (s *spyPublisher) Publish(roomKey, event string, data interface{}, excludeConnId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, spyEvent{roomKey: roomKey, event: event, data: data})
}

func (s *spyPublisher) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.event == event {
			n++
		}
	}
	return n
}
